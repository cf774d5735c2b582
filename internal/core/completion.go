package core

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/llm"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/metrics"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/tracing"
)

// FallbackReply replaces the model message whenever a completion fails.
const FallbackReply = "Oops! Something went wrong. Please try again."

const (
	defaultCompletionTimeout = 60 * time.Second

	codeStyleDirective = "When your answer contains code, put it in fenced Markdown code blocks " +
		"tagged with the language, keep it idiomatic and minimal, and explain it briefly after the block."
)

// Persona preambles selected by AISettings.IntelligentMode.
var personas = map[string]string{
	"balanced": "You are a helpful, friendly assistant. Give clear, accurate answers " +
		"and keep them reasonably concise.",
	"creative": "You are an imaginative assistant. Offer original ideas, vivid wording " +
		"and alternative angles while staying on topic.",
	"precise": "You are a precise assistant. Answer directly, prefer facts over opinion, " +
		"and say so plainly when you are unsure.",
	"expert": "You are a domain expert. Give in-depth, technically rigorous answers " +
		"and point out trade-offs and edge cases.",
}

// IntelligentModes lists the accepted persona names.
func IntelligentModes() []string {
	return []string{"balanced", "creative", "precise", "expert"}
}

// BuildSystemInstruction joins the persona preamble, the user's own
// instruction and the code-style directive with blank lines.
func BuildSystemInstruction(settings store.AISettings) string {
	persona, ok := personas[settings.IntelligentMode]
	if !ok {
		persona = personas["balanced"]
	}
	parts := []string{persona}
	if instr := strings.TrimSpace(settings.SystemInstruction); instr != "" {
		parts = append(parts, instr)
	}
	if settings.CodeStyle {
		parts = append(parts, codeStyleDirective)
	}
	return strings.Join(parts, "\n\n")
}

// CompletionService turns a transcript plus settings into one provider call.
// A nil client means no credential was configured.
type CompletionService struct {
	client  llm.Client
	timeout time.Duration
	logger  *logger.Logger
}

func NewCompletionService(client llm.Client, timeout time.Duration, log *logger.Logger) *CompletionService {
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &CompletionService{client: client, timeout: timeout, logger: log}
}

// Available reports whether a provider client is configured.
func (c *CompletionService) Available() bool {
	return c != nil && c.client != nil
}

func (c *CompletionService) Provider() string {
	if !c.Available() {
		return ""
	}
	return c.client.Name()
}

func (c *CompletionService) Models() []string {
	if !c.Available() {
		return []string{store.DefaultModel}
	}
	return c.client.Models()
}

// BuildRequest maps history and settings onto a provider-neutral request,
// keeping message order and roles.
func BuildRequest(history []store.Message, settings store.AISettings) *llm.CompletionRequest {
	msgs := make([]llm.ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Text})
	}
	return &llm.CompletionRequest{
		Model:             settings.Model,
		Messages:          msgs,
		SystemInstruction: BuildSystemInstruction(settings),
		Temperature:       settings.Temperature,
		TopK:              settings.TopK,
		TopP:              settings.TopP,
	}
}

// Reply answers the last user message in history. It never fails: any error
// becomes FallbackReply.
func (c *CompletionService) Reply(ctx context.Context, history []store.Message, settings store.AISettings) store.Message {
	if !c.Available() {
		return store.Message{Role: store.RoleModel, Text: FallbackReply}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracing.Tracer("ahm-ai/core").Start(ctx, "completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.client.Name()),
		attribute.String("llm.model", settings.Model),
		attribute.Int("llm.history_length", len(history)),
	)

	start := time.Now()
	text, err := c.client.Complete(ctx, BuildRequest(history, settings))
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordCompletion(c.client.Name(), settings.Model, "error", elapsed.Seconds())
		c.logger.Error("completion request failed",
			zap.String("provider", c.client.Name()),
			zap.String("model", settings.Model),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return store.Message{Role: store.RoleModel, Text: FallbackReply}
	}

	metrics.RecordCompletion(c.client.Name(), settings.Model, "success", elapsed.Seconds())
	c.logger.Debug("completion request succeeded",
		zap.String("provider", c.client.Name()),
		zap.Duration("duration", elapsed),
	)
	return store.Message{Role: store.RoleModel, Text: text}
}
