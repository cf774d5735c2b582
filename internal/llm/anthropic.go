package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var anthropicModels = []string{
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-opus-20240229",
}

const (
	anthropicMaxTokens      = 4096
	anthropicMaxTemperature = 1.0
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (c *AnthropicClient) Name() string { return string(ProviderAnthropic) }

func (c *AnthropicClient) Models() []string { return anthropicModels }

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if err := validateHistory(req.Messages); err != nil {
		return "", err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(resolveModel(req.Model, anthropicModels)),
		MaxTokens:   anthropic.F(int64(maxTokens)),
		Messages:    anthropic.F(toAnthropicMessages(req.Messages)),
		Temperature: anthropic.F(anthropicTemperature(req.Temperature)),
	}
	if req.SystemInstruction != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(req.SystemInstruction),
		}})
	}
	if req.TopK > 0 {
		params.TopK = anthropic.F(int64(req.TopK))
	}
	if req.TopP > 0 {
		params.TopP = anthropic.F(float64(req.TopP))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages request failed: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// anthropicTemperature clamps into Anthropic's [0, 1]; settings allow up to 2.
func anthropicTemperature(t float32) float64 {
	return math.Min(math.Max(float64(t), 0), anthropicMaxTemperature)
}

func toAnthropicMessages(msgs []ChatMessage) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, len(msgs))
	for i, msg := range msgs {
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleModel {
			role = anthropic.MessageParamRoleAssistant
		}
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(role),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}
	return messages
}
