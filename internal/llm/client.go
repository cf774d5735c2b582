// Package llm provides completion clients for the hosted model APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned when a client is built without a credential.
	ErrMissingAPIKey = errors.New("API key is required")
	// ErrEmptyResponse is returned when the provider answered without any text.
	ErrEmptyResponse = errors.New("empty completion response")
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage is one turn of history. Role is "user" or "model".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral completion request. The last
// message must be the user turn being answered.
type CompletionRequest struct {
	Model             string
	Messages          []ChatMessage
	SystemInstruction string
	Temperature       float32
	TopK              int32
	TopP              float32
	MaxTokens         int
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends one request and returns the reply text.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Name returns the provider name.
	Name() string

	// Models returns selectable models, default first.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, provider Provider, apiKey string) (Client, error) {
	// A failed constructor must not leak a typed nil into the interface.
	switch provider {
	case ProviderGemini, "":
		c, err := NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		c, err := NewOpenAIClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderAnthropic:
		c, err := NewAnthropicClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// resolveModel returns requested when the provider offers it, otherwise the
// provider's default. Settings saved under one provider keep working after
// switching to another.
func resolveModel(requested string, models []string) string {
	for _, m := range models {
		if m == requested {
			return m
		}
	}
	return models[0]
}

func validateHistory(msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return fmt.Errorf("prompt history is empty for chat completion")
	}
	if msgs[len(msgs)-1].Role != RoleUser {
		return fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}
	return nil
}
