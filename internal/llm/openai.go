package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
)

var openAIModels = []string{
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4-turbo",
}

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

func (c *OpenAIClient) Name() string { return string(ProviderOpenAI) }

func (c *OpenAIClient) Models() []string { return openAIModels }

// Complete sends a completion request. OpenAI has no top-K parameter.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if err := validateHistory(req.Messages); err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       resolveModel(req.Model, openAIModels),
		Messages:    toOpenAIMessages(req.SystemInstruction, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: openAITemperature(req.Temperature),
		TopP:        req.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// openAITemperature keeps an explicit 0 on the wire. go-openai omits a zero
// Temperature, which the API then treats as its default of 1.
func openAITemperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func toOpenAIMessages(system string, msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range msgs {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
