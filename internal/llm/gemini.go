package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var geminiModels = []string{
	"gemini-1.5-flash-latest",
	"gemini-1.5-pro-latest",
	"gemini-2.0-flash",
}

type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Name() string { return string(ProviderGemini) }

func (c *GeminiClient) Models() []string { return geminiModels }

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	history, last, err := toGeminiHistory(req.Messages)
	if err != nil {
		return "", err
	}

	model := c.client.GenerativeModel(resolveModel(req.Model, geminiModels))
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}
	model.SetTemperature(req.Temperature)
	if req.TopK > 0 {
		model.SetTopK(req.TopK)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	chatSession := model.StartChat()
	chatSession.History = history

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return geminiResponseText(resp)
}

// toGeminiHistory splits messages into prior history and the final user turn.
func toGeminiHistory(msgs []ChatMessage) ([]*genai.Content, *genai.Content, error) {
	if err := validateHistory(msgs); err != nil {
		return nil, nil, err
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		contents = append(contents, &genai.Content{
			Role:  msg.Role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents[:len(contents)-1], contents[len(contents)-1], nil
}

func geminiResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if responseText.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return responseText.String(), nil
}
