package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HTTP_HOST", "127.0.0.1")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("COMPLETION_TIMEOUT", "not-a-duration")
	t.Setenv("TRACING_ENABLED", "true")

	LoadConfig()

	assert.Equal(t, "gemini", AppConfig.LLMProvider)
	assert.Equal(t, "9090", AppConfig.HTTPPort)
	assert.Equal(t, 60*time.Second, AppConfig.CompletionTimeout)
	assert.True(t, AppConfig.TracingEnabled)
	assert.False(t, AppConfig.PublicBaseURLSet)
	assert.Equal(t, "http://127.0.0.1:9090", AppConfig.PublicBaseURL)
	assert.Empty(t, AppConfig.APIKey())
}

func TestExplicitPublicBaseURLIsKept(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://chat.example.com")

	LoadConfig()

	assert.True(t, AppConfig.PublicBaseURLSet)
	assert.Equal(t, "https://chat.example.com", AppConfig.PublicBaseURL)

	cfg := AppConfig
	cfg.HTTPPort = "7070"
	cfg.ResolvePublicBaseURL()
	assert.Equal(t, "https://chat.example.com", cfg.PublicBaseURL)
}

func TestResolvePublicBaseURL(t *testing.T) {
	cfg := Config{HTTPHost: "::1", HTTPPort: "8081"}
	cfg.ResolvePublicBaseURL()
	assert.Equal(t, "http://[::1]:8081", cfg.PublicBaseURL)
}

func TestAPIKeyFollowsProvider(t *testing.T) {
	cfg := Config{
		LLMProvider:     "anthropic",
		GeminiAPIKey:    "g",
		OpenAIAPIKey:    "o",
		AnthropicAPIKey: "a",
	}
	assert.Equal(t, "a", cfg.APIKey())

	cfg.LLMProvider = "openai"
	assert.Equal(t, "o", cfg.APIKey())

	cfg.LLMProvider = "something-else"
	assert.Equal(t, "g", cfg.APIKey())
}
