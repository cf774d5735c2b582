package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

type Config struct {
	// LLM credentials. Only the key for LLMProvider is required; a missing
	// key disables sending instead of stopping the process.
	LLMProvider     string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	DatabaseURL       string
	StorageQuotaBytes int

	HTTPHost      string
	HTTPPort      string
	PublicBaseURL string
	// PublicBaseURLSet is true when PUBLIC_BASE_URL was given. Otherwise the
	// base follows the listen address.
	PublicBaseURLSet bool

	CompletionTimeout time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string

	TracingEnabled  bool
	TracingEndpoint string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		logger.Global().Debug("no .env file found, relying on environment variables", zap.Error(err))
	}

	AppConfig = Config{
		LLMProvider:     getEnv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		DatabaseURL:       getEnv("DATABASE_URL", "ahm_ai.db"),
		StorageQuotaBytes: getEnvAsInt("STORAGE_QUOTA_BYTES", 5*1024*1024),

		HTTPHost:      getEnv("HTTP_HOST", "127.0.0.1"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		CompletionTimeout: getEnvAsDuration("COMPLETION_TIMEOUT", 60*time.Second),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
	}

	AppConfig.PublicBaseURLSet = AppConfig.PublicBaseURL != ""
	AppConfig.ResolvePublicBaseURL()
}

// ResolvePublicBaseURL derives PublicBaseURL from HTTPHost and HTTPPort
// unless it was set explicitly. Call it again after overriding either.
func (c *Config) ResolvePublicBaseURL() {
	if c.PublicBaseURLSet {
		return
	}
	c.PublicBaseURL = "http://" + net.JoinHostPort(c.HTTPHost, c.HTTPPort)
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	default:
		return c.GeminiAPIKey
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
