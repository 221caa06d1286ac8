package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	// OAuth client registered with the authorization server.
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	OAuthScopes       []string
	OAuthSuccessURL   string

	// Static provider credentials. A provider with no static key and no
	// authorized store is not selectable.
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
	GeminiBaseURL    string

	OpenAIModel    string
	AnthropicModel string
	GeminiModel    string

	// ProviderPriority is the selection order when the request carries no
	// provider hint.
	ProviderPriority []string

	SystemPrompt string

	// Stores is the startup store registry, "key=label" pairs.
	Stores map[string]string

	// StoreAPIBases pins an upstream endpoint per store, "key=url" pairs.
	// Stores absent here use each provider's default endpoint.
	StoreAPIBases map[string]string

	// GatewayKeyHash is the bcrypt hash inbound API keys are checked against.
	// Empty disables inbound auth.
	GatewayKeyHash string

	// VaultPassphrase seals refresh tokens at rest. Required for the Redis
	// and Postgres vault backends.
	VaultPassphrase string

	AWSRegion    string
	SecretName   string
	SNSTopicARN  string
	SQSQueueURL  string
	OTLPEndpoint string

	ShutdownTimeout   time.Duration
	StreamIdleTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", ""),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthRedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
		OAuthScopes:       splitList(getEnv("OAUTH_SCOPES", "")),
		OAuthSuccessURL:   getEnv("OAUTH_SUCCESS_URL", "/"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-20241022"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		ProviderPriority: splitList(getEnv("PROVIDER_PRIORITY", "openai,anthropic,gemini")),

		SystemPrompt: getEnv("SYSTEM_PROMPT", ""),

		Stores:        parseStores(getEnv("STORES", "")),
		StoreAPIBases: parseEndpoints(getEnv("STORE_API_BASES", "")),

		GatewayKeyHash: getEnv("GATEWAY_KEY_HASH", ""),

		VaultPassphrase: getEnv("VAULT_PASSPHRASE", ""),

		AWSRegion:    getEnv("AWS_REGION", ""),
		SecretName:   getEnv("SECRET_NAME", ""),
		SNSTopicARN:  getEnv("SNS_TOPIC_ARN", ""),
		SQSQueueURL:  getEnv("SQS_QUEUE_URL", ""),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		ShutdownTimeout:   getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		StreamIdleTimeout: getDurationEnv("STREAM_IDLE_TIMEOUT", 90*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseEndpoints parses "key=url,key2=url2". Pairs without a url are
// dropped; there is no sensible default endpoint to fall back to.
func parseEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	for _, pair := range splitList(value) {
		key, url, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		url = strings.TrimSpace(url)
		if key == "" || !found || url == "" {
			continue
		}
		endpoints[key] = url
	}
	return endpoints
}

// parseStores parses "key=label,key2=label2". A pair without a label uses
// the key as its label.
func parseStores(value string) map[string]string {
	stores := make(map[string]string)
	for _, pair := range splitList(value) {
		key, label, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found || strings.TrimSpace(label) == "" {
			label = key
		}
		stores[key] = strings.TrimSpace(label)
	}
	return stores
}
