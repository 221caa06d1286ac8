package domain

import "time"

// ProviderID enumerates the upstream wire formats the gateway speaks.
// The set is closed: adding a provider means adding a constant and an
// adapter package, never touching dispatch logic.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
)

// Store is one independent tenant identity with its own credentials.
// Identities are loaded at startup and immutable afterwards.
type Store struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CredentialRecord holds the OAuth state for one store. It is owned
// exclusively by the vault; the broker is the only writer.
type CredentialRecord struct {
	RefreshToken      string    `json:"refresh_token,omitempty"`
	AccessToken       string    `json:"access_token,omitempty"`
	AccessTokenExpiry time.Time `json:"access_token_expiry,omitempty"`
	APIBase           string    `json:"api_base,omitempty"`
}

// Authorized reports whether the store has ever completed the consent flow.
func (c *CredentialRecord) Authorized() bool {
	return c != nil && c.RefreshToken != ""
}

type ChatRequest struct {
	Messages    []Message  `json:"messages"`
	Model       string     `json:"model,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Provider    ProviderID `json:"provider,omitempty"`
	StoreKey    string     `json:"store,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HasSystemMessage reports whether the caller supplied a system message.
func (r ChatRequest) HasSystemMessage() bool {
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			return true
		}
	}
	return false
}

// Selection is the resolved provider and model for one request. It is
// derived once per request and never mutated mid-stream.
type Selection struct {
	Provider ProviderID
	Model    string
}
