// Package anthropic speaks the Anthropic messages wire format. The system
// message travels in a dedicated field, not the messages array.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/httputil"
	"github.com/andremlopes/storebridge/internal/provider"
)

const anthropicVersion = "2023-06-01"

const defaultMaxTokens = 4096

type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		client:  httputil.StreamingClient(),
	}
}

func NewWithClient(baseURL string, client *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, client: client}
}

func (a *Adapter) ID() domain.ProviderID {
	return domain.ProviderAnthropic
}

type messagesRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

func (a *Adapter) Invoke(ctx context.Context, req domain.ChatRequest, creds provider.Credentials) (*provider.RawResponse, error) {
	if creds.APIKey == "" {
		return nil, &domain.KeyMissingError{Provider: a.ID()}
	}

	body, err := json.Marshal(toMessagesRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := a.baseURL
	if creds.APIBase != "" {
		baseURL = creds.APIBase
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", creds.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.ProviderError{Provider: a.ID(), Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	return &provider.RawResponse{Format: provider.FormatAnthropic, Body: resp.Body}, nil
}

func toMessagesRequest(req domain.ChatRequest) messagesRequest {
	var system string
	messages := make([]domain.Message, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return messagesRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: req.Temperature,
		Stream:      true,
	}
}
