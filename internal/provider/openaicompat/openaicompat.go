// Package openaicompat speaks the OpenAI chat-completions wire format,
// which several upstreams implement verbatim.
package openaicompat

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
	return domain.ProviderOpenAI
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
}

func (a *Adapter) Invoke(ctx context.Context, req domain.ChatRequest, creds provider.Credentials) (*provider.RawResponse, error) {
	if creds.APIKey == "" {
		return nil, &domain.KeyMissingError{Provider: a.ID()}
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := a.baseURL
	if creds.APIBase != "" {
		baseURL = creds.APIBase
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
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

	return &provider.RawResponse{Format: provider.FormatOpenAI, Body: resp.Body}, nil
}
