// Package gemini speaks the generateContent wire format. There is no
// multi-turn streaming here: the conversation is flattened into a single
// prompt, the call is non-streaming, and the full reply is sliced into
// small chunks so downstream normalization is uniform with the streaming
// providers.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/httputil"
	"github.com/andremlopes/storebridge/internal/provider"
)

// chunkSize is the synthetic token granularity in runes. The external
// contract only requires small increments, not per-character ones.
const chunkSize = 8

type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		client:  httputil.DefaultClient(),
	}
}

func NewWithClient(baseURL string, client *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, client: client}
}

func (a *Adapter) ID() domain.ProviderID {
	return domain.ProviderGemini
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (a *Adapter) Invoke(ctx context.Context, req domain.ChatRequest, creds provider.Credentials) (*provider.RawResponse, error) {
	if creds.Empty() {
		return nil, &domain.KeyMissingError{Provider: a.ID()}
	}

	genReq := generateRequest{
		Contents: []content{{Parts: []part{{Text: flattenConversation(req.Messages)}}}},
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		genReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := a.baseURL
	if creds.APIBase != "" {
		baseURL = creds.APIBase
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if creds.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	} else {
		httpReq.Header.Set("x-goog-api-key", creds.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &domain.ProviderError{Provider: a.ID(), Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text, err := extractText(genResp)
	if err != nil {
		return nil, err
	}

	return &provider.RawResponse{Format: provider.FormatChunks, Chunks: sliceChunks(text)}, nil
}

// flattenConversation renders the turns as "ROLE: content" lines; the
// system message is excluded because the prompt format has no place for it.
func flattenConversation(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func extractText(resp generateResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response: %w", domain.ErrMalformedResponse)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// sliceChunks splits the full reply into rune-safe chunks.
func sliceChunks(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+chunkSize-1)/chunkSize)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
