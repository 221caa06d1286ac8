package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/provider"
)

func TestToMessagesRequest_SystemSplit(t *testing.T) {
	req := domain.ChatRequest{
		Model: "claude-3-5-haiku-latest",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
		},
	}

	out := toMessagesRequest(req)

	if out.System != "be brief" {
		t.Errorf("system not lifted: %q", out.System)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out.Messages))
	}
	for _, m := range out.Messages {
		if m.Role == domain.RoleSystem {
			t.Error("system message left in messages array")
		}
	}
	if out.MaxTokens != defaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", out.MaxTokens)
	}
	if !out.Stream {
		t.Error("stream must be forced to true")
	}
}

func TestToMessagesRequest_ExplicitMaxTokens(t *testing.T) {
	limit := 256
	out := toMessagesRequest(domain.ChatRequest{MaxTokens: &limit})
	if out.MaxTokens != 256 {
		t.Errorf("expected explicit max tokens, got %d", out.MaxTokens)
	}
}

func TestInvoke_SendsHeaders(t *testing.T) {
	var gotKey, gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Error("stream must be forced to true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	a := New(srv.URL)
	raw, err := a.Invoke(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, provider.Credentials{APIKey: "sk-ant"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer raw.Close()

	if gotKey != "sk-ant" {
		t.Errorf("unexpected api key header: %q", gotKey)
	}
	if gotVersion != anthropicVersion {
		t.Errorf("unexpected version header: %q", gotVersion)
	}
	if raw.Format != provider.FormatAnthropic {
		t.Errorf("unexpected format: %v", raw.Format)
	}
}

func TestInvoke_KeyMissingBeforeNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{}, provider.Credentials{})

	var keyErr *domain.KeyMissingError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected KeyMissingError, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no network call, got %d", calls)
	}
}

func TestInvoke_UpstreamErrorPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error"}}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{}, provider.Credentials{APIKey: "bad"})

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Status != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", provErr.Status)
	}
	if provErr.Provider != domain.ProviderAnthropic {
		t.Errorf("unexpected provider: %s", provErr.Provider)
	}
}
