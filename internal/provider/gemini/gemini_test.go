package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/provider"
)

func TestFlattenConversation(t *testing.T) {
	got := flattenConversation([]domain.Message{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
		{Role: domain.RoleUser, Content: "bye"},
	})

	want := "USER: hi\nASSISTANT: hello\nUSER: bye"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSliceChunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"short", "hi", []string{"hi"}},
		{"exact", "12345678", []string{"12345678"}},
		{"split", "123456789", []string{"12345678", "9"}},
		{"multibyte", strings.Repeat("é", 9), []string{strings.Repeat("é", 8), "é"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sliceChunks(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSliceChunks_Reassembles(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	if joined := strings.Join(sliceChunks(text), ""); joined != text {
		t.Errorf("chunks do not reassemble: %q", joined)
	}
}

func TestInvoke_APIKeyHeader(t *testing.T) {
	var gotPath, gotKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello world"}]}}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	raw, err := a.Invoke(context.Background(), domain.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, provider.Credentials{APIKey: "AIza-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("unexpected path: %q", gotPath)
	}
	if gotKey != "AIza-test" {
		t.Errorf("unexpected api key header: %q", gotKey)
	}
	if gotAuth != "" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if raw.Format != provider.FormatChunks {
		t.Errorf("unexpected format: %v", raw.Format)
	}
	if joined := strings.Join(raw.Chunks, ""); joined != "hello world" {
		t.Errorf("chunks do not reassemble reply: %q", joined)
	}
}

func TestInvoke_AccessTokenPreferred(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{Model: "gemini-2.0-flash"}, provider.Credentials{
		APIKey:      "AIza-test",
		AccessToken: "ya29.token",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer ya29.token" {
		t.Errorf("access token not preferred: %q", gotAuth)
	}
}

func TestInvoke_FlattensPrompt(t *testing.T) {
	var gotReq generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{
		Model: "gemini-2.0-flash",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "first"},
			{Role: domain.RoleAssistant, Content: "second"},
		},
	}, provider.Credentials{APIKey: "AIza-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 1 {
		t.Fatalf("expected single flattened content, got %+v", gotReq.Contents)
	}
	if gotReq.Contents[0].Parts[0].Text != "USER: first\nASSISTANT: second" {
		t.Errorf("unexpected prompt: %q", gotReq.Contents[0].Parts[0].Text)
	}
}

func TestInvoke_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{Model: "gemini-2.0-flash"}, provider.Credentials{APIKey: "AIza-test"})
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestInvoke_NoCredentials(t *testing.T) {
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
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"status":"PERMISSION_DENIED"}}`)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.Invoke(context.Background(), domain.ChatRequest{Model: "gemini-2.0-flash"}, provider.Credentials{APIKey: "bad"})

	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Status != http.StatusForbidden {
		t.Errorf("unexpected status: %d", provErr.Status)
	}
}
