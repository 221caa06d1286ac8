package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
)

// tokenEndpoint is a minimal authorization-server double. The client may
// send credentials via Basic auth or form params depending on probing, so
// both are accepted.
func tokenEndpoint(t *testing.T, handle func(w http.ResponseWriter, grantType string, form url.Values)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		handle(w, r.PostForm.Get("grant_type"), r.PostForm)
	}))
}

func newTestClient(tokenURL string) *Client {
	return NewClient(Config{
		AuthURL:      strings.TrimSuffix(tokenURL, "/token") + "/authorize",
		TokenURL:     tokenURL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://gateway.example/oauth/callback",
		Scopes:       []string{"chat"},
	}, nil)
}

func TestExchangeCode_Success(t *testing.T) {
	var gotCode, gotRedirect string
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		if grantType != "authorization_code" {
			t.Errorf("unexpected grant_type: %s", grantType)
		}
		gotCode = form.Get("code")
		gotRedirect = form.Get("redirect_uri")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"Bearer"}`)
	})
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.ExchangeCode(context.Background(), "code-abc", "https://other.example/cb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotCode != "code-abc" {
		t.Errorf("unexpected code sent: %s", gotCode)
	}
	if gotRedirect != "https://other.example/cb" {
		t.Errorf("unexpected redirect_uri sent: %s", gotRedirect)
	}
	if result.AccessToken != "at-1" || result.RefreshToken != "rt-1" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.ExpiresIn < 3590*time.Second || result.ExpiresIn > 3600*time.Second {
		t.Errorf("unexpected expires_in: %v", result.ExpiresIn)
	}
}

func TestExchangeCode_MissingRefreshToken(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","expires_in":3600,"token_type":"Bearer"}`)
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "code-abc", "")
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExchangeCode_UpstreamRejection(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "bad-code", "")

	var exchangeErr *domain.ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if exchangeErr.Op != "exchange" {
		t.Errorf("unexpected op: %s", exchangeErr.Op)
	}
	if exchangeErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected status: %d", exchangeErr.Status)
	}
	if !strings.Contains(exchangeErr.Body, "invalid_grant") {
		t.Errorf("body not passed through: %q", exchangeErr.Body)
	}
}

func TestExchangeRefresh_Success(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		if grantType != "refresh_token" {
			t.Errorf("unexpected grant_type: %s", grantType)
		}
		if form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected refresh_token sent: %s", form.Get("refresh_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","expires_in":1800,"token_type":"Bearer"}`)
	})
	defer srv.Close()

	result, err := newTestClient(srv.URL).ExchangeRefresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.AccessToken != "at-2" {
		t.Errorf("unexpected access token: %s", result.AccessToken)
	}
	if result.RefreshToken != "" {
		t.Errorf("no rotation expected, got %q", result.RefreshToken)
	}
}

func TestExchangeRefresh_RotatedToken(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-2","refresh_token":"rt-rotated","expires_in":1800,"token_type":"Bearer"}`)
	})
	defer srv.Close()

	result, err := newTestClient(srv.URL).ExchangeRefresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RefreshToken != "rt-rotated" {
		t.Errorf("expected rotated token passed through, got %q", result.RefreshToken)
	}
}

func TestExchangeRefresh_UpstreamRejection(t *testing.T) {
	srv := tokenEndpoint(t, func(w http.ResponseWriter, grantType string, form url.Values) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeRefresh(context.Background(), "rt-revoked")

	var exchangeErr *domain.ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if exchangeErr.Op != "refresh" {
		t.Errorf("unexpected op: %s", exchangeErr.Op)
	}
	if exchangeErr.Status != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", exchangeErr.Status)
	}
}

func TestAuthCodeURL(t *testing.T) {
	client := newTestClient("https://auth.example/token")

	raw := client.AuthCodeURL("state-123")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("missing state: %s", raw)
	}
	if q.Get("client_id") != "client-1" {
		t.Errorf("missing client_id: %s", raw)
	}
	if q.Get("response_type") != "code" {
		t.Errorf("missing response_type: %s", raw)
	}
}
