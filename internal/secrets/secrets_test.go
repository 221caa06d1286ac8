package secrets

import (
	"context"
	"testing"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore(map[string]string{"bridge/keys": `{"openai_api_key":"sk-1","oauth_client_secret":"cs-1"}`})

	value, err := s.GetSecret(context.Background(), "bridge/keys")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if value == "" {
		t.Error("expected secret value")
	}

	var gs GatewaySecrets
	if err := s.GetSecretJSON(context.Background(), "bridge/keys", &gs); err != nil {
		t.Fatalf("get secret json: %v", err)
	}
	if gs.OpenAIAPIKey != "sk-1" || gs.OAuthClientSecret != "cs-1" {
		t.Errorf("unexpected secrets: %+v", gs)
	}
}

func TestInMemoryStore_Missing(t *testing.T) {
	s := NewInMemoryStore(nil)
	if _, err := s.GetSecret(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestInMemoryStore_BadJSON(t *testing.T) {
	s := NewInMemoryStore(map[string]string{"bad": "not json"})
	var gs GatewaySecrets
	if err := s.GetSecretJSON(context.Background(), "bad", &gs); err == nil {
		t.Error("expected unmarshal error")
	}
}
