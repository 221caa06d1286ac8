package crypto

import "testing"

func TestSealOpen_RoundTrip(t *testing.T) {
	s, err := NewSealer("vault-passphrase")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sealed, err := s.Seal("rt-1234567890")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "rt-1234567890" {
		t.Fatal("sealed value must not equal plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "rt-1234567890" {
		t.Errorf("expected round-trip, got %q", opened)
	}
}

func TestSeal_UniqueNonce(t *testing.T) {
	s, _ := NewSealer("vault-passphrase")

	a, _ := s.Seal("same-token")
	b, _ := s.Seal("same-token")
	if a == b {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestOpen_WrongKey(t *testing.T) {
	s1, _ := NewSealer("key-one")
	s2, _ := NewSealer("key-two")

	sealed, _ := s1.Seal("secret")
	if _, err := s2.Open(sealed); err == nil {
		t.Error("expected error opening with wrong key")
	}
}

func TestOpen_Garbage(t *testing.T) {
	s, _ := NewSealer("vault-passphrase")

	if _, err := s.Open("not base64 at all!!!"); err == nil {
		t.Error("expected error for invalid input")
	}
	if _, err := s.Open("c2hvcnQ="); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}
