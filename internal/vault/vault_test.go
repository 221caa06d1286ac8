package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/stores"
)

func newTestVault() *InMemoryVault {
	return NewInMemoryVault(stores.NewRegistry(map[string]string{
		"acme": "Acme Outdoor",
		"beta": "Beta Shop",
	}))
}

func TestInMemoryVault_UnknownStore(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()

	if _, err := v.Get(ctx, "ghost"); !errors.Is(err, domain.ErrUnknownStore) {
		t.Errorf("expected ErrUnknownStore from Get, got %v", err)
	}
	err := v.Put(ctx, "ghost", func(r *domain.CredentialRecord) { r.RefreshToken = "rt" })
	if !errors.Is(err, domain.ErrUnknownStore) {
		t.Errorf("expected ErrUnknownStore from Put, got %v", err)
	}
}

func TestInMemoryVault_ConfiguredStoreStartsEmpty(t *testing.T) {
	v := newTestVault()

	record, err := v.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Authorized() {
		t.Error("fresh record must not be authorized")
	}
	if record.AccessToken != "" {
		t.Error("fresh record must have no access token")
	}
}

func TestInMemoryVault_PutThenGet(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	err := v.Put(ctx, "acme", func(r *domain.CredentialRecord) {
		r.RefreshToken = "rt-1"
		r.AccessToken = "at-1"
		r.AccessTokenExpiry = expiry
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := v.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.RefreshToken != "rt-1" || record.AccessToken != "at-1" {
		t.Errorf("unexpected record: %+v", record)
	}
	if !record.AccessTokenExpiry.Equal(expiry) {
		t.Errorf("unexpected expiry: %v", record.AccessTokenExpiry)
	}
}

func TestInMemoryVault_PutMergesExistingRecord(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()

	v.Put(ctx, "acme", func(r *domain.CredentialRecord) { r.RefreshToken = "rt-1" })
	v.Put(ctx, "acme", func(r *domain.CredentialRecord) { r.AccessToken = "at-2" })

	record, _ := v.Get(ctx, "acme")
	if record.RefreshToken != "rt-1" {
		t.Error("refresh token must survive unrelated updates")
	}
	if record.AccessToken != "at-2" {
		t.Error("access token update lost")
	}
}

func TestInMemoryVault_GetReturnsCopy(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()

	v.Put(ctx, "acme", func(r *domain.CredentialRecord) { r.AccessToken = "at-1" })

	record, _ := v.Get(ctx, "acme")
	record.AccessToken = "mutated"

	again, _ := v.Get(ctx, "acme")
	if again.AccessToken != "at-1" {
		t.Error("mutating a returned record must not affect the vault")
	}
}

func TestInMemoryVault_StoresAreIndependent(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()

	v.Put(ctx, "acme", func(r *domain.CredentialRecord) { r.RefreshToken = "rt-acme" })

	record, _ := v.Get(ctx, "beta")
	if record.Authorized() {
		t.Error("writing one store must not touch another")
	}
}

func TestInMemoryVault_ConcurrentPuts(t *testing.T) {
	v := newTestVault()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Put(ctx, "acme", func(r *domain.CredentialRecord) { r.AccessToken = "at" })
		}()
	}
	wg.Wait()

	record, err := v.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.AccessToken != "at" {
		t.Errorf("unexpected access token: %q", record.AccessToken)
	}
}
