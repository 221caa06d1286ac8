// Package vault owns per-store credential records. It holds no business
// logic: the broker decides when to refresh, the vault only stores the
// result. Backends: in-memory (single instance, volatile), Redis and
// Postgres (survive restarts; refresh tokens sealed at rest).
package vault

import (
	"context"
	"sync"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/stores"
)

// Vault is the credential store contract. Get returns ErrUnknownStore for
// keys outside the configured registry; a configured store with no state
// yet yields a zero record. Put applies the update atomically with respect
// to other Puts for the same key.
type Vault interface {
	Get(ctx context.Context, storeKey string) (*domain.CredentialRecord, error)
	Put(ctx context.Context, storeKey string, update func(*domain.CredentialRecord)) error
}

type InMemoryVault struct {
	registry *stores.Registry
	mu       sync.RWMutex
	records  map[string]*domain.CredentialRecord
}

func NewInMemoryVault(registry *stores.Registry) *InMemoryVault {
	return &InMemoryVault{
		registry: registry,
		records:  make(map[string]*domain.CredentialRecord),
	}
}

func (v *InMemoryVault) Get(ctx context.Context, storeKey string) (*domain.CredentialRecord, error) {
	if !v.registry.Exists(storeKey) {
		return nil, domain.ErrUnknownStore
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	record, ok := v.records[storeKey]
	if !ok {
		return &domain.CredentialRecord{}, nil
	}

	copied := *record
	return &copied, nil
}

func (v *InMemoryVault) Put(ctx context.Context, storeKey string, update func(*domain.CredentialRecord)) error {
	if !v.registry.Exists(storeKey) {
		return domain.ErrUnknownStore
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	record, ok := v.records[storeKey]
	if !ok {
		record = &domain.CredentialRecord{}
		v.records[storeKey] = record
	}
	update(record)

	return nil
}
