// Package stores holds the configured store identities. The registry is
// populated at startup and read-only afterwards; credential state lives in
// the vault, not here.
package stores

import (
	"sort"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
)

type Registry struct {
	stores map[string]*domain.Store
}

func NewRegistry(labels map[string]string) *Registry {
	r := &Registry{stores: make(map[string]*domain.Store, len(labels))}
	now := time.Now()
	for key, label := range labels {
		r.stores[key] = &domain.Store{
			Key:       key,
			Label:     label,
			CreatedAt: now,
		}
	}
	return r
}

func (r *Registry) Get(key string) (*domain.Store, error) {
	store, ok := r.stores[key]
	if !ok {
		return nil, domain.ErrUnknownStore
	}
	return store, nil
}

func (r *Registry) Exists(key string) bool {
	_, ok := r.stores[key]
	return ok
}

func (r *Registry) List() []*domain.Store {
	out := make([]*domain.Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
