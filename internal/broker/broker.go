// Package broker orchestrates the token lifecycle: it is the only path by
// which an access token reaches a provider adapter, and the only writer of
// the vault. It does not retry a failed refresh; callers get the failure
// and may simply call again.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/metrics"
	"github.com/andremlopes/storebridge/internal/notifications"
	"github.com/andremlopes/storebridge/internal/oauth"
	"github.com/andremlopes/storebridge/internal/vault"
)

// safetyMargin is subtracted from the cached expiry: a token this close to
// expiring is refreshed early so it cannot die mid-request.
const safetyMargin = 60 * time.Second

type Broker struct {
	vault     vault.Vault
	exchanger oauth.Exchanger
	notifier  notifications.Notifier
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Broker)

// WithClock substitutes the time source; tests use a fake clock so the
// freshness predicate is checked without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithNotifier publishes authorization lifecycle events.
func WithNotifier(n notifications.Notifier) Option {
	return func(b *Broker) { b.notifier = n }
}

func New(v vault.Vault, exchanger oauth.Exchanger, opts ...Option) *Broker {
	b := &Broker{
		vault:     v,
		exchanger: exchanger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetAccessToken returns a currently valid access token for the store,
// refreshing through the exchange client when the cached one is absent or
// inside the safety margin. Concurrent calls for the same store serialize
// so at most one refresh hits the authorization server; different stores
// proceed independently.
func (b *Broker) GetAccessToken(ctx context.Context, storeKey string) (string, error) {
	record, err := b.vault.Get(ctx, storeKey)
	if err != nil {
		return "", err
	}

	if token, ok := b.fresh(record); ok {
		return token, nil
	}

	lock := b.storeLock(storeKey)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed while
	// this one waited.
	record, err = b.vault.Get(ctx, storeKey)
	if err != nil {
		return "", err
	}
	if token, ok := b.fresh(record); ok {
		return token, nil
	}

	if !record.Authorized() {
		return "", &domain.NotAuthorizedError{Store: storeKey}
	}

	result, err := b.exchanger.ExchangeRefresh(ctx, record.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(storeKey, metrics.OutcomeError).Inc()
		b.notifyRefreshFailed(storeKey, err)
		return "", fmt.Errorf("token refresh: %w", err)
	}
	metrics.TokenRefreshesTotal.WithLabelValues(storeKey, metrics.OutcomeOK).Inc()

	expiry := b.now().Add(result.ExpiresIn)
	err = b.vault.Put(ctx, storeKey, func(r *domain.CredentialRecord) {
		r.AccessToken = result.AccessToken
		r.AccessTokenExpiry = expiry
		if result.RefreshToken != "" {
			// Server rotated the grant; the old one is dead.
			r.RefreshToken = result.RefreshToken
		}
	})
	if err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}

	slog.Debug("access token refreshed", "store", storeKey, "expires_at", expiry)

	return result.AccessToken, nil
}

// CompleteAuthorization finishes the consent flow: it exchanges the code
// and writes a fresh credential record. An existing refresh token is
// overwritten only here, never by GetAccessToken.
func (b *Broker) CompleteAuthorization(ctx context.Context, storeKey, code, redirectURI string) error {
	// Reject unknown stores before spending the single-use code.
	if _, err := b.vault.Get(ctx, storeKey); err != nil {
		return err
	}

	result, err := b.exchanger.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return err
	}

	expiry := b.now().Add(result.ExpiresIn)
	err = b.vault.Put(ctx, storeKey, func(r *domain.CredentialRecord) {
		r.RefreshToken = result.RefreshToken
		r.AccessToken = result.AccessToken
		r.AccessTokenExpiry = expiry
	})
	if err != nil {
		return fmt.Errorf("store authorization: %w", err)
	}

	metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	slog.Info("store authorized", "store", storeKey)
	b.notify(notifications.Notification{
		Type:    notifications.NotificationStoreAuthorized,
		Store:   storeKey,
		Message: "store completed OAuth consent",
	})

	return nil
}

// Authorized reports whether the store has completed the consent flow.
// Used by provider selection to decide whether an OAuth-backed provider
// has a live credential.
func (b *Broker) Authorized(ctx context.Context, storeKey string) bool {
	record, err := b.vault.Get(ctx, storeKey)
	return err == nil && record.Authorized()
}

// APIBase returns the store's upstream endpoint override, empty when the
// store uses the provider's default endpoint.
func (b *Broker) APIBase(ctx context.Context, storeKey string) (string, error) {
	record, err := b.vault.Get(ctx, storeKey)
	if err != nil {
		return "", err
	}
	return record.APIBase, nil
}

// fresh returns the cached token when its expiry is beyond the safety
// margin. An expired and an absent token are treated identically.
func (b *Broker) fresh(record *domain.CredentialRecord) (string, bool) {
	if record.AccessToken == "" {
		return "", false
	}
	if record.AccessTokenExpiry.Before(b.now().Add(safetyMargin)) {
		return "", false
	}
	return record.AccessToken, true
}

func (b *Broker) storeLock(storeKey string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.locks[storeKey]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[storeKey] = lock
	}
	return lock
}

func (b *Broker) notifyRefreshFailed(storeKey string, err error) {
	slog.Warn("token refresh failed", "store", storeKey, "error", err)
	b.notify(notifications.Notification{
		Type:    notifications.NotificationRefreshFailed,
		Store:   storeKey,
		Message: err.Error(),
	})
}

func (b *Broker) notify(n notifications.Notification) {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.notifier.Send(ctx, n); err != nil {
		slog.Warn("notification failed", "type", n.Type, "error", err)
	}
}
