package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andremlopes/storebridge/internal/crypto"
	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RedisVault keeps one JSON record per store under "vault:<key>". The
// refresh token is sealed before it is written; everything else is stored
// as-is since access tokens are short-lived anyway.
type RedisVault struct {
	registry *stores.Registry
	client   *redis.Client
	sealer   *crypto.Sealer
}

type redisRecord struct {
	RefreshTokenSealed string    `json:"refresh_token_sealed,omitempty"`
	AccessToken        string    `json:"access_token,omitempty"`
	AccessTokenExpiry  time.Time `json:"access_token_expiry,omitempty"`
	APIBase            string    `json:"api_base,omitempty"`
}

func NewRedisVault(redisURL string, registry *stores.Registry, sealer *crypto.Sealer) (*RedisVault, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisVault{registry: registry, client: client, sealer: sealer}, nil
}

func (v *RedisVault) Get(ctx context.Context, storeKey string) (*domain.CredentialRecord, error) {
	if !v.registry.Exists(storeKey) {
		return nil, domain.ErrUnknownStore
	}

	data, err := v.client.Get(ctx, recordKey(storeKey)).Bytes()
	if err == redis.Nil {
		return &domain.CredentialRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential record: %w", err)
	}

	var stored redisRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode credential record: %w", err)
	}

	record := &domain.CredentialRecord{
		AccessToken:       stored.AccessToken,
		AccessTokenExpiry: stored.AccessTokenExpiry,
		APIBase:           stored.APIBase,
	}
	if stored.RefreshTokenSealed != "" {
		refreshToken, err := v.sealer.Open(stored.RefreshTokenSealed)
		if err != nil {
			return nil, fmt.Errorf("unseal refresh token: %w", err)
		}
		record.RefreshToken = refreshToken
	}

	return record, nil
}

func (v *RedisVault) Put(ctx context.Context, storeKey string, update func(*domain.CredentialRecord)) error {
	record, err := v.Get(ctx, storeKey)
	if err != nil {
		return err
	}

	update(record)

	stored := redisRecord{
		AccessToken:       record.AccessToken,
		AccessTokenExpiry: record.AccessTokenExpiry,
		APIBase:           record.APIBase,
	}
	if record.RefreshToken != "" {
		sealed, err := v.sealer.Seal(record.RefreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
		stored.RefreshTokenSealed = sealed
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode credential record: %w", err)
	}

	if err := v.client.Set(ctx, recordKey(storeKey), data, 0).Err(); err != nil {
		return fmt.Errorf("put credential record: %w", err)
	}

	return nil
}

// Client exposes the underlying connection for health probes.
func (v *RedisVault) Client() *redis.Client {
	return v.client
}

func (v *RedisVault) Close() error {
	return v.client.Close()
}

func recordKey(storeKey string) string {
	return "vault:" + storeKey
}
