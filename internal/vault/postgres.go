package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andremlopes/storebridge/internal/crypto"
	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/stores"

	_ "github.com/lib/pq"
)

type PostgresVault struct {
	registry *stores.Registry
	db       *sql.DB
	sealer   *crypto.Sealer
}

func NewPostgresVault(databaseURL string, registry *stores.Registry, sealer *crypto.Sealer) (*PostgresVault, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	v := &PostgresVault{registry: registry, db: db, sealer: sealer}
	if err := v.migrate(ctx); err != nil {
		return nil, err
	}

	return v, nil
}

func NewPostgresVaultWithDB(db *sql.DB, registry *stores.Registry, sealer *crypto.Sealer) *PostgresVault {
	return &PostgresVault{registry: registry, db: db, sealer: sealer}
}

func (v *PostgresVault) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS store_credentials (
			store_key            TEXT PRIMARY KEY,
			refresh_token_sealed TEXT NOT NULL DEFAULT '',
			access_token         TEXT NOT NULL DEFAULT '',
			access_token_expiry  TIMESTAMPTZ,
			api_base             TEXT NOT NULL DEFAULT '',
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := v.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate store_credentials: %w", err)
	}
	return nil
}

func (v *PostgresVault) Get(ctx context.Context, storeKey string) (*domain.CredentialRecord, error) {
	if !v.registry.Exists(storeKey) {
		return nil, domain.ErrUnknownStore
	}

	query := `
		SELECT refresh_token_sealed, access_token, access_token_expiry, api_base
		FROM store_credentials
		WHERE store_key = $1
	`

	var sealed, accessToken, apiBase string
	var expiry sql.NullTime

	err := v.db.QueryRowContext(ctx, query, storeKey).Scan(&sealed, &accessToken, &expiry, &apiBase)
	if err == sql.ErrNoRows {
		return &domain.CredentialRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credential record: %w", err)
	}

	record := &domain.CredentialRecord{
		AccessToken: accessToken,
		APIBase:     apiBase,
	}
	if expiry.Valid {
		record.AccessTokenExpiry = expiry.Time
	}
	if sealed != "" {
		refreshToken, err := v.sealer.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("unseal refresh token: %w", err)
		}
		record.RefreshToken = refreshToken
	}

	return record, nil
}

func (v *PostgresVault) Put(ctx context.Context, storeKey string, update func(*domain.CredentialRecord)) error {
	record, err := v.Get(ctx, storeKey)
	if err != nil {
		return err
	}

	update(record)

	sealed := ""
	if record.RefreshToken != "" {
		sealed, err = v.sealer.Seal(record.RefreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	query := `
		INSERT INTO store_credentials (store_key, refresh_token_sealed, access_token, access_token_expiry, api_base, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (store_key) DO UPDATE
		SET refresh_token_sealed = $2, access_token = $3, access_token_expiry = $4, api_base = $5, updated_at = now()
	`

	var expiry sql.NullTime
	if !record.AccessTokenExpiry.IsZero() {
		expiry = sql.NullTime{Time: record.AccessTokenExpiry, Valid: true}
	}

	if _, err := v.db.ExecContext(ctx, query, storeKey, sealed, record.AccessToken, expiry, record.APIBase); err != nil {
		return fmt.Errorf("upsert credential record: %w", err)
	}

	return nil
}

// DB exposes the underlying pool for health probes.
func (v *PostgresVault) DB() *sql.DB {
	return v.db
}

func (v *PostgresVault) Close() error {
	return v.db.Close()
}
