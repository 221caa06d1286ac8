package api

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthChecker is one dependency probe for the readiness endpoint.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func handleHealthReady(checkers []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]checkResult, len(checkers))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, checker := range checkers {
			wg.Add(1)
			go func(c HealthChecker) {
				defer wg.Done()

				result := checkResult{Status: "ok"}
				if err := c.Check(ctx); err != nil {
					result = checkResult{Status: "error", Error: err.Error()}
				}

				mu.Lock()
				results[c.Name()] = result
				mu.Unlock()
			}(checker)
		}
		wg.Wait()

		status := http.StatusOK
		overall := "ready"
		for _, result := range results {
			if result.Status != "ok" {
				status = http.StatusServiceUnavailable
				overall = "not ready"
				break
			}
		}

		writeJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}

// RedisHealthChecker probes the vault's Redis backend.
type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string {
	return "redis"
}

func (c *RedisHealthChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PostgresHealthChecker probes the vault's Postgres backend.
type PostgresHealthChecker struct {
	db *sql.DB
}

func NewPostgresHealthChecker(db *sql.DB) *PostgresHealthChecker {
	return &PostgresHealthChecker{db: db}
}

func (c *PostgresHealthChecker) Name() string {
	return "postgres"
}

func (c *PostgresHealthChecker) Check(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
