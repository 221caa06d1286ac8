package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andremlopes/storebridge/internal/api"
	"github.com/andremlopes/storebridge/internal/auth"
	"github.com/andremlopes/storebridge/internal/broker"
	"github.com/andremlopes/storebridge/internal/config"
	"github.com/andremlopes/storebridge/internal/crypto"
	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/gateway"
	"github.com/andremlopes/storebridge/internal/httputil"
	"github.com/andremlopes/storebridge/internal/notifications"
	"github.com/andremlopes/storebridge/internal/oauth"
	"github.com/andremlopes/storebridge/internal/provider/anthropic"
	"github.com/andremlopes/storebridge/internal/provider/gemini"
	"github.com/andremlopes/storebridge/internal/provider/openaicompat"
	"github.com/andremlopes/storebridge/internal/queue"
	"github.com/andremlopes/storebridge/internal/secrets"
	"github.com/andremlopes/storebridge/internal/stores"
	"github.com/andremlopes/storebridge/internal/telemetry"
	"github.com/andremlopes/storebridge/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting storebridge", "addr", cfg.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "storebridge", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	if cfg.SecretName != "" && cfg.AWSRegion != "" {
		if err := overlaySecrets(ctx, cfg); err != nil {
			slog.Error("failed to load secrets", "error", err)
			os.Exit(1)
		}
	}

	registry := stores.NewRegistry(cfg.Stores)

	credVault, checkers, cleanup, err := buildVault(ctx, cfg, registry)
	if err != nil {
		slog.Error("failed to initialize vault", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	for key, base := range cfg.StoreAPIBases {
		err := credVault.Put(ctx, key, func(r *domain.CredentialRecord) { r.APIBase = base })
		if err != nil {
			slog.Error("failed to set store api base", "store", key, "error", err)
			os.Exit(1)
		}
		slog.Info("store api base pinned", "store", key, "api_base", base)
	}

	oauthClient := oauth.NewClient(oauth.Config{
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       cfg.OAuthScopes,
	}, httputil.DefaultClient())

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to initialize SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifier", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewLogNotifier()
	}

	tokenBroker := broker.New(credVault, oauthClient, broker.WithNotifier(notifier))

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	priority := make([]domain.ProviderID, 0, len(cfg.ProviderPriority))
	for _, id := range cfg.ProviderPriority {
		priority = append(priority, domain.ProviderID(id))
	}

	var usage queue.UsagePublisher = queue.LogPublisher{}
	if cfg.SQSQueueURL != "" && cfg.AWSRegion != "" {
		usage, err = queue.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			slog.Error("failed to initialize SQS publisher", "error", err)
			os.Exit(1)
		}
		slog.Info("publishing usage events to SQS", "queue", cfg.SQSQueueURL)
	}

	gw := gateway.New(providers, priority, tokenBroker,
		gateway.WithSystemPrompt(cfg.SystemPrompt),
		gateway.WithIdleTimeout(cfg.StreamIdleTimeout),
		gateway.WithUsagePublisher(usage),
	)

	handler := api.NewHandler(api.HandlerConfig{
		Gateway:     gw,
		Broker:      tokenBroker,
		OAuth:       oauthClient,
		Registry:    registry,
		Verifier:    auth.NewKeyVerifier(cfg.GatewayKeyHash),
		RedirectURL: cfg.OAuthRedirectURL,
		SuccessURL:  cfg.OAuthSuccessURL,
		Checkers:    checkers,
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat streams stay open as long as the
		// upstream produces tokens.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// overlaySecrets fills secret-bearing config fields from Secrets Manager.
// Values already set from the environment win, so local overrides work.
func overlaySecrets(ctx context.Context, cfg *config.Config) error {
	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	var gs secrets.GatewaySecrets
	if err := store.GetSecretJSON(ctx, cfg.SecretName, &gs); err != nil {
		return err
	}

	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = gs.OpenAIAPIKey
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = gs.AnthropicAPIKey
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = gs.GeminiAPIKey
	}
	if cfg.OAuthClientSecret == "" {
		cfg.OAuthClientSecret = gs.OAuthClientSecret
	}
	if cfg.VaultPassphrase == "" {
		cfg.VaultPassphrase = gs.VaultPassphrase
	}

	slog.Info("secrets loaded", "secret", cfg.SecretName)
	return nil
}

func buildVault(ctx context.Context, cfg *config.Config, registry *stores.Registry) (vault.Vault, []api.HealthChecker, func(), error) {
	noop := func() {}

	switch {
	case cfg.RedisURL != "":
		sealer, err := crypto.NewSealer(cfg.VaultPassphrase)
		if err != nil {
			return nil, nil, noop, err
		}
		v, err := vault.NewRedisVault(cfg.RedisURL, registry, sealer)
		if err != nil {
			return nil, nil, noop, err
		}
		slog.Info("using redis vault")
		return v, []api.HealthChecker{api.NewRedisHealthChecker(v.Client())}, func() { v.Close() }, nil

	case cfg.DatabaseURL != "":
		sealer, err := crypto.NewSealer(cfg.VaultPassphrase)
		if err != nil {
			return nil, nil, noop, err
		}
		v, err := vault.NewPostgresVault(cfg.DatabaseURL, registry, sealer)
		if err != nil {
			return nil, nil, noop, err
		}
		slog.Info("using postgres vault")
		return v, []api.HealthChecker{api.NewPostgresHealthChecker(v.DB())}, func() { v.Close() }, nil

	default:
		slog.Info("using in-memory vault, credentials are lost on restart")
		return vault.NewInMemoryVault(registry), nil, noop, nil
	}
}

func buildProviders(cfg *config.Config) map[domain.ProviderID]gateway.ProviderEntry {
	providers := make(map[domain.ProviderID]gateway.ProviderEntry)

	if cfg.OpenAIAPIKey != "" {
		providers[domain.ProviderOpenAI] = gateway.ProviderEntry{
			Adapter:      openaicompat.New(cfg.OpenAIBaseURL),
			APIKey:       cfg.OpenAIAPIKey,
			DefaultModel: cfg.OpenAIModel,
		}
		slog.Info("registered provider", "provider", domain.ProviderOpenAI)
	}

	if cfg.AnthropicAPIKey != "" {
		providers[domain.ProviderAnthropic] = gateway.ProviderEntry{
			Adapter:      anthropic.New(cfg.AnthropicBaseURL),
			APIKey:       cfg.AnthropicAPIKey,
			DefaultModel: cfg.AnthropicModel,
		}
		slog.Info("registered provider", "provider", domain.ProviderAnthropic)
	}

	// Gemini is registered even without a static key: stores that complete
	// the consent flow reach it with broker-issued tokens.
	providers[domain.ProviderGemini] = gateway.ProviderEntry{
		Adapter:      gemini.New(cfg.GeminiBaseURL),
		APIKey:       cfg.GeminiAPIKey,
		DefaultModel: cfg.GeminiModel,
		OAuth:        true,
	}
	slog.Info("registered provider", "provider", domain.ProviderGemini, "oauth", true)

	return providers
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
