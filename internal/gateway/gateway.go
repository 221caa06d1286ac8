// Package gateway is the top-level entry point for chat calls: it
// resolves which provider serves a request, obtains credentials, invokes
// the adapter and normalizes its output into the canonical event stream.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/metrics"
	"github.com/andremlopes/storebridge/internal/provider"
	"github.com/andremlopes/storebridge/internal/queue"
	"github.com/andremlopes/storebridge/internal/stream"
	"github.com/andremlopes/storebridge/internal/telemetry"
)

// TokenSource is the broker surface the gateway needs: live tokens for
// OAuth-backed providers, the store's endpoint override, and a liveness
// check for provider selection.
type TokenSource interface {
	GetAccessToken(ctx context.Context, storeKey string) (string, error)
	APIBase(ctx context.Context, storeKey string) (string, error)
	Authorized(ctx context.Context, storeKey string) bool
}

// ProviderEntry binds an adapter to its static configuration. OAuth marks
// providers whose credential comes from the token broker when the request
// names a store.
type ProviderEntry struct {
	Adapter      provider.Adapter
	APIKey       string
	DefaultModel string
	OAuth        bool
}

type Gateway struct {
	providers   map[domain.ProviderID]ProviderEntry
	priority    []domain.ProviderID
	system      string
	tokens      TokenSource
	usage       queue.UsagePublisher
	idleTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Gateway)

func WithSystemPrompt(prompt string) Option {
	return func(g *Gateway) { g.system = prompt }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.idleTimeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithUsagePublisher emits one usage event per completed stream.
func WithUsagePublisher(p queue.UsagePublisher) Option {
	return func(g *Gateway) { g.usage = p }
}

func New(providers map[domain.ProviderID]ProviderEntry, priority []domain.ProviderID, tokens TokenSource, opts ...Option) *Gateway {
	g := &Gateway{
		providers:   providers,
		priority:    priority,
		tokens:      tokens,
		idleTimeout: stream.DefaultIdleTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Chat resolves the provider, invokes it and returns the normalized event
// stream. Setup failures are delivered in-band as an error event followed
// by done, so the caller handles exactly one channel shape.
func (g *Gateway) Chat(ctx context.Context, req domain.ChatRequest) <-chan domain.StreamEvent {
	ctx, span := telemetry.StartSpan(ctx, "gateway.chat")

	sel, err := g.selectProvider(ctx, req)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("none", metrics.OutcomeError).Inc()
		telemetry.AddErrorAttribute(span, err)
		span.End()
		return errorStream(ctx, err)
	}
	telemetry.AddChatAttributes(span, req.StoreKey, string(sel.Provider), sel.Model)

	entry := g.providers[sel.Provider]
	req.Model = sel.Model
	req.Messages = g.normalizeMessages(req.Messages)

	creds, err := g.resolveCredentials(ctx, entry, req)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(string(sel.Provider), metrics.OutcomeError).Inc()
		telemetry.AddErrorAttribute(span, err)
		span.End()
		return errorStream(ctx, err)
	}

	g.logger.Info("chat request",
		"provider", sel.Provider,
		"model", sel.Model,
		"store", req.StoreKey,
		"messages", len(req.Messages),
	)

	start := time.Now()
	raw, err := entry.Adapter.Invoke(ctx, req, creds)
	if err != nil {
		var provErr *domain.ProviderError
		if errors.As(err, &provErr) {
			metrics.ProviderErrorsTotal.WithLabelValues(string(sel.Provider), strconv.Itoa(provErr.Status)).Inc()
		}
		metrics.ChatRequestsTotal.WithLabelValues(string(sel.Provider), metrics.OutcomeError).Inc()
		g.logger.Warn("provider invocation failed", "provider", sel.Provider, "error", err)
		telemetry.AddErrorAttribute(span, err)
		span.End()
		return errorStream(ctx, err)
	}

	metrics.ChatRequestsTotal.WithLabelValues(string(sel.Provider), metrics.OutcomeOK).Inc()
	return g.instrument(ctx, span, req, sel, start, stream.Events(ctx, raw, g.idleTimeout))
}

// selectProvider honors an explicit hint when it names a configured
// provider; otherwise it walks the priority order looking for the first
// provider with a live credential.
func (g *Gateway) selectProvider(ctx context.Context, req domain.ChatRequest) (domain.Selection, error) {
	if req.Provider != "" {
		entry, ok := g.providers[req.Provider]
		if !ok {
			return domain.Selection{}, domain.ErrNoProviderAvailable
		}
		return domain.Selection{Provider: req.Provider, Model: g.resolveModel(req, entry)}, nil
	}

	for _, id := range g.priority {
		entry, ok := g.providers[id]
		if !ok {
			continue
		}
		if g.hasLiveCredential(ctx, entry, req.StoreKey) {
			return domain.Selection{Provider: id, Model: g.resolveModel(req, entry)}, nil
		}
	}
	return domain.Selection{}, domain.ErrNoProviderAvailable
}

func (g *Gateway) hasLiveCredential(ctx context.Context, entry ProviderEntry, storeKey string) bool {
	if entry.APIKey != "" {
		return true
	}
	if entry.OAuth && storeKey != "" && g.tokens != nil {
		return g.tokens.Authorized(ctx, storeKey)
	}
	return false
}

func (g *Gateway) resolveModel(req domain.ChatRequest, entry ProviderEntry) string {
	if req.Model != "" {
		return req.Model
	}
	return entry.DefaultModel
}

// normalizeMessages prepends the configured system message, but only when
// the caller did not supply one; caller ordering is otherwise preserved.
func (g *Gateway) normalizeMessages(messages []domain.Message) []domain.Message {
	if g.system == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			return messages
		}
	}
	out := make([]domain.Message, 0, len(messages)+1)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: g.system})
	return append(out, messages...)
}

func (g *Gateway) resolveCredentials(ctx context.Context, entry ProviderEntry, req domain.ChatRequest) (provider.Credentials, error) {
	creds := provider.Credentials{APIKey: entry.APIKey}
	if req.StoreKey == "" || g.tokens == nil {
		return creds, nil
	}

	if entry.OAuth {
		token, err := g.tokens.GetAccessToken(ctx, req.StoreKey)
		if err != nil {
			return provider.Credentials{}, err
		}
		creds.AccessToken = token
	}

	// The store's credential record may pin an upstream endpoint variant;
	// adapters fall back to their default base when this stays empty.
	base, err := g.tokens.APIBase(ctx, req.StoreKey)
	if err != nil {
		return provider.Credentials{}, err
	}
	creds.APIBase = base
	return creds, nil
}

// instrument passes events through while recording stream metrics and
// publishing the usage event once the stream terminates.
func (g *Gateway) instrument(ctx context.Context, span trace.Span, req domain.ChatRequest, sel domain.Selection, start time.Time, in <-chan domain.StreamEvent) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)
	metrics.ActiveStreams.Inc()

	go func() {
		tokens := 0
		outcome := metrics.OutcomeOK

		defer func() {
			metrics.ActiveStreams.Dec()
			metrics.StreamDuration.WithLabelValues(string(sel.Provider)).Observe(time.Since(start).Seconds())
			telemetry.AddStreamAttributes(span, tokens, outcome)
			span.End()
			g.publishUsage(req, sel, tokens, time.Since(start), outcome)
		}()
		defer close(out)

		for ev := range in {
			metrics.StreamEventsTotal.WithLabelValues(string(sel.Provider), string(ev.Kind)).Inc()
			switch ev.Kind {
			case domain.EventToken:
				tokens++
			case domain.EventError:
				outcome = metrics.OutcomeError
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (g *Gateway) publishUsage(req domain.ChatRequest, sel domain.Selection, tokens int, elapsed time.Duration, outcome string) {
	if g.usage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := queue.UsageEvent{
		RequestID:  uuid.New().String(),
		Store:      req.StoreKey,
		Provider:   string(sel.Provider),
		Model:      sel.Model,
		Tokens:     tokens,
		DurationMs: elapsed.Milliseconds(),
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}
	if err := g.usage.Publish(ctx, ev); err != nil {
		g.logger.Warn("usage publish failed", "error", err)
	}
}

// errorStream delivers a setup failure in-band: one error event, one done.
func errorStream(ctx context.Context, err error) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, 2)
	go func() {
		defer close(out)
		for _, ev := range []domain.StreamEvent{domain.ErrorEvent(errorMessage(err)), domain.DoneEvent()} {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// errorMessage keeps caller-facing messages short; status bodies and
// wrapped causes stay in the logs.
func errorMessage(err error) string {
	var (
		notAuth *domain.NotAuthorizedError
		keyErr  *domain.KeyMissingError
		provErr *domain.ProviderError
		exchErr *domain.ExchangeError
	)
	switch {
	case errors.Is(err, domain.ErrNoProviderAvailable):
		return "no provider available"
	case errors.Is(err, domain.ErrUnknownStore):
		return "unknown store"
	case errors.As(err, &notAuth):
		return "store " + notAuth.Store + " is not authorized"
	case errors.As(err, &keyErr):
		return "missing credentials for provider " + string(keyErr.Provider)
	case errors.As(err, &provErr):
		return "provider " + string(provErr.Provider) + " returned status " + strconv.Itoa(provErr.Status)
	case errors.As(err, &exchErr):
		return "token refresh failed"
	default:
		return err.Error()
	}
}
