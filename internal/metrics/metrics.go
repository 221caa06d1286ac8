// Package metrics defines the Prometheus instrumentation for the
// gateway and the token broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storebridge_chat_requests_total",
		Help: "Chat requests by resolved provider and outcome.",
	}, []string{"provider", "outcome"})

	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storebridge_stream_events_total",
		Help: "Canonical stream events emitted, by provider and kind.",
	}, []string{"provider", "kind"})

	StreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storebridge_stream_duration_seconds",
		Help:    "Wall time from provider invocation to stream termination.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storebridge_active_streams",
		Help: "Streams currently open to callers.",
	})

	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storebridge_token_refreshes_total",
		Help: "Access token refreshes by store and outcome.",
	}, []string{"store", "outcome"})

	AuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storebridge_authorizations_total",
		Help: "OAuth authorization completions by outcome.",
	}, []string{"outcome"})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storebridge_provider_errors_total",
		Help: "Upstream provider failures by provider and HTTP status.",
	}, []string{"provider", "status"})
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
