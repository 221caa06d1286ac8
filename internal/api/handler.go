// Package api exposes the HTTP surface: the streaming chat endpoint, the
// OAuth consent endpoints, store listing and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andremlopes/storebridge/internal/auth"
	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/stores"
)

// ChatStreamer is the gateway surface the handler needs.
type ChatStreamer interface {
	Chat(ctx context.Context, req domain.ChatRequest) <-chan domain.StreamEvent
}

// Broker is the token broker surface used by the consent endpoints and
// store listing.
type Broker interface {
	CompleteAuthorization(ctx context.Context, storeKey, code, redirectURI string) error
	Authorized(ctx context.Context, storeKey string) bool
}

// AuthURLBuilder mints the authorization server consent URL.
type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

type HandlerConfig struct {
	Gateway     ChatStreamer
	Broker      Broker
	OAuth       AuthURLBuilder
	Registry    *stores.Registry
	Verifier    *auth.KeyVerifier
	RedirectURL string
	SuccessURL  string
	Checkers    []HealthChecker
}

type Handler struct {
	gateway     ChatStreamer
	broker      Broker
	oauth       AuthURLBuilder
	registry    *stores.Registry
	verifier    *auth.KeyVerifier
	states      *StateStore
	redirectURL string
	successURL  string

	mux *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		gateway:     cfg.Gateway,
		broker:      cfg.Broker,
		oauth:       cfg.OAuth,
		registry:    cfg.Registry,
		verifier:    cfg.Verifier,
		states:      NewStateStore(),
		redirectURL: cfg.RedirectURL,
		successURL:  cfg.SuccessURL,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat", h.handleChat)
	h.mux.HandleFunc("GET /v1/stores", h.handleListStores)
	h.mux.HandleFunc("GET /connect/{storeKey}", h.handleConnect)
	h.mux.HandleFunc("GET /oauth/callback", h.handleCallback)
	h.mux.HandleFunc("GET /health", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReady(cfg.Checkers))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	if err := h.verifier.Verify(auth.ExtractAPIKey(r)); err != nil {
		slog.Warn("rejected chat request", "request_id", requestID)
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.StoreKey != "" && !h.registry.Exists(req.StoreKey) {
		writeError(w, http.StatusNotFound, "unknown store")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)

	// From here on every failure is delivered in-band by the gateway;
	// the HTTP status is already committed.
	for ev := range h.gateway.Chat(ctx, req) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal stream event", "error", err, "request_id", requestID)
			return
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			// Caller went away; the gateway notices via ctx.
			return
		}
		flusher.Flush()
	}

	// SSE trailer for clients that key off the OpenAI-style sentinel.
	if _, err := w.Write([]byte("data: [DONE]\n\n")); err != nil {
		return
	}
	flusher.Flush()
}

type storeView struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Authorized bool   `json:"authorized"`
}

func (h *Handler) handleListStores(w http.ResponseWriter, r *http.Request) {
	if err := h.verifier.Verify(auth.ExtractAPIKey(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	list := h.registry.List()
	views := make([]storeView, 0, len(list))
	for _, s := range list {
		views = append(views, storeView{
			Key:        s.Key,
			Label:      s.Label,
			Authorized: h.broker.Authorized(r.Context(), s.Key),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"stores": views})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
