package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/andremlopes/storebridge/internal/domain"
)

// handleConnect starts the consent flow: it mints a state value bound to
// the store and redirects the operator to the authorization server.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	storeKey := r.PathValue("storeKey")
	if !h.registry.Exists(storeKey) {
		writeError(w, http.StatusNotFound, "unknown store")
		return
	}

	state := h.states.Issue(storeKey)
	url := h.oauth.AuthCodeURL(state)

	slog.Info("starting authorization", "store", storeKey)
	http.Redirect(w, r, url, http.StatusFound)
}

// handleCallback finishes the consent flow. The state value identifies
// which store the code belongs to; it is single-use, so a replayed
// callback fails before touching the authorization server.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		slog.Warn("authorization denied", "error", errCode, "description", query.Get("error_description"))
		writeError(w, http.StatusBadGateway, "authorization denied: "+errCode)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	storeKey, ok := h.states.Claim(state)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown or expired state")
		return
	}

	if err := h.broker.CompleteAuthorization(r.Context(), storeKey, code, h.redirectURL); err != nil {
		slog.Error("authorization failed", "store", storeKey, "error", err)

		var exchErr *domain.ExchangeError
		switch {
		case errors.Is(err, domain.ErrUnknownStore):
			writeError(w, http.StatusNotFound, "unknown store")
		case errors.As(err, &exchErr):
			msg := fmt.Sprintf("token exchange rejected: upstream status %d", exchErr.Status)
			if exchErr.Body != "" {
				msg += ": " + exchErr.Body
			}
			writeError(w, http.StatusBadGateway, msg)
		default:
			writeError(w, http.StatusInternalServerError, "authorization failed")
		}
		return
	}

	http.Redirect(w, r, h.successURL, http.StatusFound)
}
