package api

import (
	"fmt"
	"net/http"
	"strings"
)

// TelemetryWS upgrades to a WebSocket scoped to the authenticated user's
// broadcast events. Browser WebSocket clients cannot set headers, so a token
// query parameter is accepted alongside the usual cookie.
func (h *Handler) TelemetryWS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("telemetry feed is not configured"))
		return
	}
	token := ExtractToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing session token"))
		return
	}
	userID, _, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("validate session: %w", err))
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or expired session"))
		return
	}
	user, exists := h.Store.GetUser(userID)
	if !exists {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("account not found"))
		return
	}
	h.Hub.HandleConnection(w, r, user)
}
