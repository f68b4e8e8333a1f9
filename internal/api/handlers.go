package api

import (
	"net/http"
	"time"

	"litecast/internal/auth"
	"litecast/internal/engine"
	"litecast/internal/observability/metrics"
	"litecast/internal/storage"
	"litecast/internal/telemetry"
)

const timeFormat = time.RFC3339Nano

// Handler carries the dependencies shared by every endpoint. Store and
// Sessions are required; Engine and Hub may be nil for deployments that only
// serve the library (broadcast endpoints then answer 503).
type Handler struct {
	Store               storage.Repository
	Sessions            *auth.SessionManager
	Engine              *engine.Engine
	Hub                 *telemetry.Hub
	Metrics             *metrics.Recorder
	MediaDir            string
	SessionCookiePolicy SessionCookiePolicy
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

// Health reports process liveness plus the datastore's reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	services := map[string]string{}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			services["storage"] = "unreachable"
		} else {
			services["storage"] = "ok"
		}
	}
	if err := h.sessionManager().Ping(r.Context()); err != nil {
		status = "degraded"
		services["sessions"] = "unreachable"
	} else {
		services["sessions"] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
