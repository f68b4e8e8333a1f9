package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"litecast/internal/engine"
	"litecast/internal/models"
)

type startBroadcastRequest struct {
	MediaIDs       []string `json:"mediaIds"`
	DestinationIDs []string `json:"destinationIds"`
	Loop           bool     `json:"loop"`
	BackdropID     *string  `json:"backdropId"`
	OverlayText    string   `json:"overlayText"`
}

type startBroadcastResponse struct {
	SessionID string `json:"sessionId"`
}

type broadcastStatusResponse struct {
	Sessions              []engine.Info `json:"sessions"`
	UsageSeconds          int64         `json:"usageSeconds"`
	UsageRemainingSeconds *int64        `json:"usageRemainingSeconds,omitempty"`
}

// Broadcasts serves the /api/broadcasts collection: start, status, stop-all.
func (h *Handler) Broadcasts(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("broadcast engine is not configured"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.broadcastStatus(w, r, user)
	case http.MethodPost:
		h.startBroadcast(w, r, user)
	case http.MethodDelete:
		target := user.ID
		if user.IsAdmin() {
			if requested := strings.TrimSpace(r.URL.Query().Get("userId")); requested != "" {
				target = requested
			} else if r.URL.Query().Get("all") == "true" {
				target = ""
			}
		}
		stopped := h.Engine.StopBroadcast("", target)
		writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
	default:
		methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *Handler) broadcastStatus(w http.ResponseWriter, r *http.Request, user models.User) {
	target := user
	if user.IsAdmin() {
		if requested := strings.TrimSpace(r.URL.Query().Get("userId")); requested != "" {
			other, exists := h.Store.GetUser(requested)
			if !exists {
				writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", requested))
				return
			}
			target = other
		}
	}
	usage, err := h.Store.SyncUsage(target.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := broadcastStatusResponse{
		Sessions:     h.Engine.ListActiveSessions(target.ID),
		UsageSeconds: usage.UsageSeconds,
	}
	plan, err := h.Store.PlanForUser(target.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if limit := plan.DailyLimitSeconds(); limit > 0 {
		remaining := limit - usage.UsageSeconds
		if remaining < 0 {
			remaining = 0
		}
		resp.UsageRemainingSeconds = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) startBroadcast(w http.ResponseWriter, r *http.Request, user models.User) {
	var req startBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	plan, err := h.Store.PlanForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if plan.MaxActiveStreams > 0 && h.Engine.Registry().CountByUser(user.ID) >= plan.MaxActiveStreams {
		writeError(w, http.StatusConflict, fmt.Errorf("active stream limit reached for plan"))
		return
	}

	playlist, err := h.resolvePlaylist(user, req.MediaIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	destinations, err := h.resolveDestinations(user, req.DestinationIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var backdrop *models.MediaItem
	if req.BackdropID != nil && *req.BackdropID != "" {
		item, exists := h.Store.GetMediaItem(*req.BackdropID)
		if !exists || (item.OwnerID != user.ID && !user.IsAdmin()) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("backdrop %s not found", *req.BackdropID))
			return
		}
		if item.Kind != models.MediaImage {
			writeError(w, http.StatusBadRequest, fmt.Errorf("backdrop must be an image"))
			return
		}
		backdrop = &item
	}

	usage, err := h.Store.SyncUsage(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	start := engine.StartRequest{
		UserID:              user.ID,
		Playlist:            playlist,
		Destinations:        destinations,
		Loop:                req.Loop,
		Backdrop:            backdrop,
		OverlayText:         req.OverlayText,
		CurrentUsageSeconds: usage.UsageSeconds,
		DailyLimitSeconds:   plan.DailyLimitSeconds(),
	}
	sessionID, err := h.Engine.StartBroadcast(r.Context(), start)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrQuotaExhausted):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, engine.ErrNoMedia),
			errors.Is(err, engine.ErrNoDestination),
			errors.Is(err, engine.ErrMixedPlaylist):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, startBroadcastResponse{SessionID: sessionID})
}

func (h *Handler) resolvePlaylist(user models.User, mediaIDs []string) ([]models.MediaItem, error) {
	if len(mediaIDs) == 0 {
		return nil, fmt.Errorf("mediaIds must name at least one item")
	}
	playlist := make([]models.MediaItem, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		item, exists := h.Store.GetMediaItem(id)
		if !exists || (item.OwnerID != user.ID && !user.IsAdmin()) {
			return nil, fmt.Errorf("media item %s not found", id)
		}
		if item.Kind == models.MediaImage {
			return nil, fmt.Errorf("media item %s is an image and cannot be played", id)
		}
		playlist = append(playlist, item)
	}
	return playlist, nil
}

// resolveDestinations expands an explicit id list, or defaults to every
// active destination the user has configured.
func (h *Handler) resolveDestinations(user models.User, destinationIDs []string) ([]models.Destination, error) {
	if len(destinationIDs) == 0 {
		var active []models.Destination
		for _, dest := range h.Store.ListDestinations(user.ID) {
			if dest.Active {
				active = append(active, dest)
			}
		}
		if len(active) == 0 {
			return nil, fmt.Errorf("no active destinations configured")
		}
		return active, nil
	}
	destinations := make([]models.Destination, 0, len(destinationIDs))
	for _, id := range destinationIDs {
		dest, exists := h.Store.GetDestination(id)
		if !exists || (dest.OwnerID != user.ID && !user.IsAdmin()) {
			return nil, fmt.Errorf("destination %s not found", id)
		}
		if !dest.Active {
			return nil, fmt.Errorf("destination %s is disabled", id)
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

// BroadcastByID serves /api/broadcasts/{id}: inspect and stop one session.
func (h *Handler) BroadcastByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("broadcast engine is not configured"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/broadcasts/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown broadcast resource"))
		return
	}
	session, exists := h.Engine.Registry().Lookup(id)
	if !exists || (session.UserID != user.ID && !user.IsAdmin()) {
		writeError(w, http.StatusNotFound, fmt.Errorf("broadcast %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, session.Snapshot())
	case http.MethodDelete:
		stopped := h.Engine.StopBroadcast(id, "")
		writeJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}
