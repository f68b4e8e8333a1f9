package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"litecast/internal/models"
	"litecast/internal/storage"
)

type createDestinationRequest struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	IngestURL string `json:"ingestUrl"`
	StreamKey string `json:"streamKey"`
}

type updateDestinationRequest struct {
	Name      *string `json:"name"`
	Platform  *string `json:"platform"`
	IngestURL *string `json:"ingestUrl"`
	StreamKey *string `json:"streamKey"`
	Active    *bool   `json:"active"`
}

// destinationResponse never carries the stream key itself, only a masked
// hint so owners can tell their keys apart.
type destinationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	IngestURL string `json:"ingestUrl"`
	StreamKey string `json:"streamKey"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
}

func newDestinationResponse(dest models.Destination) destinationResponse {
	return destinationResponse{
		ID:        dest.ID,
		Name:      dest.Name,
		Platform:  dest.Platform,
		IngestURL: dest.IngestURL,
		StreamKey: maskStreamKey(dest.StreamKey),
		Active:    dest.Active,
		CreatedAt: dest.CreatedAt.Format(timeFormat),
	}
}

func maskStreamKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Destinations serves the /api/destinations collection.
func (h *Handler) Destinations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		destinations := h.Store.ListDestinations(user.ID)
		responses := make([]destinationResponse, 0, len(destinations))
		for _, dest := range destinations {
			responses = append(responses, newDestinationResponse(dest))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		var req createDestinationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dest, err := h.Store.CreateDestination(storage.CreateDestinationParams{
			OwnerID:   user.ID,
			Name:      req.Name,
			Platform:  req.Platform,
			IngestURL: req.IngestURL,
			StreamKey: req.StreamKey,
		})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, storage.ErrDestinationLimit) {
				status = http.StatusForbidden
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDestinationResponse(dest))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// DestinationByID serves /api/destinations/{id}.
func (h *Handler) DestinationByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/destinations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown destination resource"))
		return
	}
	dest, exists := h.Store.GetDestination(id)
	if !exists || (dest.OwnerID != user.ID && !user.IsAdmin()) {
		writeError(w, http.StatusNotFound, fmt.Errorf("destination %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newDestinationResponse(dest))
	case http.MethodPatch:
		var req updateDestinationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.Store.UpdateDestination(id, storage.DestinationUpdate{
			Name:      req.Name,
			Platform:  req.Platform,
			IngestURL: req.IngestURL,
			StreamKey: req.StreamKey,
			Active:    req.Active,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newDestinationResponse(updated))
	case http.MethodDelete:
		if err := h.Store.DeleteDestination(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}
