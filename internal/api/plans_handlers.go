package api

import (
	"fmt"
	"net/http"
	"strings"

	"litecast/internal/models"
	"litecast/internal/storage"
)

type updatePlanRequest struct {
	Name             *string             `json:"name"`
	MaxStorageMB     *int64              `json:"maxStorageMb"`
	AllowedKinds     *[]models.MediaKind `json:"allowedKinds"`
	DailyLimitHours  *int                `json:"dailyLimitHours"`
	MaxActiveStreams *int                `json:"maxActiveStreams"`
	MaxDestinations  *int                `json:"maxDestinations"`
	PriceText        *string             `json:"priceText"`
	FeaturesText     *string             `json:"featuresText"`
}

// Plans lists the subscription tiers. Any authenticated user may read them;
// the pricing page is built from this response.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Store.ListPlans())
}

// PlanByID serves /api/plans/{id}. Updates are administration only.
func (h *Handler) PlanByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/plans/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown plan resource"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		plan, exists := h.Store.GetPlan(id)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("plan %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, plan)
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req updatePlanRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		plan, err := h.Store.UpdatePlan(id, storage.PlanUpdate{
			Name:             req.Name,
			MaxStorageMB:     req.MaxStorageMB,
			AllowedKinds:     req.AllowedKinds,
			DailyLimitHours:  req.DailyLimitHours,
			MaxActiveStreams: req.MaxActiveStreams,
			MaxDestinations:  req.MaxDestinations,
			PriceText:        req.PriceText,
			FeaturesText:     req.FeaturesText,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	default:
		methodNotAllowed(w, "GET, PATCH")
	}
}
