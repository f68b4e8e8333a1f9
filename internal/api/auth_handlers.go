package api

import (
	"fmt"
	"net/http"
	"time"

	"litecast/internal/models"
	"litecast/internal/storage"
)

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PlanID       string `json:"planId"`
	StorageUsed  int64  `json:"storageUsedBytes"`
	UsageSeconds int64  `json:"usageSeconds"`
	CreatedAt    string `json:"createdAt"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt string       `json:"expiresAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:           user.ID,
		Username:     user.Username,
		Role:         user.Role,
		PlanID:       user.PlanID,
		StorageUsed:  user.StorageUsed,
		UsageSeconds: user.UsageSeconds,
		CreatedAt:    user.CreatedAt.Format(timeFormat),
	}
}

func newAuthResponse(user models.User, expiresAt time.Time) authResponse {
	return authResponse{
		User:      newUserResponse(user),
		ExpiresAt: expiresAt.UTC().Format(timeFormat),
	}
}

// Signup registers a self-service account on the starter plan and opens a
// session for it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: req.Username,
		Password: req.Password,
		PlanID:   storage.DefaultPlanID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusCreated, newAuthResponse(user, expiresAt))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, newAuthResponse(user, expiresAt))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	if token := ExtractToken(r); token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	h.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Session reports the authenticated account plus its effective plan; the
// dashboard paints its quota bars from this.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	user, err := h.AuthenticateRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	plan, err := h.Store.PlanForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	usage, err := h.Store.SyncUsage(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload := map[string]interface{}{
		"user":         newUserResponse(user),
		"plan":         plan,
		"usageSeconds": usage.UsageSeconds,
	}
	if limit := plan.DailyLimitSeconds(); limit > 0 {
		remaining := limit - usage.UsageSeconds
		if remaining < 0 {
			remaining = 0
		}
		payload["usageRemainingSeconds"] = remaining
	}
	writeJSON(w, http.StatusOK, payload)
}
