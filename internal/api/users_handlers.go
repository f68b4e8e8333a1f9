package api

import (
	"fmt"
	"net/http"
	"strings"

	"litecast/internal/storage"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	PlanID   string `json:"planId"`
}

type updateUserRequest struct {
	Role   *string `json:"role"`
	PlanID *string `json:"planId"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// Users serves the /api/users collection. Administration only.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		users := h.Store.ListUsers()
		responses := make([]userResponse, 0, len(users))
		for _, user := range users {
			responses = append(responses, newUserResponse(user))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.CreateUser(storage.CreateUserParams{
			Username: req.Username,
			Password: req.Password,
			Role:     req.Role,
			PlanID:   req.PlanID,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newUserResponse(user))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// UserByID serves /api/users/{id} and /api/users/{id}/password.
func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("user id is required"))
		return
	}
	id := parts[0]

	if len(parts) == 2 && parts[1] == "password" {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, "PUT")
			return
		}
		var req setPasswordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.SetUserPassword(id, req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown user resource"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, exists := h.Store.GetUser(id)
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Errorf("user %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.UpdateUser(id, storage.UserUpdate{
			Role:   req.Role,
			PlanID: req.PlanID,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		if id == actor.ID {
			writeError(w, http.StatusBadRequest, fmt.Errorf("cannot delete the account you are signed in with"))
			return
		}
		if err := h.Store.DeleteUser(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if h.Engine != nil {
			h.Engine.StopBroadcast("", id)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}
