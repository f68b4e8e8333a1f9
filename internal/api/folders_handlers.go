package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"litecast/internal/models"
	"litecast/internal/storage"
)

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type renameFolderRequest struct {
	Name string `json:"name"`
}

type folderResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ParentID  *string `json:"parentId,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func newFolderResponse(folder models.Folder) folderResponse {
	return folderResponse{
		ID:        folder.ID,
		Name:      folder.Name,
		ParentID:  folder.ParentID,
		CreatedAt: folder.CreatedAt.Format(timeFormat),
	}
}

// Folders serves the /api/folders collection.
func (h *Handler) Folders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		folders := h.Store.ListFolders(user.ID)
		responses := make([]folderResponse, 0, len(folders))
		for _, folder := range folders {
			responses = append(responses, newFolderResponse(folder))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		var req createFolderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		folder, err := h.Store.CreateFolder(user.ID, req.Name, req.ParentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, newFolderResponse(folder))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// FolderByID serves /api/folders/{id}: rename and delete.
func (h *Handler) FolderByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/folders/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown folder resource"))
		return
	}
	folder, exists := h.Store.GetFolder(id)
	if !exists || (folder.OwnerID != user.ID && !user.IsAdmin()) {
		writeError(w, http.StatusNotFound, fmt.Errorf("folder %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newFolderResponse(folder))
	case http.MethodPatch:
		var req renameFolderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		renamed, err := h.Store.RenameFolder(id, req.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newFolderResponse(renamed))
	case http.MethodDelete:
		if err := h.Store.DeleteFolder(id); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, storage.ErrFolderNotEmpty) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}
