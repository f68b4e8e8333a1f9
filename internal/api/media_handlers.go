package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"litecast/internal/models"
	"litecast/internal/storage"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing; file
// parts beyond it spill to disk.
const maxUploadMemory = 8 << 20

type mediaResponse struct {
	ID        string           `json:"id"`
	Filename  string           `json:"filename"`
	SizeBytes int64            `json:"sizeBytes"`
	Kind      models.MediaKind `json:"kind"`
	FolderID  *string          `json:"folderId,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

func newMediaResponse(item models.MediaItem) mediaResponse {
	return mediaResponse{
		ID:        item.ID,
		Filename:  item.Filename,
		SizeBytes: item.SizeBytes,
		Kind:      item.Kind,
		FolderID:  item.FolderID,
		CreatedAt: item.CreatedAt.Format(timeFormat),
	}
}

// Media serves the /api/media collection: listing and multipart upload.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var folderID *string
		if r.URL.Query().Has("folderId") {
			value := strings.TrimSpace(r.URL.Query().Get("folderId"))
			folderID = &value
		}
		items := h.Store.ListMediaItems(user.ID, folderID)
		responses := make([]mediaResponse, 0, len(items))
		for _, item := range items {
			responses = append(responses, newMediaResponse(item))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		h.uploadMedia(w, r, user)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) uploadMedia(w http.ResponseWriter, r *http.Request, user models.User) {
	if h.MediaDir == "" {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("media uploads are not configured"))
		return
	}
	// Cheap rejection on the declared size before reading a byte; the store
	// enforces the limit again on the measured size.
	if !user.IsAdmin() && r.ContentLength > 0 {
		if err := h.precheckStorage(user, r.ContentLength); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if _, ok := models.ParseMediaKind(filepath.Ext(filename)); !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported file type %q", filepath.Ext(filename)))
		return
	}

	var folderID *string
	if value := strings.TrimSpace(r.FormValue("folderId")); value != "" {
		folderID = &value
	}

	path, size, err := h.saveUpload(user.ID, filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}

	item, err := h.Store.CreateMediaItem(storage.CreateMediaItemParams{
		OwnerID:   user.ID,
		Filename:  filename,
		Path:      path,
		SizeBytes: size,
		FolderID:  folderID,
	})
	if err != nil {
		os.Remove(path)
		status := http.StatusBadRequest
		if errors.Is(err, storage.ErrStorageQuotaExceeded) {
			status = http.StatusRequestEntityTooLarge
		}
		if errors.Is(err, storage.ErrKindNotAllowed) {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	h.metrics().AddUploadBytes(size)
	writeJSON(w, http.StatusCreated, newMediaResponse(item))
}

func (h *Handler) precheckStorage(user models.User, declared int64) error {
	plan, err := h.Store.PlanForUser(user.ID)
	if err != nil {
		return err
	}
	if plan.MaxStorageMB <= 0 {
		return nil
	}
	limit := plan.MaxStorageMB * 1024 * 1024
	if user.StorageUsed+declared > limit {
		return storage.ErrStorageQuotaExceeded
	}
	return nil
}

// saveUpload streams the part to a uniquely named file under the owner's
// library directory and returns the final path and measured size.
func (h *Handler) saveUpload(ownerID, filename string, src io.Reader) (string, int64, error) {
	dir := filepath.Join(h.MediaDir, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, hex.EncodeToString(suffix)+strings.ToLower(filepath.Ext(filename)))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

type moveMediaRequest struct {
	FolderID *string `json:"folderId"`
}

// MediaByID serves /api/media/{id}: move and delete.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/media/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown media resource"))
		return
	}
	item, exists := h.Store.GetMediaItem(id)
	if !exists || (item.OwnerID != user.ID && !user.IsAdmin()) {
		writeError(w, http.StatusNotFound, fmt.Errorf("media item %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newMediaResponse(item))
	case http.MethodPatch:
		var req moveMediaRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		moved, err := h.Store.MoveMediaItem(id, req.FolderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newMediaResponse(moved))
	case http.MethodDelete:
		removed, err := h.Store.DeleteMediaItem(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if removed.Path != "" {
			os.Remove(removed.Path)
		}
		h.metrics().AddUploadBytes(-removed.SizeBytes)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}
