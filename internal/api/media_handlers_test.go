package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func TestMediaUploadAndList(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	user := createTestUser(t, store, "alice", "user", "")

	body, contentType := multipartUpload(t, "track.mp3", []byte("mp3-bytes"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}

	var uploaded mediaResponse
	decodeBody(t, rec, &uploaded)
	if uploaded.Filename != "track.mp3" || uploaded.Kind != "audio" {
		t.Fatalf("unexpected upload response: %+v", uploaded)
	}
	if uploaded.SizeBytes != int64(len("mp3-bytes")) {
		t.Fatalf("size = %d, want %d", uploaded.SizeBytes, len("mp3-bytes"))
	}

	item, exists := store.GetMediaItem(uploaded.ID)
	if !exists {
		t.Fatal("uploaded item missing from store")
	}
	if _, err := os.Stat(item.Path); err != nil {
		t.Fatalf("uploaded file not on disk: %v", err)
	}

	req = authedRequest(http.MethodGet, "/api/media", nil, user)
	rec = httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var items []mediaResponse
	decodeBody(t, rec, &items)
	if len(items) != 1 || items[0].ID != uploaded.ID {
		t.Fatalf("list = %+v", items)
	}
}

func TestMediaUploadRejectsDisallowedKind(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	// The free plan does not include video uploads.
	user := createTestUser(t, store, "alice", "user", "free")

	body, contentType := multipartUpload(t, "clip.mp4", []byte("mp4-bytes"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("upload status = %d, want 403; body %s", rec.Code, rec.Body.String())
	}

	// The rejected file must not linger on disk.
	entries, err := os.ReadDir(handler.MediaDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		children, err := os.ReadDir(handler.MediaDir + "/" + entry.Name())
		if err != nil {
			t.Fatalf("ReadDir owner dir: %v", err)
		}
		if len(children) != 0 {
			t.Fatalf("rejected upload left %d files behind", len(children))
		}
	}
}

func TestMediaUploadRejectsUnknownExtension(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	user := createTestUser(t, store, "alice", "user", "")

	body, contentType := multipartUpload(t, "notes.txt", []byte("text"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", rec.Code)
	}
}

func TestMediaUploadUnavailableWithoutMediaDir(t *testing.T) {
	handler, store := newTestHandler(t)
	user := createTestUser(t, store, "alice", "user", "")

	body, contentType := multipartUpload(t, "track.mp3", []byte("mp3"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload status = %d, want 503", rec.Code)
	}
}

func TestMediaFolderScopingAndMove(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	user := createTestUser(t, store, "alice", "user", "")
	folder, err := store.CreateFolder(user.ID, "Mixes", nil)
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	body, contentType := multipartUpload(t, "set.mp3", []byte("bytes"), map[string]string{"folderId": folder.ID})
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var uploaded mediaResponse
	decodeBody(t, rec, &uploaded)
	if uploaded.FolderID == nil || *uploaded.FolderID != folder.ID {
		t.Fatalf("folder not recorded: %+v", uploaded)
	}

	// folderId= (empty) scopes to the library root, which is now empty.
	req = authedRequest(http.MethodGet, "/api/media?folderId=", nil, user)
	rec = httptest.NewRecorder()
	handler.Media(rec, req)
	var atRoot []mediaResponse
	decodeBody(t, rec, &atRoot)
	if len(atRoot) != 0 {
		t.Fatalf("root scope = %+v, want empty", atRoot)
	}

	req = authedRequest(http.MethodGet, "/api/media?folderId="+folder.ID, nil, user)
	rec = httptest.NewRecorder()
	handler.Media(rec, req)
	var inFolder []mediaResponse
	decodeBody(t, rec, &inFolder)
	if len(inFolder) != 1 {
		t.Fatalf("folder scope = %+v, want one item", inFolder)
	}

	// Move back to the root.
	req = authedRequest(http.MethodPatch, "/api/media/"+uploaded.ID, jsonBody(t, map[string]interface{}{"folderId": nil}), user)
	rec = httptest.NewRecorder()
	handler.MediaByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d, body %s", rec.Code, rec.Body.String())
	}
	var moved mediaResponse
	decodeBody(t, rec, &moved)
	if moved.FolderID != nil {
		t.Fatalf("item still in folder after move: %+v", moved)
	}
}

func TestMediaDeleteRemovesFile(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	user := createTestUser(t, store, "alice", "user", "")

	body, contentType := multipartUpload(t, "track.mp3", []byte("bytes"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, user)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	var uploaded mediaResponse
	decodeBody(t, rec, &uploaded)

	item, _ := store.GetMediaItem(uploaded.ID)

	req = authedRequest(http.MethodDelete, "/api/media/"+uploaded.ID, nil, user)
	rec = httptest.NewRecorder()
	handler.MediaByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, exists := store.GetMediaItem(uploaded.ID); exists {
		t.Fatal("item still in store after delete")
	}
	if _, err := os.Stat(item.Path); !os.IsNotExist(err) {
		t.Fatalf("file still on disk after delete: %v", err)
	}
}

func TestMediaByIDHidesOtherOwners(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.MediaDir = t.TempDir()
	owner := createTestUser(t, store, "alice", "user", "")
	stranger := createTestUser(t, store, "mallory", "user", "")

	body, contentType := multipartUpload(t, "track.mp3", []byte("bytes"), nil)
	req := authedRequest(http.MethodPost, "/api/media", body, owner)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Media(rec, req)
	var uploaded mediaResponse
	decodeBody(t, rec, &uploaded)

	req = authedRequest(http.MethodGet, "/api/media/"+uploaded.ID, nil, stranger)
	rec = httptest.NewRecorder()
	handler.MediaByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner access status = %d, want 404", rec.Code)
	}
}
