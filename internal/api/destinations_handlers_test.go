package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDestinationCreateMasksStreamKey(t *testing.T) {
	handler, store := newTestHandler(t)
	user := createTestUser(t, store, "alice", "user", "")

	req := authedRequest(http.MethodPost, "/api/destinations", jsonBody(t, map[string]string{
		"name":      "Main channel",
		"platform":  "youtube",
		"ingestUrl": "rtmp://a.rtmp.example.com/live2",
		"streamKey": "abcd-efgh-ijkl-9876",
	}), user)
	rec := httptest.NewRecorder()
	handler.Destinations(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created destinationResponse
	decodeBody(t, rec, &created)
	if created.StreamKey != "****9876" {
		t.Fatalf("stream key not masked: %q", created.StreamKey)
	}
	if strings.Contains(rec.Body.String(), "abcd-efgh") {
		t.Fatalf("response leaks the raw stream key: %s", rec.Body.String())
	}
	if !created.Active {
		t.Fatal("new destinations start active")
	}

	// The store still holds the real key for the encoder.
	stored, exists := store.GetDestination(created.ID)
	if !exists || stored.StreamKey != "abcd-efgh-ijkl-9876" {
		t.Fatalf("stored key = %q", stored.StreamKey)
	}
}

func TestDestinationPlanLimit(t *testing.T) {
	handler, store := newTestHandler(t)
	// Free plan allows a single destination.
	user := createTestUser(t, store, "alice", "user", "free")

	for i, wantStatus := range []int{http.StatusCreated, http.StatusForbidden} {
		req := authedRequest(http.MethodPost, "/api/destinations", jsonBody(t, map[string]string{
			"name":      "dest",
			"platform":  "twitch",
			"ingestUrl": "rtmp://ingest.example.com/app",
			"streamKey": "key-1234",
		}), user)
		rec := httptest.NewRecorder()
		handler.Destinations(rec, req)
		if rec.Code != wantStatus {
			t.Fatalf("create %d status = %d, want %d; body %s", i, rec.Code, wantStatus, rec.Body.String())
		}
	}
}

func TestDestinationUpdateAndDisable(t *testing.T) {
	handler, store := newTestHandler(t)
	user := createTestUser(t, store, "alice", "user", "")

	req := authedRequest(http.MethodPost, "/api/destinations", jsonBody(t, map[string]string{
		"name":      "Main",
		"platform":  "youtube",
		"ingestUrl": "rtmp://ingest.example.com/app",
		"streamKey": "key-1234",
	}), user)
	rec := httptest.NewRecorder()
	handler.Destinations(rec, req)
	var created destinationResponse
	decodeBody(t, rec, &created)

	req = authedRequest(http.MethodPatch, "/api/destinations/"+created.ID, jsonBody(t, map[string]interface{}{
		"name":   "Backup",
		"active": false,
	}), user)
	rec = httptest.NewRecorder()
	handler.DestinationByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated destinationResponse
	decodeBody(t, rec, &updated)
	if updated.Name != "Backup" || updated.Active {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestDestinationHiddenFromOtherOwners(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := createTestUser(t, store, "alice", "user", "")
	stranger := createTestUser(t, store, "mallory", "user", "")

	req := authedRequest(http.MethodPost, "/api/destinations", jsonBody(t, map[string]string{
		"name":      "Main",
		"platform":  "youtube",
		"ingestUrl": "rtmp://ingest.example.com/app",
		"streamKey": "key-1234",
	}), owner)
	rec := httptest.NewRecorder()
	handler.Destinations(rec, req)
	var created destinationResponse
	decodeBody(t, rec, &created)

	req = authedRequest(http.MethodGet, "/api/destinations/"+created.ID, nil, stranger)
	rec = httptest.NewRecorder()
	handler.DestinationByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner status = %d, want 404", rec.Code)
	}
}
