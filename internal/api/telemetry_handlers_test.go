package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"litecast/internal/telemetry"
)

func TestTelemetryWSUnavailableWithoutHub(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/ws", nil)
	rec := httptest.NewRecorder()
	handler.TelemetryWS(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestTelemetryWSRequiresValidToken(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.Hub = telemetry.NewHub(telemetry.HubConfig{})
	createTestUser(t, store, "alice", "user", "")

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/ws", nil)
	rec := httptest.NewRecorder()
	handler.TelemetryWS(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/telemetry/ws?token=not-a-session", nil)
	rec = httptest.NewRecorder()
	handler.TelemetryWS(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}
