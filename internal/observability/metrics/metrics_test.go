package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderWritesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/broadcasts/1234567890abcdef", 200, 30*time.Millisecond)
	recorder.SessionStarted("audio")
	recorder.SessionEnded("stopped")
	recorder.QuotaStop()
	recorder.FeederSkip()
	recorder.ObserveUsageCommit("ok")
	recorder.ObserveTelemetryEvent("log")
	recorder.AddUploadBytes(2048)

	var sb strings.Builder
	recorder.Write(&sb)
	output := sb.String()

	for _, want := range []string{
		`litecast_http_requests_total{method="GET",path="/api/broadcasts/:id",status="200"} 1`,
		`litecast_session_events_total{event="start",label="audio"} 1`,
		`litecast_session_events_total{event="end",label="stopped"} 1`,
		"litecast_active_sessions 0",
		"litecast_quota_stops_total 1",
		"litecast_feeder_skips_total 1",
		`litecast_usage_commits_total{outcome="ok"} 1`,
		`litecast_telemetry_events_total{kind="log"} 1`,
		"litecast_media_library_bytes 2048",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("missing %q in output:\n%s", want, output)
		}
	}
}

func TestActiveSessionsGaugeNeverGoesNegative(t *testing.T) {
	recorder := New()
	recorder.SessionEnded("stopped")
	recorder.SessionEnded("stopped")
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("active sessions = %d, want 0", got)
	}

	recorder.SessionStarted("video")
	if got := recorder.ActiveSessions(); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}
	recorder.SessionEnded("completed")
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("active sessions = %d, want 0", got)
	}
}

func TestHandlerServesTextExposition(t *testing.T) {
	recorder := New()
	recorder.SessionStarted("audio")

	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "litecast_active_sessions 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("POST", "/api/auth/login", 429, time.Millisecond)
	recorder.SessionStarted("audio")
	recorder.Reset()

	var sb strings.Builder
	recorder.Write(&sb)
	if strings.Contains(sb.String(), "litecast_http_requests_total{") {
		t.Fatal("expected request counters to be cleared")
	}
	if recorder.ActiveSessions() != 0 {
		t.Fatalf("active sessions = %d after reset", recorder.ActiveSessions())
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/api/media", "/api/media"},
		{"/api/media/0d9b1a2c3e4f5061728394a5", "/api/media/:id"},
		{"/api/users/1234", "/api/users/:id"},
		{"/api/plans/free", "/api/plans/free"},
		{"/api/media/", "/api/media"},
	}
	for _, tc := range tests {
		if got := normalizePath(tc.path); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/destinations", nil))

	var sb strings.Builder
	recorder.Write(&sb)
	if !strings.Contains(sb.String(), `litecast_http_requests_total{method="POST",path="/api/destinations",status="201"} 1`) {
		t.Fatalf("missing request counter in output:\n%s", sb.String())
	}
}
