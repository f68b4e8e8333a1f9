package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"litecast/internal/api"
	"litecast/internal/auth"
	"litecast/internal/storage"
	"litecast/internal/telemetry"
)

func newTestHandler(t *testing.T) (*api.Handler, storage.Repository) {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "store.json")
	store, err := storage.NewJSONRepository(storePath)
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	sessions := auth.NewSessionManager(time.Hour)
	return api.NewHandler(store, sessions), store
}

func createSessionToken(t *testing.T, handler *api.Handler, store storage.Repository, username string) (string, string) {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		Username: username,
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, _, err := handler.Sessions.Create(user.ID)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	return token, user.ID
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	handler, store := newTestHandler(t)
	token, userID := createSessionToken(t, handler, store, "tester")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		ctxUser, ok := api.UserFromContext(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		if ctxUser.ID != userID {
			t.Fatalf("expected user %s, got %s", userID, ctxUser.ID)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.AddCookie(&http.Cookie{Name: "litecast_session", Value: token})
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingSession(t *testing.T) {
	handler, _ := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareRejectsInvalidSession(t *testing.T) {
	handler, _ := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.AddCookie(&http.Cookie{Name: "litecast_session", Value: "expired-token"})
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareSkipsPublicPaths(t *testing.T) {
	handler, _ := newTestHandler(t)

	for _, path := range []string{"/healthz", "/metrics", "/api/auth/login", "/api/telemetry/ws", "/"} {
		nextCalled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
			w.WriteHeader(http.StatusNoContent)
		})
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		authMiddleware(handler, next).ServeHTTP(rec, req)
		if !nextCalled {
			t.Fatalf("expected %s to bypass session auth", path)
		}
	}
}

func TestRateLimitMiddlewareThrottlesLogins(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 1, LoginWindow: time.Minute})
	handler := rateLimitMiddleware(rl, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req1.RemoteAddr = "198.51.100.1:1234"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req2.RemoteAddr = "198.51.100.1:5678"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled login")
	}

	// A different client IP keeps its own budget.
	req3 := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req3.RemoteAddr = "198.51.100.2:1234"
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("expected other client to succeed, got %d", rec3.Code)
	}
}

func TestRateLimitMiddlewareGlobalBucket(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1})
	handler := rateLimitMiddleware(rl, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to hit the global limit, got %d", rec.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "198.51.100.10:1234", want: "198.51.100.10"},
		{name: "forwarded for", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, want: "203.0.113.5"},
		{name: "real ip", remoteAddr: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, want: "203.0.113.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			if got := extractClientIP(req); got != tc.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

type hijackableResponseRecorder struct {
	*httptest.ResponseRecorder
	conn      net.Conn
	rw        *bufio.ReadWriter
	handshake bytes.Buffer
	hijacked  bool
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func newHijackableResponseRecorder() (*hijackableResponseRecorder, net.Conn) {
	serverConn, clientConn := net.Pipe()
	recorder := &hijackableResponseRecorder{ResponseRecorder: httptest.NewRecorder(), conn: serverConn}
	writer := bufio.NewWriter(io.MultiWriter(&recorder.handshake, discardWriter{}))
	recorder.rw = bufio.NewReadWriter(bufio.NewReader(serverConn), writer)
	return recorder, clientConn
}

func (r *hijackableResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.hijacked = true
	return r.conn, r.rw, nil
}

func (r *hijackableResponseRecorder) Close() error {
	return r.conn.Close()
}

func TestTelemetryWebsocketUpgradesThroughMiddleware(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.Hub = telemetry.NewHub(telemetry.HubConfig{})
	token, _ := createSessionToken(t, handler, store, "viewer")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(handler, Config{Logger: logger, AuditLogger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/ws", nil)
	req.AddCookie(&http.Cookie{Name: "litecast_session", Value: token})
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	rw, clientConn := newHijackableResponseRecorder()
	defer rw.Close()
	defer clientConn.Close()

	srv.HTTPServer().Handler.ServeHTTP(rw, req)

	if !rw.hijacked {
		t.Fatalf("expected websocket handler to hijack the connection, got status %d: %s", rw.Code, rw.Body.String())
	}
	handshake := rw.handshake.String()
	if !strings.Contains(handshake, "101 Switching Protocols") {
		t.Fatalf("expected websocket upgrade, got %q", strings.TrimSpace(handshake))
	}
	if !strings.Contains(strings.ToLower(handshake), "sec-websocket-accept:") {
		t.Fatalf("expected Sec-WebSocket-Accept header, got %q", handshake)
	}
}
