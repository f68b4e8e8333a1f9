package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractTokenPrefersBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "cookie-token"})
	if got := ExtractToken(req); got != "header-token" {
		t.Fatalf("ExtractToken = %q, want header token", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "cookie-token"})
	if got := ExtractToken(req); got != "cookie-token" {
		t.Fatalf("ExtractToken = %q, want cookie token", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/media", nil)
	if got := ExtractToken(req); got != "" {
		t.Fatalf("ExtractToken = %q, want empty", got)
	}
}

func TestSessionCookieSecureFollowsRequest(t *testing.T) {
	handler := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "http://litecast.example/api/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.setSessionCookie(rec, req, "token", time.Now().Add(time.Hour))
	cookie := rec.Result().Cookies()[0]
	if cookie.Secure {
		t.Fatal("plain HTTP request must not mark the cookie Secure")
	}

	req = httptest.NewRequest(http.MethodPost, "http://litecast.example/api/auth/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	handler.setSessionCookie(rec, req, "token", time.Now().Add(time.Hour))
	cookie = rec.Result().Cookies()[0]
	if !cookie.Secure {
		t.Fatal("forwarded HTTPS request must mark the cookie Secure")
	}
}
