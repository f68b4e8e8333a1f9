package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignupLoginLogoutFlow(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]string{
		"username": "Alice",
		"password": "hunter22hunter22",
	}))
	rec := httptest.NewRecorder()
	handler.Signup(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}

	var signedUp authResponse
	decodeBody(t, rec, &signedUp)
	if signedUp.User.Username != "alice" {
		t.Fatalf("username not normalised: %q", signedUp.User.Username)
	}
	if signedUp.User.PlanID != "free" {
		t.Fatalf("signup plan = %q, want free", signedUp.User.PlanID)
	}

	cookie := sessionCookieFrom(t, rec)
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}

	// Fresh login issues a new session.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{
		"username": "alice",
		"password": "hunter22hunter22",
	}))
	rec = httptest.NewRecorder()
	handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	cookie = sessionCookieFrom(t, rec)

	// The session endpoint accepts the cookie and reports plan usage.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body %s", rec.Code, rec.Body.String())
	}
	var session struct {
		User userResponse `json:"user"`
		Plan struct {
			ID string `json:"id"`
		} `json:"plan"`
		UsageSeconds int64 `json:"usageSeconds"`
	}
	decodeBody(t, rec, &session)
	if session.User.Username != "alice" || session.Plan.ID != "free" {
		t.Fatalf("unexpected session payload: %s", rec.Body.String())
	}

	// Logout revokes the token.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.Logout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.Session(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("session after logout status = %d, want 401", rec.Code)
	}
}

func TestLoginWrongPasswordIsGeneric(t *testing.T) {
	handler, store := newTestHandler(t)
	createTestUser(t, store, "bob", "user", "")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{
		"username": "bob",
		"password": "not the password",
	}))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid credentials") {
		t.Fatalf("error should not reveal which field failed: %s", rec.Body.String())
	}
}

func TestSignupRejectsWeakPassword(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]string{
		"username": "carol",
		"password": "short",
	}))
	rec := httptest.NewRecorder()
	handler.Signup(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("signup status = %d, want 400", rec.Code)
	}
}

func TestUserResponseNeverCarriesPasswordHash(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]string{
		"username": "dave",
		"password": "hunter22hunter22",
	}))
	rec := httptest.NewRecorder()
	handler.Signup(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d", rec.Code)
	}
	body := strings.ToLower(rec.Body.String())
	if strings.Contains(body, "password") || strings.Contains(body, "hash") {
		t.Fatalf("auth response leaks credential material: %s", rec.Body.String())
	}
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}
