package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminUserCrud(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "root", "admin", "")

	req := authedRequest(http.MethodPost, "/api/users", jsonBody(t, map[string]string{
		"username": "Bob",
		"password": "hunter22hunter22",
		"planId":   "pro",
	}), admin)
	rec := httptest.NewRecorder()
	handler.Users(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created userResponse
	decodeBody(t, rec, &created)
	if created.Username != "bob" || created.PlanID != "pro" || created.Role != "user" {
		t.Fatalf("created user = %+v", created)
	}

	req = authedRequest(http.MethodGet, "/api/users", nil, admin)
	rec = httptest.NewRecorder()
	handler.Users(rec, req)
	var listed []userResponse
	decodeBody(t, rec, &listed)
	if len(listed) != 2 {
		t.Fatalf("user count = %d, want 2", len(listed))
	}

	role := "admin"
	plan := "creator"
	req = authedRequest(http.MethodPatch, "/api/users/"+created.ID, jsonBody(t, map[string]*string{
		"role":   &role,
		"planId": &plan,
	}), admin)
	rec = httptest.NewRecorder()
	handler.UserByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated userResponse
	decodeBody(t, rec, &updated)
	if updated.Role != "admin" || updated.PlanID != "creator" {
		t.Fatalf("patch not applied: %+v", updated)
	}

	req = authedRequest(http.MethodDelete, "/api/users/"+created.ID, nil, admin)
	rec = httptest.NewRecorder()
	handler.UserByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, exists := store.GetUser(created.ID); exists {
		t.Fatal("user still in store after delete")
	}
}

func TestAdminCannotDeleteOwnAccount(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "root", "admin", "")

	req := authedRequest(http.MethodDelete, "/api/users/"+admin.ID, nil, admin)
	rec := httptest.NewRecorder()
	handler.UserByID(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self-delete status = %d, want 400", rec.Code)
	}
	if _, exists := store.GetUser(admin.ID); !exists {
		t.Fatal("admin account was deleted")
	}
}

func TestAdminSetsUserPassword(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "root", "admin", "")
	user := createTestUser(t, store, "bob", "user", "")

	req := authedRequest(http.MethodPut, "/api/users/"+user.ID+"/password", jsonBody(t, map[string]string{
		"password": "a brand new secret",
	}), admin)
	rec := httptest.NewRecorder()
	handler.UserByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set password status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := store.AuthenticateUser("bob", "a brand new secret"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if _, err := store.AuthenticateUser("bob", "correct horse battery"); err == nil {
		t.Fatal("old password still accepted")
	}
}

func TestPlansVisibleToAnyUserEditableByAdmin(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "root", "admin", "")
	user := createTestUser(t, store, "bob", "user", "")

	req := authedRequest(http.MethodGet, "/api/plans", nil, user)
	rec := httptest.NewRecorder()
	handler.Plans(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var plans []struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &plans)
	if len(plans) < 3 {
		t.Fatalf("plan count = %d, want the built-in tiers", len(plans))
	}

	req = authedRequest(http.MethodPatch, "/api/plans/free", jsonBody(t, map[string]interface{}{
		"dailyLimitHours": 2,
	}), user)
	rec = httptest.NewRecorder()
	handler.PlanByID(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin patch status = %d, want 403", rec.Code)
	}

	req = authedRequest(http.MethodPatch, "/api/plans/free", jsonBody(t, map[string]interface{}{
		"dailyLimitHours": 2,
	}), admin)
	rec = httptest.NewRecorder()
	handler.PlanByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin patch status = %d, body %s", rec.Code, rec.Body.String())
	}

	plan, exists := store.GetPlan("free")
	if !exists {
		t.Fatal("free plan missing")
	}
	if plan.DailyLimitHours != 2 {
		t.Fatalf("daily limit = %d hours, want 2", plan.DailyLimitHours)
	}
}
