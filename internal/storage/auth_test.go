package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashFormat(t *testing.T) {
	hashed, err := hashPassword("correct horse")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	parts := strings.Split(hashed, "$")
	if len(parts) != 5 {
		t.Fatalf("expected 5 hash segments, got %d (%q)", len(parts), hashed)
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		t.Fatalf("unexpected hash identifier: %q", hashed)
	}
	if err := verifyPassword(hashed, "correct horse"); err != nil {
		t.Fatalf("verifyPassword round trip: %v", err)
	}
	if err := verifyPassword(hashed, "wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []string{
		"",
		"plaintext",
		"bcrypt$sha256$120000$aa$bb",
		"pbkdf2$sha256$not-a-number$aa$bb",
		"pbkdf2$sha256$120000$zz$bb",
	}
	for _, hash := range cases {
		if err := verifyPassword(hash, "anything"); err == nil {
			t.Fatalf("expected error for hash %q", hash)
		}
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "listener")

	user, err := store.AuthenticateUser("  LISTENER ", "correct horse")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if user.Username != "listener" {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := store.AuthenticateUser("listener", "wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := store.AuthenticateUser("nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestSetUserPassword(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "rotator")

	if _, err := store.SetUserPassword(user.ID, "short"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if _, err := store.SetUserPassword(user.ID, "fresh passphrase"); err != nil {
		t.Fatalf("SetUserPassword: %v", err)
	}
	if _, err := store.AuthenticateUser("rotator", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to stop working")
	}
	if _, err := store.AuthenticateUser("rotator", "fresh passphrase"); err != nil {
		t.Fatalf("expected new password to authenticate: %v", err)
	}
}
