package server

import (
	"testing"
	"time"

	"litecast/internal/testsupport/redisstub"
)

func TestRedisStoreCountsLoginWindow(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer srv.Close()

	store := newRedisStore(srv.Addr(), "", 2*time.Second)

	for i := 0; i < 3; i++ {
		allowed, _, err := store.Allow("litecast:login:203.0.113.7", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow attempt %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("expected attempt %d to be allowed", i+1)
		}
	}

	allowed, retryAfter, err := store.Allow("litecast:login:203.0.113.7", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("expected attempt over the limit to be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}

	// A different client address keeps an independent counter.
	allowed, _, err = store.Allow("litecast:login:203.0.113.8", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow other client: %v", err)
	}
	if !allowed {
		t.Fatal("expected other client to be allowed")
	}
}

func TestRedisStoreAuthenticates(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "sekrit"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer srv.Close()

	store := newRedisStore(srv.Addr(), "sekrit", 2*time.Second)
	allowed, _, err := store.Allow("litecast:login:203.0.113.9", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow with auth: %v", err)
	}
	if !allowed {
		t.Fatal("expected first attempt to be allowed")
	}

	wrong := newRedisStore(srv.Addr(), "wrong", 2*time.Second)
	if _, _, err := wrong.Allow("litecast:login:203.0.113.9", 1, time.Minute); err == nil {
		t.Fatal("expected error with wrong password")
	}
}

func TestRedisStoreReportsDialFailure(t *testing.T) {
	store := newRedisStore("127.0.0.1:1", "", 200*time.Millisecond)
	if _, _, err := store.Allow("litecast:login:test", 1, time.Minute); err == nil {
		t.Fatal("expected dial error for closed port")
	}
}
