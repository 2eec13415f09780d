package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	sessions, err := NewRedisStore("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { sessions.Close() })
	return sessions, server
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	user, err := sessions.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if user.ID != "usr_1" {
		t.Fatalf("user id = %q", user.ID)
	}
}

func TestRefreshSessionExpiresAndRevokes(t *testing.T) {
	sessions, server := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.SaveRefreshSession(ctx, "short", "usr_1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	server.FastForward(2 * time.Second)
	if _, err := sessions.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired lookup error = %v", err)
	}

	if err := sessions.SaveRefreshSession(ctx, "long", "usr_2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := sessions.RevokeRefreshSession(ctx, "long"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if _, err := sessions.LookupRefreshSession(ctx, "long"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revoked lookup error = %v", err)
	}
	if err := sessions.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Fatalf("revoking unknown session should be a no-op: %v", err)
	}
}

func TestSaveRefreshSessionRejectsPastExpiry(t *testing.T) {
	sessions, _ := setupTestRedis(t)
	if err := sessions.SaveRefreshSession(context.Background(), "h", "u", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestAccessTokenRevocation(t *testing.T) {
	sessions, server := setupTestRedis(t)
	ctx := context.Background()

	if err := sessions.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken() error = %v", err)
	}
	revoked, err := sessions.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsAccessTokenRevoked() = %v, %v", revoked, err)
	}
	server.FastForward(2 * time.Minute)
	if revoked, _ := sessions.IsAccessTokenRevoked(ctx, "jti-1"); revoked {
		t.Fatal("revocation should lapse with the token")
	}
}

func TestSubmitLimiter(t *testing.T) {
	sessions, server := setupTestRedis(t)
	limiter := NewSubmitLimiter(sessions.Client(), 2, time.Minute)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(ctx, "frm_1", "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if allowed != want {
			t.Fatalf("attempt %d allowed = %v, want %v", i+1, allowed, want)
		}
	}
	if allowed, _ := limiter.Allow(ctx, "frm_2", "10.0.0.1"); !allowed {
		t.Fatal("limits are per form")
	}
	server.FastForward(2 * time.Minute)
	if allowed, _ := limiter.Allow(ctx, "frm_1", "10.0.0.1"); !allowed {
		t.Fatal("window should reset")
	}

	var disabled *SubmitLimiter
	if allowed, err := disabled.Allow(ctx, "f", "c"); !allowed || err != nil {
		t.Fatalf("nil limiter must allow: %v %v", allowed, err)
	}
}
