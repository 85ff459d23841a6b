package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, s
}

func TestNewRedisStore(t *testing.T) {
	rs, _ := setupTestRedis(t)

	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := rs.SaveRefreshSession(ctx, "hash-abc", "usr_1", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-abc")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" {
		t.Errorf("expected user ID usr_1, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	expiresAt := time.Now().Add(time.Second)
	if err := rs.SaveRefreshSession(ctx, "hash-exp", "usr_2", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	rs, _ := setupTestRedis(t)

	if _, err := rs.LookupRefreshSession(context.Background(), "no-such-hash"); err == nil {
		t.Error("expected error for non-existent token, got nil")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := rs.SaveRefreshSession(ctx, "hash-rv", "usr_3", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-rv"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-rv"); err == nil {
		t.Error("expected error for revoked token, got nil")
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	rs, _ := setupTestRedis(t)

	// Revoking a token that never existed is not an error.
	if err := rs.RevokeRefreshSession(context.Background(), "no-such-hash"); err != nil {
		t.Errorf("RevokeRefreshSession for non-existent token failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := rs.SaveRefreshSession(ctx, "hash-a", "usr_a", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession a failed: %v", err)
	}
	if err := rs.SaveRefreshSession(ctx, "hash-b", "usr_b", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession b failed: %v", err)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("Revoke hash-a failed: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-a"); err == nil {
		t.Error("expected error for revoked hash-a, got nil")
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("Lookup hash-b after revoke failed: %v", err)
	}
	if user.ID != "usr_b" {
		t.Errorf("expected usr_b after revoke, got %s", user.ID)
	}
}
