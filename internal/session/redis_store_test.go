package session

import (
	"context"
	"testing"
	"time"

	"billradar/api/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreWithClient(client), mr
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()

	user := store.User{
		ID:          "usr_1",
		DisplayName: "Maja",
		Email:       "maja@example.dk",
		Role:        "admin",
	}
	if err := rs.SaveRefreshSessionUser(ctx, "hash-1", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSessionUser() error = %v", err)
	}

	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if got.ID != "usr_1" || got.Email != "maja@example.dk" || got.Role != "admin" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestLookupMissingToken(t *testing.T) {
	rs, _ := newTestStore(t)
	if _, err := rs.LookupRefreshSession(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()

	user := store.User{ID: "usr_1", Role: "viewer"}
	if err := rs.SaveRefreshSessionUser(ctx, "hash-1", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSessionUser() error = %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatal("expected revoked token to be gone")
	}
}

func TestTokenExpiresWithTTL(t *testing.T) {
	rs, mr := newTestStore(t)
	ctx := context.Background()

	user := store.User{ID: "usr_1"}
	if err := rs.SaveRefreshSessionUser(ctx, "hash-1", user, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSessionUser() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatal("expected token to expire after TTL")
	}
}

func TestEmptyRoleDefaultsToViewer(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSessionUser(ctx, "hash-1", store.User{ID: "usr_1"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSessionUser() error = %v", err)
	}
	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if got.Role != "viewer" {
		t.Fatalf("role = %q, want viewer", got.Role)
	}
}
