package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tandem/domain"
)

func TestSessionLifecycle(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	store := NewSessionStore(client, time.Hour)

	sid, err := store.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL(sessionKey(sid)); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	userID, err := store.Lookup(ctx, sid)
	if err != nil || userID != "u1" {
		t.Fatalf("lookup: %q %v", userID, err)
	}

	if err := store.Revoke(ctx, sid); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Lookup(ctx, sid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after revoke, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	store := NewSessionStore(client, time.Minute)

	sid, err := store.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Lookup(ctx, sid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}
