package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevokerUserCutoffMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRevoker()
	first := time.Now().UTC().Add(-time.Minute)
	second := time.Now().UTC()

	if err := r.RevokeUser(ctx, "user-1", first); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", first.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	got, err := r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after first: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}

	if err := r.RevokeUser(ctx, "user-1", second); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	got, err = r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after second: %v", err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}

func TestRedisTokenRevokerKeepsNewestCutoffWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r, err := NewRedisTokenRevoker(client, time.Hour)
	if err != nil {
		t.Fatalf("new revoker: %v", err)
	}
	ctx := context.Background()

	none, err := r.RevokedAfter(ctx, "user-1")
	if err != nil || !none.IsZero() {
		t.Fatalf("expected zero cutoff, got %v err=%v", none, err)
	}

	cutoff := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := r.RevokeUser(ctx, "user-1", cutoff); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", cutoff.Add(-time.Hour)); err != nil {
		t.Fatalf("revoke older: %v", err)
	}
	got, err := r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(cutoff) {
		t.Fatalf("cutoff = %v, want %v", got, cutoff)
	}
	if ttl := mr.TTL(revocationKey("user-1")); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	got, _ = r.RevokedAfter(ctx, "user-1")
	if !got.IsZero() {
		t.Fatalf("expected cutoff to expire, got %v", got)
	}
}
