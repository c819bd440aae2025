package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stupify/pkg/domain"
	"stupify/pkg/store"
)

func runCtl(t *testing.T, b backends, args ...string) (string, error) {
	t.Helper()
	opener := func(context.Context, globalOptions) (backends, error) { return b, nil }
	cmd := newRootCmd(opener)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore()
	if _, err := mem.EnsureProfile(context.Background(), "user-1", "one@example.com"); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	return mem
}

func TestGrantTier(t *testing.T) {
	mem := seededStore(t)
	out, err := runCtl(t, backends{store: mem}, "grant-tier", "user-1", "Premium")
	if err != nil {
		t.Fatalf("grant-tier: %v", err)
	}
	if !strings.Contains(out, "free -> premium") {
		t.Fatalf("unexpected output: %q", out)
	}
	p, _ := mem.GetProfile(context.Background(), "user-1")
	if p.Tier != domain.TierPremium {
		t.Fatalf("tier = %s", p.Tier)
	}

	if _, err := runCtl(t, backends{store: mem}, "grant-tier", "user-1", "gold"); err == nil {
		t.Fatalf("expected unknown tier to fail")
	}
	if _, err := runCtl(t, backends{store: mem}, "grant-tier", "ghost", "starter"); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestResetUsage(t *testing.T) {
	mem := seededStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := mem.IncrementUsage(ctx, "user-1", time.Now()); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if _, err := runCtl(t, backends{store: mem}, "reset-usage", "user-1"); err != nil {
		t.Fatalf("reset-usage: %v", err)
	}
	rec, _ := mem.GetUsage(ctx, "user-1")
	if rec.DailyCount != 0 || rec.MonthlyCount != 0 {
		t.Fatalf("counters not reset: %+v", rec)
	}
}

func TestShowUserPrintsAllowance(t *testing.T) {
	out, err := runCtl(t, backends{store: seededStore(t)}, "show-user", "user-1")
	if err != nil {
		t.Fatalf("show-user: %v", err)
	}
	if !strings.Contains(out, `"email": "one@example.com"`) || !strings.Contains(out, `"remaining": 10`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRevokeTokens(t *testing.T) {
	mem := seededStore(t)
	if _, err := runCtl(t, backends{store: mem}, "revoke-tokens", "user-1"); err == nil {
		t.Fatalf("expected missing redis to fail")
	}
	revoker := store.NewMemoryTokenRevoker()
	if _, err := runCtl(t, backends{store: mem, revoker: revoker}, "revoke-tokens", "user-1"); err != nil {
		t.Fatalf("revoke-tokens: %v", err)
	}
	cutoff, err := revoker.RevokedAfter(context.Background(), "user-1")
	if err != nil || cutoff.IsZero() {
		t.Fatalf("cutoff not recorded: %v %v", cutoff, err)
	}
}

func TestOpenerErrorsSurface(t *testing.T) {
	cmd := newRootCmd(func(context.Context, globalOptions) (backends, error) {
		return backends{}, errors.New("boom")
	})
	cmd.SetArgs([]string{"migrate"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || err.Error() != "boom" {
		t.Fatalf("expected opener error, got %v", err)
	}
}
