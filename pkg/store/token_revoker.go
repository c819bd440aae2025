package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserRevoker keeps a per-user cutoff: access tokens issued before it are
// rejected even though they still verify. Deleting an account sets it so
// that outstanding tokens cannot recreate data.
type UserRevoker interface {
	RevokeUser(ctx context.Context, userID string, cutoff time.Time) error
	RevokedAfter(ctx context.Context, userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps cutoffs in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{cutoffs: make(map[string]time.Time)}
}

// RevokeUser moves the cutoff forward; older cutoffs are ignored.
func (r *MemoryTokenRevoker) RevokeUser(_ context.Context, userID string, cutoff time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cutoffs[userID]; ok && !cutoff.After(cur) {
		return nil
	}
	r.cutoffs[userID] = cutoff.UTC()
	return nil
}

// RevokedAfter returns the cutoff, or the zero time when none is set.
func (r *MemoryTokenRevoker) RevokedAfter(_ context.Context, userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

var revokeUserScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local cutoff = tonumber(ARGV[1])
if cutoff > current then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return 1
`)

// RedisTokenRevoker stores cutoffs in Redis. Entries expire after the
// longest access-token lifetime, after which no affected token can verify.
type RedisTokenRevoker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(client *redis.Client, ttl time.Duration) (*RedisTokenRevoker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisTokenRevoker{client: client, ttl: ttl}, nil
}

// RevokeUser moves the cutoff forward; older cutoffs are ignored.
func (r *RedisTokenRevoker) RevokeUser(ctx context.Context, userID string, cutoff time.Time) error {
	return revokeUserScript.Run(ctx, r.client, []string{revocationKey(userID)},
		cutoff.UTC().UnixMilli(), r.ttl.Milliseconds()).Err()
}

// RevokedAfter returns the cutoff, or the zero time when none is set.
func (r *RedisTokenRevoker) RevokedAfter(ctx context.Context, userID string) (time.Time, error) {
	raw, err := r.client.Get(ctx, revocationKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func revocationKey(userID string) string {
	return "stupify:revoked:" + userID
}
