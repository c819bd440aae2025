package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stupify/pkg/companion"
)

// RedisSessionStore persists trigger bookkeeping per user. Cooldowns carry
// across sessions; the message count and gap reset when the session id
// changes.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) (*RedisSessionStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "stupify:companion"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}, nil
}

// Load returns the state for sessionID.
func (s *RedisSessionStore) Load(ctx context.Context, userID, sessionID string) (companion.SessionState, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return companion.SessionState{SessionID: sessionID}, nil
	}
	if err != nil {
		return companion.SessionState{}, err
	}
	var state companion.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return companion.SessionState{SessionID: sessionID}, nil
	}
	if state.SessionID != sessionID {
		return companion.SessionState{SessionID: sessionID, LastFired: state.LastFired}, nil
	}
	return state, nil
}

// Save stores state with a sliding TTL.
func (s *RedisSessionStore) Save(ctx context.Context, userID string, state companion.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(userID), raw, s.ttl).Err()
}

// Delete drops the stored state.
func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisSessionStore) key(userID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, userID)
}
