// Package cache stores answers to repeated first-turn questions in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"stupify/pkg/domain"
)

const defaultTTL = 24 * time.Hour

// Entry is a cached answer.
type Entry struct {
	Answer   string    `json:"answer"`
	Provider string    `json:"provider,omitempty"`
	StoredAt time.Time `json:"storedAt"`
}

// AnswerCache keys answers by level and normalized question.
type AnswerCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewAnswerCache(client *redis.Client, prefix string, ttl time.Duration) (*AnswerCache, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "stupify:answer"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &AnswerCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get returns the cached answer, reporting false on a miss.
func (c *AnswerCache) Get(ctx context.Context, level domain.SimplicityLevel, question string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.Key(level, question)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Answer == "" {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores an answer for the configured TTL.
func (c *AnswerCache) Set(ctx context.Context, level domain.SimplicityLevel, question string, entry Entry) error {
	if strings.TrimSpace(entry.Answer) == "" {
		return nil
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(level, question), raw, c.ttl).Err()
}

// Key returns the Redis key for a level and question.
func (c *AnswerCache) Key(level domain.SimplicityLevel, question string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return c.prefix + ":" + string(level) + ":" + hex.EncodeToString(sum[:])
}

// NormalizeQuestion lowercases, collapses whitespace and strips trailing
// punctuation so trivially different phrasings share an entry.
func NormalizeQuestion(q string) string {
	q = strings.ToLower(strings.Join(strings.Fields(q), " "))
	return strings.TrimRightFunc(q, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
