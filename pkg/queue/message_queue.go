package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrDuplicateMessage is returned when an equivalent message is already
	// pending for the user.
	ErrDuplicateMessage = errors.New("duplicate companion message")
)

// QueuedMessage is a companion message waiting for delivery.
type QueuedMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Trigger   string    `json:"trigger"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MessageQueueConfig struct {
	Prefix     string
	TTL        time.Duration
	MaxPending int
}

// RedisMessageQueue keeps pending companion messages per user: a sorted
// set of ids ordered by creation and one TTL-expiring hash per message.
type RedisMessageQueue struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxPending int
	now        func() time.Time
}

func NewRedisMessageQueue(client *redis.Client, cfg MessageQueueConfig) (*RedisMessageQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "stupify:companion"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = 10
	}
	return &RedisMessageQueue{
		client:     client,
		prefix:     prefix,
		ttl:        ttl,
		maxPending: maxPending,
		now:        time.Now,
	}, nil
}

// Enqueue stores msg for delivery. A message is rejected with
// ErrDuplicateMessage when one with the same trigger is still pending or
// the same trigger and content was queued within the TTL. When the queue
// is full the oldest message is dropped.
func (q *RedisMessageQueue) Enqueue(ctx context.Context, msg QueuedMessage) (QueuedMessage, error) {
	msg.UserID = strings.TrimSpace(msg.UserID)
	if msg.UserID == "" {
		return QueuedMessage{}, errors.New("userId required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return QueuedMessage{}, errors.New("content required")
	}
	pending, err := q.List(ctx, msg.UserID)
	if err != nil {
		return QueuedMessage{}, err
	}
	for _, p := range pending {
		if p.Trigger == msg.Trigger {
			return QueuedMessage{}, ErrDuplicateMessage
		}
	}
	fresh, err := q.client.SetNX(ctx, q.dedupKey(msg.UserID, msg.Trigger, msg.Content), "1", q.ttl).Result()
	if err != nil {
		return QueuedMessage{}, err
	}
	if !fresh {
		return QueuedMessage{}, ErrDuplicateMessage
	}

	now := q.now().UTC()
	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	msg.ExpiresAt = now.Add(q.ttl)

	listKey := q.listKey(msg.UserID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.messageKey(msg.ID), encodeMessage(msg))
	pipe.Expire(ctx, q.messageKey(msg.ID), q.ttl)
	pipe.ZAdd(ctx, listKey, redis.Z{Score: float64(now.UnixMilli()), Member: msg.ID})
	pipe.Expire(ctx, listKey, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueuedMessage{}, err
	}

	if overflow := len(pending) + 1 - q.maxPending; overflow > 0 {
		for _, old := range pending[:overflow] {
			_, _ = q.Ack(ctx, msg.UserID, old.ID)
		}
	}
	return msg, nil
}

// List returns live pending messages oldest first and drops expired ids.
func (q *RedisMessageQueue) List(ctx context.Context, userID string) ([]QueuedMessage, error) {
	listKey := q.listKey(userID)
	ids, err := q.client.ZRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	now := q.now().UTC()
	out := make([]QueuedMessage, 0, len(ids))
	var stale []any
	for _, id := range ids {
		data, err := q.client.HGetAll(ctx, q.messageKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			stale = append(stale, id)
			continue
		}
		msg := decodeMessage(id, data)
		if !msg.ExpiresAt.IsZero() && !now.Before(msg.ExpiresAt) {
			stale = append(stale, id)
			_ = q.client.Del(ctx, q.messageKey(id)).Err()
			continue
		}
		out = append(out, msg)
	}
	if len(stale) > 0 {
		_ = q.client.ZRem(ctx, listKey, stale...).Err()
	}
	return out, nil
}

// Next returns the oldest pending message without removing it.
func (q *RedisMessageQueue) Next(ctx context.Context, userID string) (QueuedMessage, bool, error) {
	pending, err := q.List(ctx, userID)
	if err != nil {
		return QueuedMessage{}, false, err
	}
	if len(pending) == 0 {
		return QueuedMessage{}, false, nil
	}
	return pending[0], true, nil
}

// Get returns one pending message of userID.
func (q *RedisMessageQueue) Get(ctx context.Context, userID, id string) (QueuedMessage, bool, error) {
	if _, err := q.client.ZScore(ctx, q.listKey(userID), id).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return QueuedMessage{}, false, nil
		}
		return QueuedMessage{}, false, err
	}
	data, err := q.client.HGetAll(ctx, q.messageKey(id)).Result()
	if err != nil {
		return QueuedMessage{}, false, err
	}
	if len(data) == 0 {
		return QueuedMessage{}, false, nil
	}
	return decodeMessage(id, data), true, nil
}

// Ack removes a delivered message. It reports false when the message was
// not pending for userID.
func (q *RedisMessageQueue) Ack(ctx context.Context, userID, id string) (bool, error) {
	removed, err := q.client.ZRem(ctx, q.listKey(userID), id).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	return true, q.client.Del(ctx, q.messageKey(id)).Err()
}

// Purge drops every pending message and dedup marker of userID.
func (q *RedisMessageQueue) Purge(ctx context.Context, userID string) error {
	listKey := q.listKey(userID)
	ids, err := q.client.ZRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{listKey}
	for _, id := range ids {
		keys = append(keys, q.messageKey(id))
	}
	iter := q.client.Scan(ctx, 0, fmt.Sprintf("%s:dedup:%s:*", q.prefix, userID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return q.client.Del(ctx, keys...).Err()
}

func (q *RedisMessageQueue) listKey(userID string) string {
	return fmt.Sprintf("%s:pending:%s", q.prefix, userID)
}

func (q *RedisMessageQueue) messageKey(id string) string {
	return fmt.Sprintf("%s:msg:%s", q.prefix, id)
}

func (q *RedisMessageQueue) dedupKey(userID, trigger, content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(content), " "))))
	return fmt.Sprintf("%s:dedup:%s:%s:%s", q.prefix, userID, trigger, hex.EncodeToString(sum[:8]))
}

func encodeMessage(msg QueuedMessage) map[string]any {
	return map[string]any{
		"userId":    msg.UserID,
		"trigger":   msg.Trigger,
		"content":   msg.Content,
		"source":    msg.Source,
		"createdAt": msg.CreatedAt.Format(time.RFC3339Nano),
		"expiresAt": msg.ExpiresAt.Format(time.RFC3339Nano),
	}
}

func decodeMessage(id string, data map[string]string) QueuedMessage {
	msg := QueuedMessage{
		ID:      id,
		UserID:  data["userId"],
		Trigger: data["trigger"],
		Content: data["content"],
		Source:  data["source"],
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.CreatedAt = t
		}
	}
	if v := data["expiresAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.ExpiresAt = t
		}
	}
	return msg
}
