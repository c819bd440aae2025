package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"stupify/pkg/companion"
)

func newTestQueue(t *testing.T, cfg MessageQueueConfig) (*RedisMessageQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisMessageQueue(client, cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, mr
}

func TestMessageQueueEnqueueNextAck(t *testing.T) {
	q, _ := newTestQueue(t, MessageQueueConfig{})
	ctx := context.Background()

	first, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "session_start", Content: "Hi there!", Source: "template"})
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if first.ID == "" || first.ExpiresAt.Sub(first.CreatedAt) != 30*time.Minute {
		t.Fatalf("unexpected message: %+v", first)
	}
	if _, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "question_asked", Content: "Nice one!"}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	next, ok, err := q.Next(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if next.ID != first.ID {
		t.Fatalf("expected oldest message first, got %+v", next)
	}

	if acked, err := q.Ack(ctx, "u2", first.ID); err != nil || acked {
		t.Fatalf("another user must not ack the message: acked=%v err=%v", acked, err)
	}
	if acked, err := q.Ack(ctx, "u1", first.ID); err != nil || !acked {
		t.Fatalf("ack: acked=%v err=%v", acked, err)
	}
	pending, _ := q.List(ctx, "u1")
	if len(pending) != 1 || pending[0].Trigger != "question_asked" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestMessageQueueDeduplicates(t *testing.T) {
	q, _ := newTestQueue(t, MessageQueueConfig{})
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "streak_reminder", Content: "Keep your streak!"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "streak_reminder", Content: "Different words"}); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected pending trigger to dedupe, got %v", err)
	}

	if _, err := q.Ack(ctx, "u1", msg.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "streak_reminder", Content: "keep   your streak!"}); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected same content within ttl to dedupe, got %v", err)
	}
	if _, err := q.Enqueue(ctx, QueuedMessage{UserID: "u2", Trigger: "streak_reminder", Content: "Keep your streak!"}); err != nil {
		t.Fatalf("other users are independent: %v", err)
	}
}

func TestMessageQueueExpiresAndCaps(t *testing.T) {
	q, mr := newTestQueue(t, MessageQueueConfig{TTL: time.Minute, MaxPending: 3})
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	var ids []string
	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		msg, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: fmt.Sprintf("t%d", i), Content: fmt.Sprintf("message %d", i)})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}
	pending, _ := q.List(ctx, "u1")
	if len(pending) != 3 || pending[0].ID != ids[1] {
		t.Fatalf("expected oldest message to be dropped, got %+v", pending)
	}

	now = now.Add(2 * time.Minute)
	mr.FastForward(2 * time.Minute)
	if _, ok, err := q.Next(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected expired queue to be empty: ok=%v err=%v", ok, err)
	}
}

func TestMessageQueuePurge(t *testing.T) {
	q, mr := newTestQueue(t, MessageQueueConfig{})
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, QueuedMessage{UserID: "u1", Trigger: "milestone", Content: "Level 5!"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Purge(ctx, "u1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys after purge, got %v", keys)
	}
}

func TestSessionStoreKeepsCooldownsAcrossSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s, err := NewRedisSessionStore(client, "", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	state, err := s.Load(ctx, "u1", "s1")
	if err != nil || state.SessionID != "s1" || state.MessageCount != 0 {
		t.Fatalf("unexpected initial state: %+v err=%v", state, err)
	}
	state = state.Record(companion.TriggerSessionStart, now)
	if err := s.Save(ctx, "u1", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	same, _ := s.Load(ctx, "u1", "s1")
	if same.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", same.MessageCount)
	}
	other, _ := s.Load(ctx, "u1", "s2")
	if other.MessageCount != 0 || !other.LastMessageAt.IsZero() {
		t.Fatalf("new session must reset counters: %+v", other)
	}
	if !other.LastFired[companion.TriggerSessionStart].Equal(now) {
		t.Fatalf("cooldowns must carry over: %+v", other.LastFired)
	}
}
