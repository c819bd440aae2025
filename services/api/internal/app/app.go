package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stupify/internal/metrics"
	"stupify/internal/util"
	"stupify/pkg/ai"
	"stupify/pkg/billing"
	"stupify/pkg/cache"
	"stupify/pkg/companion"
	"stupify/pkg/domain"
	"stupify/pkg/queue"
	"stupify/pkg/store"
	"stupify/pkg/usage"
)

const (
	defaultMaxAnswerTokens   = 1024
	defaultSideEffectTimeout = 5 * time.Second
	topTopicCount            = 3
)

// MessageQueue holds companion messages waiting for delivery.
type MessageQueue interface {
	Enqueue(ctx context.Context, msg queue.QueuedMessage) (queue.QueuedMessage, error)
	List(ctx context.Context, userID string) ([]queue.QueuedMessage, error)
	Next(ctx context.Context, userID string) (queue.QueuedMessage, bool, error)
	Get(ctx context.Context, userID, id string) (queue.QueuedMessage, bool, error)
	Ack(ctx context.Context, userID, id string) (bool, error)
	Purge(ctx context.Context, userID string) error
}

// SessionStore persists companion trigger state.
type SessionStore interface {
	Load(ctx context.Context, userID, sessionID string) (companion.SessionState, error)
	Save(ctx context.Context, userID string, state companion.SessionState) error
	Delete(ctx context.Context, userID string) error
}

// AnswerCache serves repeated first-turn questions.
type AnswerCache interface {
	Get(ctx context.Context, level domain.SimplicityLevel, question string) (cache.Entry, bool, error)
	Set(ctx context.Context, level domain.SimplicityLevel, question string, entry cache.Entry) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	// DatabaseOptions tune the GORM store opened from DatabaseURL.
	DatabaseOptions []store.GormStoreOption
	Store           store.Store

	Chat        ai.ChatStreamer
	Companion   ai.TextGenerator
	Transcriber ai.Transcriber
	Cache       AnswerCache
	Queue       MessageQueue
	Sessions    SessionStore
	Revoker     store.UserRevoker
	Billing     *billing.Client
	Metrics     *metrics.Collector

	Limits            usage.Limits
	Policy            *companion.Policy
	CompanionTimeout  time.Duration
	MaxAnswerTokens   int
	SideEffectTimeout time.Duration
}

// App is the core application service wiring storage, providers and the
// domain packages together.
type App struct {
	store       store.Store
	chat        ai.ChatStreamer
	generator   *companion.Generator
	transcriber ai.Transcriber
	cache       AnswerCache
	queue       MessageQueue
	sessions    SessionStore
	revoker     store.UserRevoker
	billing     *billing.Client
	metrics     *metrics.Collector

	limits            usage.Limits
	policy            companion.Policy
	maxAnswerTokens   int
	sideEffectTimeout time.Duration
	now               func() time.Time
}

// New constructs the application. A Store may be injected; otherwise a
// Postgres store is opened from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, cfg.DatabaseOptions...)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Chat == nil {
		return nil, errors.New("chat provider required")
	}
	if cfg.Queue == nil || cfg.Sessions == nil {
		return nil, errors.New("companion queue and session store required")
	}
	policy := companion.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	maxTokens := cfg.MaxAnswerTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxAnswerTokens
	}
	sideEffectTimeout := cfg.SideEffectTimeout
	if sideEffectTimeout <= 0 {
		sideEffectTimeout = defaultSideEffectTimeout
	}
	return &App{
		store:             dataStore,
		chat:              cfg.Chat,
		generator:         companion.NewGenerator(cfg.Companion, cfg.CompanionTimeout),
		transcriber:       cfg.Transcriber,
		cache:             cfg.Cache,
		queue:             cfg.Queue,
		sessions:          cfg.Sessions,
		revoker:           cfg.Revoker,
		billing:           cfg.Billing,
		metrics:           cfg.Metrics,
		limits:            cfg.Limits.Normalize(),
		policy:            policy,
		maxAnswerTokens:   maxTokens,
		sideEffectTimeout: sideEffectTimeout,
		now:               time.Now,
	}, nil
}

// Ping checks the database when the store supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// TokenRevoked reports whether a token issued at issuedAt predates the
// user's revocation cutoff. Tokens without an issue time are not checked.
// JWT iat has whole-second precision, so tokens issued in the cutoff's
// second stay valid.
func (a *App) TokenRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	if a.revoker == nil || issuedAt.IsZero() {
		return false, nil
	}
	cutoff, err := a.revoker.RevokedAfter(ctx, userID)
	if err != nil {
		return false, err
	}
	return !cutoff.IsZero() && issuedAt.Before(cutoff.Truncate(time.Second)), nil
}

// detached returns a context for side effects that must finish even if
// the client has gone away.
func (a *App) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.sideEffectTimeout)
}

func (a *App) recordEvent(ctx context.Context, userID, name string, props map[string]any) {
	err := a.store.RecordEvent(ctx, domain.AnalyticsEvent{
		ID:         util.NewID(),
		UserID:     userID,
		Name:       name,
		Properties: props,
		CreatedAt:  a.now().UTC(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("record analytics event failed", "event", name, "user_id", userID, "err", err)
	}
}

func (a *App) countQuestion(level domain.SimplicityLevel, outcome string) {
	if a.metrics != nil {
		a.metrics.Questions.WithLabelValues(string(level), outcome).Inc()
	}
}

func (a *App) countCache(result string) {
	if a.metrics != nil {
		a.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
