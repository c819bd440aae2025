package store

import (
	"context"
	"errors"
	"time"

	"stupify/pkg/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// Store defines persistence for profiles, usage, gamification, companions,
// the knowledge graph, shares and analytics.
type Store interface {
	// profiles
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	EnsureProfile(ctx context.Context, userID, email string) (domain.Profile, error)
	SaveProfile(ctx context.Context, p domain.Profile) error
	GetProfileByStripeCustomer(ctx context.Context, customerID string) (domain.Profile, error)

	// usage
	GetUsage(ctx context.Context, userID string) (domain.UsageRecord, error)
	IncrementUsage(ctx context.Context, userID string, now time.Time) (domain.UsageRecord, error)
	ResetUsage(ctx context.Context, userID string) error

	// gamification
	GetStats(ctx context.Context, userID string) (domain.Stats, error)
	SaveStats(ctx context.Context, stats domain.Stats) error
	// RecordCheckIn stores c and the stats apply derives from the current
	// ones atomically. A repeat for the same day returns ErrDuplicate and
	// leaves stats untouched.
	RecordCheckIn(ctx context.Context, c domain.CheckIn, apply func(domain.Stats) domain.Stats) (domain.Stats, error)
	UnlockAchievement(ctx context.Context, u domain.AchievementUnlock) error
	ListAchievements(ctx context.Context, userID string) ([]domain.AchievementUnlock, error)

	// companion
	GetCompanion(ctx context.Context, userID string) (domain.Companion, error)
	SaveCompanion(ctx context.Context, c domain.Companion) error

	// knowledge graph
	GetKnowledge(ctx context.Context, userID, topic string) (domain.KnowledgeEntry, error)
	SaveKnowledge(ctx context.Context, e domain.KnowledgeEntry) error
	ListKnowledge(ctx context.Context, userID string) ([]domain.KnowledgeEntry, error)

	// shares
	CreateShare(ctx context.Context, s domain.Share) error
	GetShare(ctx context.Context, id string) (domain.Share, error)
	IncrementShareViews(ctx context.Context, id string) (domain.Share, error)
	CountShares(ctx context.Context, userID string) (int, error)

	// analytics
	RecordEvent(ctx context.Context, e domain.AnalyticsEvent) error

	// DeleteUserData removes every row owned by userID.
	DeleteUserData(ctx context.Context, userID string) error
}

func newProfile(userID, email string, now time.Time) domain.Profile {
	return domain.Profile{
		ID:             userID,
		Email:          email,
		Tier:           domain.TierFree,
		PreferredLevel: domain.LevelNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func emptyStats(userID string) domain.Stats {
	return domain.Stats{UserID: userID, Level: 1}
}
