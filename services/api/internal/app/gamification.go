package app

import (
	"context"
	"errors"
	"fmt"

	"stupify/internal/util"
	"stupify/pkg/companion"
	"stupify/pkg/domain"
	"stupify/pkg/gamification"
	"stupify/pkg/store"
)

// StatsView is the gamification summary of a user.
type StatsView struct {
	Stats    domain.Stats              `json:"stats"`
	Progress gamification.ProgressView `json:"progress"`
	Streak   gamification.StreakView   `json:"streak"`
}

// CheckInResult reports a daily check-in.
type CheckInResult struct {
	AlreadyCheckedIn bool                       `json:"alreadyCheckedIn"`
	XPEarned         int                        `json:"xpEarned"`
	Stats            StatsView                  `json:"stats"`
	Achievements     []gamification.Achievement `json:"achievements,omitempty"`
}

func (a *App) Stats(ctx context.Context, userID string) (StatsView, error) {
	stats, err := a.store.GetStats(ctx, userID)
	if err != nil {
		return StatsView{}, fmt.Errorf("load stats: %w", err)
	}
	return a.statsView(stats), nil
}

func (a *App) Streak(ctx context.Context, userID string) (gamification.StreakView, error) {
	stats, err := a.store.GetStats(ctx, userID)
	if err != nil {
		return gamification.StreakView{}, fmt.Errorf("load stats: %w", err)
	}
	return gamification.Streak(stats, a.now()), nil
}

// Achievements lists the whole catalogue with the user's unlock times.
func (a *App) Achievements(ctx context.Context, userID string) ([]gamification.AchievementView, error) {
	unlocks, err := a.store.ListAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return gamification.Views(unlocks), nil
}

// CheckIn records the daily check-in. A second check-in on the same day is
// not an error; it reports AlreadyCheckedIn and awards nothing.
func (a *App) CheckIn(ctx context.Context, userID string) (CheckInResult, error) {
	now := a.now()
	stats, err := a.store.RecordCheckIn(ctx, domain.CheckIn{UserID: userID, Day: gamification.Day(now), CreatedAt: now.UTC()},
		func(current domain.Stats) domain.Stats { return gamification.RecordCheckIn(current, now) })
	if errors.Is(err, store.ErrDuplicate) {
		view, err := a.Stats(ctx, userID)
		if err != nil {
			return CheckInResult{}, err
		}
		return CheckInResult{AlreadyCheckedIn: true, Stats: view}, nil
	}
	if err != nil {
		return CheckInResult{}, fmt.Errorf("record check-in: %w", err)
	}

	result := CheckInResult{XPEarned: gamification.XPPerCheckIn}
	result.Achievements = a.unlockAchievements(ctx, userID, stats)
	for _, ach := range result.Achievements {
		result.XPEarned += ach.XP
	}
	if len(result.Achievements) > 0 {
		if stats, err = a.store.GetStats(ctx, userID); err != nil {
			return CheckInResult{}, fmt.Errorf("load stats: %w", err)
		}
	}
	result.Stats = a.statsView(stats)
	a.recordEvent(ctx, userID, "checked_in", map[string]any{"streak": stats.CurrentStreak})
	return result, nil
}

func (a *App) statsView(stats domain.Stats) StatsView {
	return StatsView{
		Stats:    stats,
		Progress: gamification.Progress(stats),
		Streak:   gamification.Streak(stats, a.now()),
	}
}

// unlockAchievements evaluates the catalogue against stats and persists
// new unlocks plus their XP bonus. Failures are logged; the returned slice
// holds only achievements that were stored.
func (a *App) unlockAchievements(ctx context.Context, userID string, stats domain.Stats) []gamification.Achievement {
	logger := util.LoggerFromContext(ctx)
	unlocks, err := a.store.ListAchievements(ctx, userID)
	if err != nil {
		logger.Warn("list achievements failed", "user_id", userID, "err", err)
		return nil
	}
	snap := gamification.Snapshot{Stats: stats}
	if topics, err := a.store.ListKnowledge(ctx, userID); err == nil {
		snap.TopicCount = len(topics)
	} else {
		logger.Warn("list knowledge failed", "user_id", userID, "err", err)
	}
	if shares, err := a.store.CountShares(ctx, userID); err == nil {
		snap.ShareCount = shares
	} else {
		logger.Warn("count shares failed", "user_id", userID, "err", err)
	}
	if pet, err := a.store.GetCompanion(ctx, userID); err == nil {
		snap.CompanionStage = companion.Evolve(pet).Stage
	}

	now := a.now().UTC()
	var unlocked []gamification.Achievement
	bonus := 0
	for _, ach := range gamification.Evaluate(snap, gamification.UnlockedSet(unlocks)) {
		err := a.store.UnlockAchievement(ctx, domain.AchievementUnlock{UserID: userID, AchievementID: ach.ID, UnlockedAt: now})
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			logger.Warn("unlock achievement failed", "user_id", userID, "achievement", ach.ID, "err", err)
			continue
		}
		unlocked = append(unlocked, ach)
		bonus += ach.XP
		a.recordEvent(ctx, userID, "achievement_unlocked", map[string]any{"achievement": ach.ID})
	}
	if bonus > 0 {
		if err := a.store.SaveStats(ctx, gamification.AddXP(stats, bonus)); err != nil {
			logger.Warn("save achievement xp failed", "user_id", userID, "err", err)
		}
	}
	return unlocked
}
