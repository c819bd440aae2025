package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"stupify/internal/util"
	"stupify/pkg/domain"
	"stupify/pkg/queue"
	"stupify/pkg/usage"
)

// ProfileView is the signed-in user's profile with their remaining quota.
type ProfileView struct {
	Profile domain.Profile  `json:"profile"`
	Usage   usage.Allowance `json:"usage"`
}

// Dashboard aggregates everything the home screen shows.
type Dashboard struct {
	Profile   ProfileView          `json:"profile"`
	Stats     StatsView            `json:"stats"`
	Companion *CompanionView       `json:"companion,omitempty"`
	Topics    []TopicView          `json:"topics"`
	Message   *queue.QueuedMessage `json:"message,omitempty"`
}

func (a *App) Me(ctx context.Context, userID, email string) (ProfileView, error) {
	profile, err := a.store.EnsureProfile(ctx, userID, email)
	if err != nil {
		return ProfileView{}, fmt.Errorf("load profile: %w", err)
	}
	return a.profileView(ctx, profile)
}

// UpdatePreferences stores the user's default simplicity level.
func (a *App) UpdatePreferences(ctx context.Context, userID, email string, level domain.SimplicityLevel) (ProfileView, error) {
	parsed, ok := domain.ParseLevel(string(level))
	if !ok {
		return ProfileView{}, ErrInvalidLevel
	}
	profile, err := a.store.EnsureProfile(ctx, userID, email)
	if err != nil {
		return ProfileView{}, fmt.Errorf("load profile: %w", err)
	}
	profile.PreferredLevel = parsed
	profile.UpdatedAt = a.now().UTC()
	if err := a.store.SaveProfile(ctx, profile); err != nil {
		return ProfileView{}, fmt.Errorf("save profile: %w", err)
	}
	return a.profileView(ctx, profile)
}

// Dashboard loads the profile, stats, companion, top topics and next
// companion message concurrently.
func (a *App) Dashboard(ctx context.Context, userID, email string) (Dashboard, error) {
	var out Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view, err := a.Me(gctx, userID, email)
		out.Profile = view
		return err
	})
	g.Go(func() error {
		view, err := a.Stats(gctx, userID)
		out.Stats = view
		return err
	})
	g.Go(func() error {
		view, err := a.Companion(gctx, userID)
		if errors.Is(err, ErrCompanionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Companion = &view
		return nil
	})
	g.Go(func() error {
		topics, err := a.Knowledge(gctx, userID)
		if len(topics) > topTopicCount {
			topics = topics[:topTopicCount]
		}
		out.Topics = topics
		return err
	})
	g.Go(func() error {
		msg, err := a.NextMessage(gctx, userID)
		if err != nil {
			util.LoggerFromContext(gctx).Warn("dashboard companion message failed", "user_id", userID, "err", err)
			return nil
		}
		out.Message = msg
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// DeleteAccount removes all data of the user, clears their Redis state
// and revokes every token issued so far.
func (a *App) DeleteAccount(ctx context.Context, userID string) error {
	if err := a.store.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("delete user data: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.queue.Purge(ctx, userID); err != nil {
		logger.Warn("purge companion messages failed", "user_id", userID, "err", err)
	}
	if err := a.sessions.Delete(ctx, userID); err != nil {
		logger.Warn("delete trigger session failed", "user_id", userID, "err", err)
	}
	if a.revoker != nil {
		if err := a.revoker.RevokeUser(ctx, userID, a.now().UTC()); err != nil {
			return fmt.Errorf("revoke tokens: %w", err)
		}
	}
	util.SecurityEvent(ctx, "account_deleted", "user_id", userID)
	return nil
}

func (a *App) profileView(ctx context.Context, profile domain.Profile) (ProfileView, error) {
	rec, err := a.store.GetUsage(ctx, profile.ID)
	if err != nil {
		return ProfileView{}, fmt.Errorf("load usage: %w", err)
	}
	return ProfileView{Profile: profile, Usage: usage.Remaining(a.limits, profile.Tier, rec, a.now())}, nil
}
