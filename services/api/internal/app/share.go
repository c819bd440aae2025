package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stupify/internal/util"
	"stupify/pkg/domain"
	"stupify/pkg/gamification"
	"stupify/pkg/store"
)

const (
	shareSlugLength   = 10
	shareSlugAttempts = 3
)

// ShareRequest is an answer the user wants to publish.
type ShareRequest struct {
	UserID   string
	Question string
	Answer   string
	Level    domain.SimplicityLevel
}

// ShareResult is a created share.
type ShareResult struct {
	Share        domain.Share               `json:"share"`
	Achievements []gamification.Achievement `json:"achievements,omitempty"`
}

// CreateShare stores a public copy of an answer under a fresh slug.
func (a *App) CreateShare(ctx context.Context, req ShareRequest) (ShareResult, error) {
	req.Question = strings.TrimSpace(req.Question)
	req.Answer = strings.TrimSpace(req.Answer)
	if req.Question == "" || req.Answer == "" {
		return ShareResult{}, ErrInvalidQuestion
	}
	level, ok := domain.ParseLevel(string(req.Level))
	if !ok {
		return ShareResult{}, ErrInvalidLevel
	}
	share := domain.Share{
		UserID:    req.UserID,
		Question:  req.Question,
		Answer:    req.Answer,
		Level:     level,
		CreatedAt: a.now().UTC(),
	}
	var err error
	for i := 0; i < shareSlugAttempts; i++ {
		share.ID = util.NewSlug(shareSlugLength)
		if err = a.store.CreateShare(ctx, share); !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return ShareResult{}, fmt.Errorf("create share: %w", err)
	}

	result := ShareResult{Share: share}
	if stats, err := a.store.GetStats(ctx, req.UserID); err == nil {
		result.Achievements = a.unlockAchievements(ctx, req.UserID, stats)
	} else {
		util.LoggerFromContext(ctx).Warn("load stats failed", "user_id", req.UserID, "err", err)
	}
	a.recordEvent(ctx, req.UserID, "answer_shared", map[string]any{"share_id": share.ID, "level": string(level)})
	return result, nil
}

// ViewShare returns a public share and counts the view.
func (a *App) ViewShare(ctx context.Context, slug string) (domain.Share, error) {
	share, err := a.store.IncrementShareViews(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Share{}, ErrShareNotFound
	}
	if err != nil {
		return domain.Share{}, fmt.Errorf("view share: %w", err)
	}
	return share, nil
}
