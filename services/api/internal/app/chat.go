package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stupify/internal/util"
	"stupify/pkg/ai"
	"stupify/pkg/cache"
	"stupify/pkg/companion"
	"stupify/pkg/confusion"
	"stupify/pkg/domain"
	"stupify/pkg/gamification"
	"stupify/pkg/knowledge"
	"stupify/pkg/queue"
	"stupify/pkg/store"
	"stupify/pkg/usage"
)

// AskRequest is one chat question.
type AskRequest struct {
	UserID    string
	Email     string
	Question  string
	Level     domain.SimplicityLevel
	History   []domain.ChatMessage
	SessionID string
}

// AskPlan is a checked question ready to be answered.
type AskPlan struct {
	Level          domain.SimplicityLevel `json:"level"`
	RequestedLevel domain.SimplicityLevel `json:"requestedLevel"`
	Confused       bool                   `json:"confused"`
	Cached         bool                   `json:"cached"`
	Usage          usage.Allowance        `json:"usage"`

	req       AskRequest
	profile   domain.Profile
	cached    cache.Entry
	cacheable bool
	stream    ai.StreamRequest
}

// AskResult summarizes a completed answer.
type AskResult struct {
	Answer           string                     `json:"-"`
	Level            domain.SimplicityLevel     `json:"level"`
	Confused         bool                       `json:"confused"`
	Cached           bool                       `json:"cached"`
	Provider         string                     `json:"provider,omitempty"`
	Topic            string                     `json:"topic"`
	Usage            usage.Allowance            `json:"usage"`
	XPEarned         int                        `json:"xpEarned"`
	Achievements     []gamification.Achievement `json:"achievements,omitempty"`
	CompanionMessage *queue.QueuedMessage       `json:"companionMessage,omitempty"`
}

// PrepareAsk runs every check that can reject a question before any
// output is streamed: quota, confusion handling and the cache lookup.
func (a *App) PrepareAsk(ctx context.Context, req AskRequest) (*AskPlan, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, ErrInvalidQuestion
	}
	profile, err := a.store.EnsureProfile(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	level := profile.PreferredLevel
	if req.Level != "" {
		parsed, ok := domain.ParseLevel(string(req.Level))
		if !ok {
			return nil, ErrInvalidLevel
		}
		level = parsed
	}
	if _, ok := domain.ParseLevel(string(level)); !ok {
		level = domain.LevelNormal
	}

	now := a.now()
	rec, err := a.store.GetUsage(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	allowance, err := usage.Check(a.limits, profile.Tier, rec, now)
	if err != nil {
		a.countQuestion(level, "quota_exceeded")
		return nil, err
	}

	plan := &AskPlan{
		Level:          level,
		RequestedLevel: level,
		Confused:       confusion.IsConfused(req.Question),
		Usage:          allowance,
		req:            req,
		profile:        profile,
	}
	reexplain := plan.Confused && hasAssistantTurn(req.History)
	if reexplain {
		plan.Level = level.Simpler()
	}
	plan.cacheable = a.cache != nil && len(req.History) == 0 && !plan.Confused
	if plan.cacheable {
		entry, ok, err := a.cache.Get(ctx, plan.Level, req.Question)
		switch {
		case err != nil:
			util.LoggerFromContext(ctx).Warn("answer cache lookup failed", "err", err)
			a.countCache("error")
		case ok:
			plan.cached = entry
			plan.Cached = true
			a.countCache("hit")
		default:
			a.countCache("miss")
		}
	}
	plan.stream = ai.StreamRequest{
		System:    systemPrompt(plan.Level, reexplain),
		Messages:  buildMessages(req.History, req.Question),
		MaxTokens: a.maxAnswerTokens,
	}
	return plan, nil
}

// Answer streams the answer for plan through onDelta. Usage is charged and
// progress recorded only once the full answer has been produced.
func (a *App) Answer(ctx context.Context, plan *AskPlan, onDelta ai.DeltaFunc) (AskResult, error) {
	if plan == nil {
		return AskResult{}, ErrInvalidQuestion
	}
	result := AskResult{Level: plan.Level, Confused: plan.Confused, Cached: plan.Cached}
	if plan.Cached {
		if err := onDelta(plan.cached.Answer); err != nil {
			return AskResult{}, err
		}
		result.Answer = plan.cached.Answer
		result.Provider = plan.cached.Provider
	} else {
		reply, err := a.chat.Stream(ctx, plan.stream, onDelta)
		if err != nil {
			if ctx.Err() != nil {
				a.countQuestion(plan.Level, "canceled")
				return AskResult{}, ctx.Err()
			}
			a.countQuestion(plan.Level, "failed")
			return AskResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		result.Answer = reply.Text
		result.Provider = reply.Provider
	}

	bg, cancel := a.detached(ctx)
	defer cancel()
	logger := util.LoggerFromContext(ctx)
	now := a.now()
	userID := plan.req.UserID

	if plan.cacheable && !plan.Cached {
		if err := a.cache.Set(bg, plan.Level, plan.req.Question, cache.Entry{Answer: result.Answer, Provider: result.Provider, StoredAt: now.UTC()}); err != nil {
			logger.Warn("answer cache store failed", "err", err)
		}
	}
	rec, err := a.store.IncrementUsage(bg, userID, now)
	if err != nil {
		return result, fmt.Errorf("record usage: %w", err)
	}
	result.Usage = usage.Remaining(a.limits, plan.profile.Tier, rec, now)
	a.countQuestion(plan.Level, "answered")

	a.afterAnswer(bg, plan, &result)
	return result, nil
}

// afterAnswer applies the non-critical consequences of a question. Every
// step logs and continues on failure.
func (a *App) afterAnswer(ctx context.Context, plan *AskPlan, result *AskResult) {
	logger := util.LoggerFromContext(ctx)
	now := a.now()
	userID := plan.req.UserID

	stats, err := a.store.GetStats(ctx, userID)
	statsSaved := false
	if err != nil {
		logger.Warn("load stats failed", "user_id", userID, "err", err)
	} else {
		stats = gamification.RecordQuestion(stats, now)
		if err := a.store.SaveStats(ctx, stats); err != nil {
			logger.Warn("save stats failed", "user_id", userID, "err", err)
		} else {
			statsSaved = true
			result.XPEarned = gamification.XPPerQuestion
		}
	}

	result.Topic = knowledge.ExtractTopic(plan.req.Question)
	entry, err := a.store.GetKnowledge(ctx, userID, result.Topic)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("load knowledge failed", "user_id", userID, "topic", result.Topic, "err", err)
	} else {
		entry.UserID = userID
		entry = knowledge.Apply(entry, knowledge.Observation{Topic: result.Topic, Level: plan.Level, Confused: plan.Confused, At: now})
		if err := a.store.SaveKnowledge(ctx, entry); err != nil {
			logger.Warn("save knowledge failed", "user_id", userID, "topic", result.Topic, "err", err)
		}
	}

	pet, err := a.store.GetCompanion(ctx, userID)
	hasCompanion := err == nil
	if hasCompanion {
		pet, _ = companion.Interact(pet, companion.ActionQuestion, now)
		if err := a.store.SaveCompanion(ctx, pet); err != nil {
			logger.Warn("save companion failed", "user_id", userID, "err", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("load companion failed", "user_id", userID, "err", err)
	}

	if statsSaved {
		result.Achievements = a.unlockAchievements(ctx, userID, stats)
		for _, ach := range result.Achievements {
			result.XPEarned += ach.XP
		}
	}

	a.recordEvent(ctx, userID, "question_asked", map[string]any{
		"level":    string(plan.Level),
		"confused": plan.Confused,
		"cached":   plan.Cached,
		"topic":    result.Topic,
	})

	if !hasCompanion {
		return
	}
	milestone := ""
	if len(result.Achievements) > 0 {
		milestone = result.Achievements[0].Name
	}
	fired, err := a.evaluateTrigger(ctx, userID, plan.req.SessionID, companion.TriggerQuestionAsked, milestone, pet)
	if err != nil {
		logger.Warn("companion trigger failed", "user_id", userID, "err", err)
		return
	}
	result.CompanionMessage = fired.Message
}
