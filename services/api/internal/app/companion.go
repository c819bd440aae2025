package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stupify/internal/util"
	"stupify/pkg/companion"
	"stupify/pkg/domain"
	"stupify/pkg/gamification"
	"stupify/pkg/knowledge"
	"stupify/pkg/queue"
	"stupify/pkg/store"
)

// CompanionView is a companion as of now, with decay applied.
type CompanionView struct {
	Companion   domain.Companion      `json:"companion"`
	Mood        string                `json:"mood"`
	Personality companion.Personality `json:"personality"`
}

// TriggerResult is the outcome of a trigger evaluation.
type TriggerResult struct {
	Decision companion.Decision   `json:"decision"`
	Message  *queue.QueuedMessage `json:"message,omitempty"`
}

// Message acknowledgements.
const (
	AckRead    = "read"
	AckDismiss = "dismiss"
)

func (a *App) Companion(ctx context.Context, userID string) (CompanionView, error) {
	pet, err := a.loadCompanion(ctx, userID)
	if err != nil {
		return CompanionView{}, err
	}
	return a.companionView(pet), nil
}

// CreateCompanion hatches the user's companion. name may be empty to use
// the archetype's default.
func (a *App) CreateCompanion(ctx context.Context, userID, name, archetype string) (CompanionView, error) {
	arch, ok := domain.ParseArchetype(archetype)
	if !ok {
		return CompanionView{}, ErrInvalidArchetype
	}
	if strings.TrimSpace(name) != "" {
		valid, err := companion.ValidateName(name)
		if err != nil {
			return CompanionView{}, err
		}
		name = valid
	}
	if _, err := a.store.GetCompanion(ctx, userID); err == nil {
		return CompanionView{}, ErrCompanionExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return CompanionView{}, fmt.Errorf("load companion: %w", err)
	}
	pet := companion.New(userID, name, arch, a.now())
	if err := a.store.SaveCompanion(ctx, pet); err != nil {
		return CompanionView{}, fmt.Errorf("save companion: %w", err)
	}
	a.recordEvent(ctx, userID, "companion_created", map[string]any{"archetype": string(arch)})
	return a.companionView(pet), nil
}

// UpdateCompanion renames the companion or switches its archetype. Empty
// fields are left unchanged.
func (a *App) UpdateCompanion(ctx context.Context, userID, name, archetype string) (CompanionView, error) {
	pet, err := a.loadCompanion(ctx, userID)
	if err != nil {
		return CompanionView{}, err
	}
	if name != "" {
		valid, err := companion.ValidateName(name)
		if err != nil {
			return CompanionView{}, err
		}
		pet.Name = valid
	}
	if archetype != "" {
		arch, ok := domain.ParseArchetype(archetype)
		if !ok {
			return CompanionView{}, ErrInvalidArchetype
		}
		pet.Archetype = arch
	}
	pet.UpdatedAt = a.now().UTC()
	if err := a.store.SaveCompanion(ctx, pet); err != nil {
		return CompanionView{}, fmt.Errorf("save companion: %w", err)
	}
	return a.companionView(pet), nil
}

// InteractCompanion applies a feed, play or pet action.
func (a *App) InteractCompanion(ctx context.Context, userID, action string) (CompanionView, error) {
	act, err := companion.ParseAction(action)
	if err != nil {
		return CompanionView{}, err
	}
	pet, err := a.loadCompanion(ctx, userID)
	if err != nil {
		return CompanionView{}, err
	}
	if pet, err = companion.Interact(pet, act, a.now()); err != nil {
		return CompanionView{}, err
	}
	if err := a.store.SaveCompanion(ctx, pet); err != nil {
		return CompanionView{}, fmt.Errorf("save companion: %w", err)
	}
	a.recordEvent(ctx, userID, "companion_interaction", map[string]any{"action": string(act)})
	return a.companionView(pet), nil
}

// EvaluateTrigger runs the trigger detector for a client-reported event
// and, when it fires, generates and queues a companion message.
func (a *App) EvaluateTrigger(ctx context.Context, userID, sessionID, event, milestone string) (TriggerResult, error) {
	trigger, err := companion.ParseTrigger(event)
	if err != nil {
		return TriggerResult{}, err
	}
	pet, err := a.loadCompanion(ctx, userID)
	if err != nil {
		return TriggerResult{}, err
	}
	return a.evaluateTrigger(ctx, userID, sessionID, trigger, milestone, pet)
}

func (a *App) evaluateTrigger(ctx context.Context, userID, sessionID string, event companion.TriggerType, milestone string, pet domain.Companion) (TriggerResult, error) {
	logger := util.LoggerFromContext(ctx)
	now := a.now()

	state, err := a.sessions.Load(ctx, userID, sessionID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("load trigger session: %w", err)
	}
	if event == companion.TriggerQuestionAsked {
		state = state.CountQuestion()
	}

	tctx := companion.TriggerContext{
		Event:                event,
		QuestionsThisSession: state.Questions,
		Milestone:            strings.TrimSpace(milestone),
	}
	if !pet.LastInteractionAt.IsZero() {
		tctx.IdleFor = now.Sub(pet.LastInteractionAt)
	}
	stats, err := a.store.GetStats(ctx, userID)
	if err != nil {
		logger.Warn("load stats failed", "user_id", userID, "err", err)
	}
	streak := gamification.Streak(stats, now)
	tctx.CurrentStreak = streak.Current
	tctx.StreakAtRisk = streak.AtRisk
	entries, err := a.store.ListKnowledge(ctx, userID)
	if err != nil {
		logger.Warn("list knowledge failed", "user_id", userID, "err", err)
	}
	tctx.TopTopics = knowledge.TopTopics(entries, topTopicCount)

	result := TriggerResult{Decision: a.policy.Evaluate(tctx, state, now)}
	if result.Decision.Fire {
		msg := a.generator.Generate(ctx, companion.GenerateInput{
			Archetype:  pet.Archetype,
			Name:       pet.Name,
			Trigger:    result.Decision.Trigger,
			Topics:     tctx.TopTopics,
			StreakDays: streak.Current,
			Milestone:  tctx.Milestone,
			Now:        now,
		})
		if msg.FallbackReason != "" {
			logger.Info("companion message fell back to template", "trigger", msg.Trigger, "reason", msg.FallbackReason)
		}
		queued, err := a.queue.Enqueue(ctx, queue.QueuedMessage{
			UserID:  userID,
			Trigger: string(msg.Trigger),
			Content: msg.Content,
			Source:  msg.Source,
		})
		switch {
		case errors.Is(err, queue.ErrDuplicateMessage):
			result.Decision = companion.Decision{Trigger: msg.Trigger, Reason: reasonDuplicate}
		case err != nil:
			return TriggerResult{}, fmt.Errorf("enqueue companion message: %w", err)
		default:
			result.Message = &queued
			state = state.Record(msg.Trigger, now)
			if a.metrics != nil {
				a.metrics.CompanionMessages.WithLabelValues(string(msg.Trigger), msg.Source).Inc()
			}
			a.recordEvent(ctx, userID, "companion_message_queued", map[string]any{
				"trigger": string(msg.Trigger),
				"source":  msg.Source,
			})
		}
	}
	if err := a.sessions.Save(ctx, userID, state); err != nil {
		logger.Warn("save trigger session failed", "user_id", userID, "err", err)
	}
	return result, nil
}

// reasonDuplicate marks a fired trigger whose message was already queued.
const reasonDuplicate = "duplicate"

func (a *App) ListMessages(ctx context.Context, userID string) ([]queue.QueuedMessage, error) {
	msgs, err := a.queue.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list companion messages: %w", err)
	}
	return msgs, nil
}

// NextMessage returns the oldest pending message, or nil when none.
func (a *App) NextMessage(ctx context.Context, userID string) (*queue.QueuedMessage, error) {
	msg, ok, err := a.queue.Next(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("next companion message: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// AckMessage removes a delivered message after the user read or dismissed it.
func (a *App) AckMessage(ctx context.Context, userID, id, action string) error {
	if action != AckRead && action != AckDismiss {
		return companion.ErrUnknownAction
	}
	msg, ok, err := a.queue.Get(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("load companion message: %w", err)
	}
	if !ok {
		return ErrMessageNotFound
	}
	removed, err := a.queue.Ack(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("ack companion message: %w", err)
	}
	if !removed {
		return ErrMessageNotFound
	}
	props := map[string]any{"trigger": msg.Trigger, "source": msg.Source}
	if !msg.CreatedAt.IsZero() {
		props["ageSeconds"] = int(a.now().Sub(msg.CreatedAt) / time.Second)
	}
	a.recordEvent(ctx, userID, "companion_message_"+action, props)
	return nil
}

func (a *App) loadCompanion(ctx context.Context, userID string) (domain.Companion, error) {
	pet, err := a.store.GetCompanion(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Companion{}, ErrCompanionNotFound
	}
	if err != nil {
		return domain.Companion{}, fmt.Errorf("load companion: %w", err)
	}
	return pet, nil
}

func (a *App) companionView(pet domain.Companion) CompanionView {
	pet = companion.Evolve(companion.Decay(pet, a.now()))
	return CompanionView{
		Companion:   pet,
		Mood:        companion.Mood(pet),
		Personality: companion.PersonalityFor(pet.Archetype),
	}
}
