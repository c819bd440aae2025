package companion

import (
	"errors"
	"strings"
	"time"
)

// TriggerType names an event that may warrant a proactive message.
type TriggerType string

const (
	TriggerMilestone       TriggerType = "milestone"
	TriggerStreakReminder  TriggerType = "streak_reminder"
	TriggerInactivity      TriggerType = "inactivity"
	TriggerTopicSuggestion TriggerType = "topic_suggestion"
	TriggerQuestionAsked   TriggerType = "question_asked"
	TriggerSessionStart    TriggerType = "session_start"
)

// ErrUnknownTrigger is returned for trigger names outside the enum.
var ErrUnknownTrigger = errors.New("unknown trigger type")

// priority is the fixed evaluation order; the first eligible candidate wins.
var priority = []TriggerType{
	TriggerMilestone,
	TriggerStreakReminder,
	TriggerInactivity,
	TriggerTopicSuggestion,
	TriggerQuestionAsked,
	TriggerSessionStart,
}

// ParseTrigger validates a trigger name.
func ParseTrigger(raw string) (TriggerType, error) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(raw)))
	for _, p := range priority {
		if p == t {
			return t, nil
		}
	}
	return "", ErrUnknownTrigger
}

// TriggerContext is what the detector knows about the user when an event
// arrives.
type TriggerContext struct {
	Event                TriggerType
	QuestionsThisSession int
	CurrentStreak        int
	StreakAtRisk         bool
	IdleFor              time.Duration
	Milestone            string
	TopTopics            []string
}

// SessionState is the per-session trigger bookkeeping.
type SessionState struct {
	SessionID     string                    `json:"sessionId"`
	LastFired     map[TriggerType]time.Time `json:"lastFired"`
	MessageCount  int                       `json:"messageCount"`
	LastMessageAt time.Time                 `json:"lastMessageAt"`
	Questions     int                       `json:"questions"`
}

// CountQuestion returns a copy of s with one more question asked.
func (s SessionState) CountQuestion() SessionState {
	s.Questions++
	return s
}

// Record returns a copy of s after trigger fired at now.
func (s SessionState) Record(trigger TriggerType, now time.Time) SessionState {
	fired := make(map[TriggerType]time.Time, len(s.LastFired)+1)
	for k, v := range s.LastFired {
		fired[k] = v
	}
	fired[trigger] = now.UTC()
	s.LastFired = fired
	s.MessageCount++
	s.LastMessageAt = now.UTC()
	return s
}

// Policy holds the detector tunables.
type Policy struct {
	Cooldowns       map[TriggerType]time.Duration
	SessionCap      int
	MinGap          time.Duration
	InactivityAfter time.Duration
	TopicEvery      int
}

// DefaultPolicy returns the production trigger policy.
func DefaultPolicy() Policy {
	return Policy{
		Cooldowns: map[TriggerType]time.Duration{
			TriggerMilestone:       0,
			TriggerStreakReminder:  12 * time.Hour,
			TriggerInactivity:      24 * time.Hour,
			TriggerTopicSuggestion: 30 * time.Minute,
			TriggerQuestionAsked:   10 * time.Minute,
			TriggerSessionStart:    4 * time.Hour,
		},
		SessionCap:      5,
		MinGap:          2 * time.Minute,
		InactivityAfter: 72 * time.Hour,
		TopicEvery:      3,
	}
}

// Decision reasons.
const (
	ReasonFired       = "fired"
	ReasonSessionCap  = "session_cap"
	ReasonMinGap      = "min_gap"
	ReasonCooldown    = "cooldown"
	ReasonNoCandidate = "no_candidate"
)

// Decision is the detector output.
type Decision struct {
	Fire    bool        `json:"fire"`
	Trigger TriggerType `json:"trigger,omitempty"`
	Reason  string      `json:"reason"`
}

// Candidates derives the triggers an event could fire, in priority order.
func (p Policy) Candidates(ctx TriggerContext) []TriggerType {
	want := map[TriggerType]bool{ctx.Event: true}
	if ctx.Milestone != "" {
		want[TriggerMilestone] = true
	}
	if ctx.StreakAtRisk && ctx.CurrentStreak > 0 && ctx.Event == TriggerSessionStart {
		want[TriggerStreakReminder] = true
	}
	if p.InactivityAfter > 0 && ctx.IdleFor >= p.InactivityAfter && ctx.Event == TriggerSessionStart {
		want[TriggerInactivity] = true
	}
	if ctx.Event == TriggerQuestionAsked && p.TopicEvery > 0 && len(ctx.TopTopics) > 0 &&
		ctx.QuestionsThisSession > 0 && ctx.QuestionsThisSession%p.TopicEvery == 0 {
		want[TriggerTopicSuggestion] = true
	}
	if want[TriggerTopicSuggestion] && len(ctx.TopTopics) == 0 {
		delete(want, TriggerTopicSuggestion)
	}
	out := make([]TriggerType, 0, len(want))
	for _, t := range priority {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

// Evaluate decides whether a message should be sent for ctx given the
// session state. It has no side effects; callers persist state.Record on
// a positive decision.
func (p Policy) Evaluate(ctx TriggerContext, state SessionState, now time.Time) Decision {
	if p.SessionCap > 0 && state.MessageCount >= p.SessionCap {
		return Decision{Reason: ReasonSessionCap}
	}
	if p.MinGap > 0 && !state.LastMessageAt.IsZero() && now.Sub(state.LastMessageAt) < p.MinGap {
		return Decision{Reason: ReasonMinGap}
	}
	candidates := p.Candidates(ctx)
	if len(candidates) == 0 {
		return Decision{Reason: ReasonNoCandidate}
	}
	for _, t := range candidates {
		if last, ok := state.LastFired[t]; ok && now.Sub(last) < p.Cooldowns[t] {
			continue
		}
		return Decision{Fire: true, Trigger: t, Reason: ReasonFired}
	}
	return Decision{Reason: ReasonCooldown}
}
