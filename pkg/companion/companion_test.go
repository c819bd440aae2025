package companion

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stupify/pkg/domain"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func TestStatsStayInRangeAfterAnySequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := New("u1", "", domain.ArchetypeFriend, t0)
	for i := 0; i < 2000; i++ {
		d := Delta{
			Happiness: rng.Intn(81) - 40,
			Energy:    rng.Intn(81) - 40,
			Knowledge: rng.Intn(81) - 40,
		}
		c = ApplyDelta(c, d)
		for _, v := range []int{c.Happiness, c.Energy, c.Knowledge} {
			require.GreaterOrEqual(t, v, MinStat)
			require.LessOrEqual(t, v, MaxStat)
		}
	}
}

func TestInteractAppliesActionDeltas(t *testing.T) {
	c := New("u1", "Pip", domain.ArchetypeMentor, t0)
	c.Happiness, c.Energy, c.Knowledge = 50, 50, 50

	c, err := Interact(c, ActionQuestion, t0)
	require.NoError(t, err)
	assert.Equal(t, 51, c.Happiness)
	assert.Equal(t, 49, c.Energy)
	assert.Equal(t, 52, c.Knowledge)
	assert.Equal(t, XPPerQuestion, c.XP)

	c, _ = Interact(c, ActionFeed, t0)
	assert.Equal(t, 69, c.Energy)
	c, _ = Interact(c, ActionPlay, t0)
	assert.Equal(t, 61, c.Happiness)
	assert.Equal(t, 59, c.Energy)
	c, _ = Interact(c, ActionPet, t0)
	assert.Equal(t, 66, c.Happiness)

	_, err = Interact(c, Action("dance"), t0)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestParseActionRejectsQuestion(t *testing.T) {
	_, err := ParseAction("question")
	assert.ErrorIs(t, err, ErrUnknownAction)
	a, err := ParseAction(" Feed ")
	require.NoError(t, err)
	assert.Equal(t, ActionFeed, a)
}

func TestDecayPerIdleDay(t *testing.T) {
	c := New("u1", "", domain.ArchetypeExplorer, t0)
	c.Happiness, c.Energy = 60, 50

	same := Decay(c, t0.Add(23*time.Hour))
	assert.Equal(t, 60, same.Happiness)

	later := Decay(c, t0.Add(3*24*time.Hour+time.Hour))
	assert.Equal(t, 45, later.Happiness)
	assert.Equal(t, 80, later.Energy)

	long := Decay(c, t0.AddDate(0, 2, 0))
	assert.Equal(t, 0, long.Happiness)
	assert.Equal(t, 100, long.Energy)
}

func TestEvolutionStages(t *testing.T) {
	assert.Equal(t, domain.StageBaby, StageForLevel(4))
	assert.Equal(t, domain.StageTeen, StageForLevel(5))
	assert.Equal(t, domain.StageTeen, StageForLevel(14))
	assert.Equal(t, domain.StageAdult, StageForLevel(15))

	c := Evolve(domain.Companion{XP: 4 * XPPerLevel})
	assert.Equal(t, 5, c.Level)
	assert.Equal(t, domain.StageTeen, c.Stage)
}

func TestNewUsesArchetypeDefaults(t *testing.T) {
	c := New("u1", "  ", domain.Archetype("robot"), t0)
	assert.Equal(t, domain.ArchetypeFriend, c.Archetype)
	assert.Equal(t, "Buddy", c.Name)
	assert.Equal(t, 1, c.Level)

	_, err := ValidateName(strings.Repeat("x", 33))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestEvaluatePicksHighestPriorityOffCooldown(t *testing.T) {
	p := DefaultPolicy()
	ctx := TriggerContext{
		Event:         TriggerSessionStart,
		CurrentStreak: 4,
		StreakAtRisk:  true,
		IdleFor:       100 * time.Hour,
	}
	d := p.Evaluate(ctx, SessionState{}, t0)
	require.True(t, d.Fire)
	assert.Equal(t, TriggerStreakReminder, d.Trigger)

	state := SessionState{}.Record(TriggerStreakReminder, t0.Add(-time.Hour))
	d = p.Evaluate(ctx, state, t0)
	require.True(t, d.Fire)
	assert.Equal(t, TriggerInactivity, d.Trigger)
}

func TestEvaluateMilestoneBeatsEverything(t *testing.T) {
	d := DefaultPolicy().Evaluate(TriggerContext{Event: TriggerQuestionAsked, Milestone: "Level 5"}, SessionState{}, t0)
	assert.Equal(t, Decision{Fire: true, Trigger: TriggerMilestone, Reason: ReasonFired}, d)
}

func TestEvaluateHonoursCapGapAndCooldown(t *testing.T) {
	p := DefaultPolicy()
	ctx := TriggerContext{Event: TriggerQuestionAsked, QuestionsThisSession: 1}

	capped := SessionState{MessageCount: p.SessionCap}
	assert.Equal(t, ReasonSessionCap, p.Evaluate(ctx, capped, t0).Reason)

	recent := SessionState{MessageCount: 1, LastMessageAt: t0.Add(-30 * time.Second)}
	assert.Equal(t, ReasonMinGap, p.Evaluate(ctx, recent, t0).Reason)

	cooling := SessionState{}.Record(TriggerQuestionAsked, t0.Add(-5*time.Minute))
	assert.Equal(t, ReasonCooldown, p.Evaluate(ctx, cooling, t0).Reason)

	assert.True(t, p.Evaluate(ctx, cooling, t0.Add(6*time.Minute)).Fire)
}

func TestCandidatesTopicSuggestionEveryNQuestions(t *testing.T) {
	p := DefaultPolicy()
	ctx := TriggerContext{Event: TriggerQuestionAsked, QuestionsThisSession: 3, TopTopics: []string{"space"}}
	assert.Equal(t, []TriggerType{TriggerTopicSuggestion, TriggerQuestionAsked}, p.Candidates(ctx))

	ctx.QuestionsThisSession = 2
	assert.Equal(t, []TriggerType{TriggerQuestionAsked}, p.Candidates(ctx))

	assert.Empty(t, p.Candidates(TriggerContext{Event: TriggerTopicSuggestion}))
}

func TestRecordDoesNotMutateOriginal(t *testing.T) {
	orig := SessionState{}.Record(TriggerSessionStart, t0)
	next := orig.Record(TriggerQuestionAsked, t0.Add(time.Minute))
	assert.Len(t, orig.LastFired, 1)
	assert.Len(t, next.LastFired, 2)
	assert.Equal(t, 2, next.MessageCount)

	counted := next.CountQuestion().CountQuestion()
	assert.Equal(t, 2, counted.Questions)
	assert.Equal(t, 0, next.Questions)
}

type stubLLM struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubLLM) GenerateText(ctx context.Context, _, _ string) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.text, s.err
}

func TestGenerateUsesLLMWhenValid(t *testing.T) {
	llm := &stubLLM{text: `"Great question about stars! Keep looking up."`}
	msg := NewGenerator(llm, time.Second).Generate(context.Background(), GenerateInput{
		Archetype: domain.ArchetypeExplorer, Trigger: TriggerQuestionAsked, Now: t0,
	})
	assert.Equal(t, SourceLLM, msg.Source)
	assert.Equal(t, "Great question about stars! Keep looking up.", msg.Content)
}

func TestGenerateFallsBackOnceOnFailure(t *testing.T) {
	in := GenerateInput{Archetype: domain.ArchetypeMentor, Trigger: TriggerStreakReminder, StreakDays: 6, Now: t0}
	cases := map[string]*stubLLM{
		"error":     {err: errors.New("boom")},
		"empty":     {text: "   "},
		"too long":  {text: strings.Repeat("a", MaxMessageChars+1)},
		"sentences": {text: "One. Two. Three. Four."},
		"ai":        {text: "As an AI, I think you should keep going."},
		"timeout":   {text: "Hello!", delay: 200 * time.Millisecond},
	}
	for name, llm := range cases {
		msg := NewGenerator(llm, 20*time.Millisecond).Generate(context.Background(), in)
		assert.Equal(t, SourceTemplate, msg.Source, name)
		assert.Contains(t, msg.Content, "6-day streak", name)
		assert.NotEmpty(t, msg.FallbackReason, name)
		assert.Equal(t, 1, llm.calls, name)
	}

	msg := NewGenerator(nil, 0).Generate(context.Background(), in)
	assert.Equal(t, SourceTemplate, msg.Source)
}

func TestEveryTemplatePassesValidation(t *testing.T) {
	for _, p := range Personalities() {
		for _, trig := range priority {
			text := Template(GenerateInput{Archetype: p.Archetype, Trigger: trig, Topics: []string{"space"}, StreakDays: 3, Milestone: "Level 5"})
			_, err := Validate(text)
			assert.NoError(t, err, "%s/%s: %q", p.Archetype, trig, text)
		}
	}
}

func TestBuildPromptCarriesContext(t *testing.T) {
	sys, user := BuildPrompt(GenerateInput{
		Archetype: domain.ArchetypeMentor, Name: "Sage", Trigger: TriggerTopicSuggestion,
		Topics: []string{"physics", "math"}, StreakDays: 2, Now: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, sys, "Sage")
	assert.Contains(t, sys, "encouragement 0.90")
	assert.Contains(t, user, "physics")
	assert.Contains(t, user, "evening")
	assert.Contains(t, user, "2 days")
}

func TestCountSentences(t *testing.T) {
	assert.Equal(t, 0, CountSentences(""))
	assert.Equal(t, 1, CountSentences("hello there"))
	assert.Equal(t, 2, CountSentences("Hi! How are you?"))
	assert.Equal(t, 3, CountSentences("Wow... really? yes"))
}
