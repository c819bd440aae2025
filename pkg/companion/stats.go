package companion

import (
	"errors"
	"strings"
	"time"

	"stupify/pkg/domain"
)

const (
	MinStat = 0
	MaxStat = 100

	XPPerQuestion = 5
	XPPerLevel    = 50
	TeenLevel     = 5
	AdultLevel    = 15

	decayHappinessPerDay = 5
	restEnergyPerDay     = 10
	maxNameLen           = 32
)

var (
	ErrUnknownAction = errors.New("unknown companion action")
	ErrInvalidName   = errors.New("companion name must be 1-32 characters")
)

// Action is something the user does with the companion.
type Action string

const (
	ActionQuestion Action = "question"
	ActionFeed     Action = "feed"
	ActionPlay     Action = "play"
	ActionPet      Action = "pet"
)

// Delta is a change to the stat triplet.
type Delta struct {
	Happiness int
	Energy    int
	Knowledge int
}

var actionDeltas = map[Action]Delta{
	ActionQuestion: {Happiness: 1, Energy: -1, Knowledge: 2},
	ActionFeed:     {Energy: 20},
	ActionPlay:     {Happiness: 10, Energy: -10},
	ActionPet:      {Happiness: 5},
}

// ParseAction validates a client-supplied action. Questions are only
// recorded by the chat flow, so they are not accepted here.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionFeed, ActionPlay, ActionPet:
		return a, nil
	default:
		return "", ErrUnknownAction
	}
}

// New returns a freshly hatched companion.
func New(userID, name string, archetype domain.Archetype, now time.Time) domain.Companion {
	p := PersonalityFor(archetype)
	if strings.TrimSpace(name) == "" {
		name = p.DefaultName
	}
	now = now.UTC()
	return domain.Companion{
		UserID:            userID,
		Name:              strings.TrimSpace(name),
		Archetype:         p.Archetype,
		Happiness:         70,
		Energy:            80,
		Knowledge:         0,
		Level:             1,
		Stage:             domain.StageBaby,
		LastInteractionAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ValidateName trims and bounds a companion name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

// Clamp bounds v to the stat range.
func Clamp(v int) int {
	return min(MaxStat, max(MinStat, v))
}

// ApplyDelta adds d to the stats, clamping each one.
func ApplyDelta(c domain.Companion, d Delta) domain.Companion {
	c.Happiness = Clamp(c.Happiness + d.Happiness)
	c.Energy = Clamp(c.Energy + d.Energy)
	c.Knowledge = Clamp(c.Knowledge + d.Knowledge)
	return c
}

// Decay applies inactivity since the last interaction: happiness drops and
// energy recovers per full idle day. The result is not persisted by reads;
// it is recomputed from LastInteractionAt each time.
func Decay(c domain.Companion, now time.Time) domain.Companion {
	if c.LastInteractionAt.IsZero() {
		return c
	}
	days := int(now.Sub(c.LastInteractionAt) / (24 * time.Hour))
	if days <= 0 {
		return c
	}
	return ApplyDelta(c, Delta{Happiness: -decayHappinessPerDay * days, Energy: restEnergyPerDay * days})
}

// Interact applies action at now: pending decay first, then the action
// delta, XP and evolution.
func Interact(c domain.Companion, action Action, now time.Time) (domain.Companion, error) {
	d, ok := actionDeltas[action]
	if !ok {
		return c, ErrUnknownAction
	}
	c = Decay(c, now)
	c = ApplyDelta(c, d)
	if action == ActionQuestion {
		c.XP += XPPerQuestion
	}
	c = Evolve(c)
	now = now.UTC()
	c.LastInteractionAt = now
	c.UpdatedAt = now
	return c, nil
}

// LevelForXP returns the companion level for xp.
func LevelForXP(xp int) int {
	return 1 + max(0, xp)/XPPerLevel
}

// StageForLevel derives the evolution stage.
func StageForLevel(level int) domain.Stage {
	switch {
	case level >= AdultLevel:
		return domain.StageAdult
	case level >= TeenLevel:
		return domain.StageTeen
	default:
		return domain.StageBaby
	}
}

// Evolve recomputes level and stage from XP.
func Evolve(c domain.Companion) domain.Companion {
	c.Level = LevelForXP(c.XP)
	c.Stage = StageForLevel(c.Level)
	return c
}

// Mood summarizes the stat triplet in one word.
func Mood(c domain.Companion) string {
	switch {
	case c.Energy < 20:
		return "sleepy"
	case c.Happiness >= 80:
		return "ecstatic"
	case c.Happiness >= 50:
		return "happy"
	case c.Happiness >= 25:
		return "bored"
	default:
		return "lonely"
	}
}
