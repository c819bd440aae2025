package gamification

import (
	"sort"
	"time"

	"stupify/pkg/domain"
)

// Achievement is a catalogue entry.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	XP          int    `json:"xp"`
	met         func(Snapshot) bool
}

// Snapshot is everything achievement evaluation looks at.
type Snapshot struct {
	Stats          domain.Stats
	TopicCount     int
	ShareCount     int
	CompanionStage domain.Stage
}

var catalogue = []Achievement{
	{ID: "first_question", Name: "Curious Mind", Description: "Ask your first question", Icon: "sparkles", XP: 10,
		met: func(s Snapshot) bool { return s.Stats.TotalQuestions >= 1 }},
	{ID: "questions_10", Name: "Question Explorer", Description: "Ask 10 questions", Icon: "compass", XP: 25,
		met: func(s Snapshot) bool { return s.Stats.TotalQuestions >= 10 }},
	{ID: "questions_50", Name: "Knowledge Seeker", Description: "Ask 50 questions", Icon: "book", XP: 50,
		met: func(s Snapshot) bool { return s.Stats.TotalQuestions >= 50 }},
	{ID: "questions_100", Name: "Wisdom Hunter", Description: "Ask 100 questions", Icon: "trophy", XP: 100,
		met: func(s Snapshot) bool { return s.Stats.TotalQuestions >= 100 }},
	{ID: "streak_3", Name: "Getting Started", Description: "Keep a 3-day streak", Icon: "flame", XP: 15,
		met: func(s Snapshot) bool { return s.Stats.LongestStreak >= 3 }},
	{ID: "streak_7", Name: "Week Warrior", Description: "Keep a 7-day streak", Icon: "calendar", XP: 50,
		met: func(s Snapshot) bool { return s.Stats.LongestStreak >= 7 }},
	{ID: "streak_30", Name: "Unstoppable", Description: "Keep a 30-day streak", Icon: "rocket", XP: 200,
		met: func(s Snapshot) bool { return s.Stats.LongestStreak >= 30 }},
	{ID: "topics_5", Name: "Well Rounded", Description: "Ask about 5 different topics", Icon: "globe", XP: 25,
		met: func(s Snapshot) bool { return s.TopicCount >= 5 }},
	{ID: "topics_20", Name: "Renaissance Learner", Description: "Ask about 20 different topics", Icon: "brain", XP: 100,
		met: func(s Snapshot) bool { return s.TopicCount >= 20 }},
	{ID: "first_share", Name: "Spread the Word", Description: "Share an answer", Icon: "share", XP: 10,
		met: func(s Snapshot) bool { return s.ShareCount >= 1 }},
	{ID: "companion_teen", Name: "Growing Up", Description: "Raise your companion to the teen stage", Icon: "sprout", XP: 25,
		met: func(s Snapshot) bool {
			return s.CompanionStage == domain.StageTeen || s.CompanionStage == domain.StageAdult
		}},
	{ID: "companion_adult", Name: "All Grown Up", Description: "Raise your companion to the adult stage", Icon: "tree", XP: 75,
		met: func(s Snapshot) bool { return s.CompanionStage == domain.StageAdult }},
}

// Catalogue returns every achievement definition.
func Catalogue() []Achievement {
	return append([]Achievement(nil), catalogue...)
}

func Lookup(id string) (Achievement, bool) {
	for _, a := range catalogue {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// Evaluate returns the achievements met by snap that are not yet unlocked.
func Evaluate(snap Snapshot, unlocked map[string]bool) []Achievement {
	var out []Achievement
	for _, a := range catalogue {
		if unlocked[a.ID] {
			continue
		}
		if a.met(snap) {
			out = append(out, a)
		}
	}
	return out
}

// AchievementView is one catalogue entry with the user's unlock state.
type AchievementView struct {
	Achievement
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlockedAt,omitempty"`
}

// Views merges the catalogue with a user's unlocks, unlocked first.
func Views(unlocks []domain.AchievementUnlock) []AchievementView {
	at := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		at[u.AchievementID] = u.UnlockedAt.UTC()
	}
	views := make([]AchievementView, 0, len(catalogue))
	for _, a := range catalogue {
		view := AchievementView{Achievement: a}
		if ts, ok := at[a.ID]; ok {
			view.Unlocked = true
			view.UnlockedAt = &ts
		}
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Unlocked && !views[j].Unlocked
	})
	return views
}

// UnlockedSet indexes unlocks by achievement id.
func UnlockedSet(unlocks []domain.AchievementUnlock) map[string]bool {
	set := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		set[u.AchievementID] = true
	}
	return set
}
