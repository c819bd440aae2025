// Package gamification implements XP, levels, streaks and achievements.
package gamification

import (
	"time"

	"stupify/pkg/domain"
)

// XP rewards.
const (
	XPPerQuestion = 10
	XPPerCheckIn  = 5
	XPPerLevel    = 100
)

const dayLayout = "2006-01-02"

// Day returns the UTC day key for t.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// LevelForXP returns the level reached with xp points.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/XPPerLevel
}

// AddXP adds points to stats and recomputes the level.
func AddXP(stats domain.Stats, points int) domain.Stats {
	stats.XP = max(0, stats.XP+points)
	stats.Level = LevelForXP(stats.XP)
	return stats
}

// Touch records activity on the UTC day of now and updates the streak:
// the same day keeps it, the following day extends it, anything else
// restarts it at one.
func Touch(stats domain.Stats, now time.Time) domain.Stats {
	today := Day(now)
	switch stats.LastActiveDay {
	case today:
		if stats.CurrentStreak == 0 {
			stats.CurrentStreak = 1
		}
	case Day(now.UTC().AddDate(0, 0, -1)):
		stats.CurrentStreak++
	default:
		stats.CurrentStreak = 1
	}
	stats.LastActiveDay = today
	stats.LongestStreak = max(stats.LongestStreak, stats.CurrentStreak)
	stats.UpdatedAt = now.UTC()
	return stats
}

// RecordQuestion applies a completed question to stats.
func RecordQuestion(stats domain.Stats, now time.Time) domain.Stats {
	stats = Touch(stats, now)
	stats.TotalQuestions++
	return AddXP(stats, XPPerQuestion)
}

// RecordCheckIn applies the first check-in of a day to stats.
func RecordCheckIn(stats domain.Stats, now time.Time) domain.Stats {
	stats = Touch(stats, now)
	stats.TotalCheckIns++
	return AddXP(stats, XPPerCheckIn)
}

// StreakView is the streak summary returned to clients.
type StreakView struct {
	Current       int    `json:"current"`
	Longest       int    `json:"longest"`
	LastActiveDay string `json:"lastActiveDay,omitempty"`
	ActiveToday   bool   `json:"activeToday"`
	AtRisk        bool   `json:"atRisk"`
}

// Streak reports the streak as seen at now. A streak whose last active day
// is older than yesterday is already broken and reported as zero.
func Streak(stats domain.Stats, now time.Time) StreakView {
	view := StreakView{Longest: stats.LongestStreak, LastActiveDay: stats.LastActiveDay}
	switch stats.LastActiveDay {
	case Day(now):
		view.Current = stats.CurrentStreak
		view.ActiveToday = true
	case Day(now.UTC().AddDate(0, 0, -1)):
		view.Current = stats.CurrentStreak
		view.AtRisk = stats.CurrentStreak > 0
	}
	return view
}

// ProgressView summarizes XP progress towards the next level.
type ProgressView struct {
	XP          int `json:"xp"`
	Level       int `json:"level"`
	LevelXP     int `json:"levelXp"`
	NextLevelXP int `json:"nextLevelXp"`
}

func Progress(stats domain.Stats) ProgressView {
	level := LevelForXP(stats.XP)
	return ProgressView{
		XP:          stats.XP,
		Level:       level,
		LevelXP:     max(0, stats.XP) - (level-1)*XPPerLevel,
		NextLevelXP: level * XPPerLevel,
	}
}
