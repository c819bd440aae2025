// Package usage computes question allowances for subscription tiers.
package usage

import (
	"errors"
	"time"

	"stupify/pkg/domain"
)

// ErrQuotaExceeded is returned when a user has no questions left in the
// current period.
var ErrQuotaExceeded = errors.New("question quota exceeded")

// Unlimited marks a tier without a question cap.
const Unlimited = -1

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Period is the reset cadence of a tier.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodNone    Period = "none"
)

// Limits holds the static per-tier caps.
type Limits struct {
	FreeDaily      int
	StarterMonthly int
}

// DefaultLimits returns the production caps.
func DefaultLimits() Limits {
	return Limits{FreeDaily: 10, StarterMonthly: 150}
}

// Normalize fills zero or negative values with defaults.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	if l.FreeDaily <= 0 {
		l.FreeDaily = def.FreeDaily
	}
	if l.StarterMonthly <= 0 {
		l.StarterMonthly = def.StarterMonthly
	}
	return l
}

// Allowance is the usage summary reported to clients.
type Allowance struct {
	Tier      domain.Tier `json:"tier"`
	Period    Period      `json:"period"`
	Limit     int         `json:"limit"`
	Used      int         `json:"used"`
	Remaining int         `json:"remaining"`
	Unlimited bool        `json:"unlimited"`
	ResetsAt  *time.Time  `json:"resetsAt,omitempty"`
}

// Exhausted reports whether no further questions are allowed.
func (a Allowance) Exhausted() bool {
	return !a.Unlimited && a.Remaining <= 0
}

// DayKey returns the UTC day key used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MonthKey returns the UTC month key used for monthly counters.
func MonthKey(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

// Remaining computes the allowance for tier given the stored counters.
// Counters from a previous period count as zero.
func Remaining(limits Limits, tier domain.Tier, rec domain.UsageRecord, now time.Time) Allowance {
	limits = limits.Normalize()
	now = now.UTC()
	switch tier {
	case domain.TierPremium:
		return Allowance{Tier: tier, Period: PeriodNone, Limit: Unlimited, Used: currentMonthly(rec, now), Remaining: Unlimited, Unlimited: true}
	case domain.TierStarter:
		used := currentMonthly(rec, now)
		resets := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return bounded(tier, PeriodMonthly, limits.StarterMonthly, used, resets)
	default:
		used := 0
		if rec.DailyKey == DayKey(now) {
			used = rec.DailyCount
		}
		resets := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		return bounded(domain.TierFree, PeriodDaily, limits.FreeDaily, used, resets)
	}
}

// Check returns ErrQuotaExceeded when the allowance is exhausted.
func Check(limits Limits, tier domain.Tier, rec domain.UsageRecord, now time.Time) (Allowance, error) {
	allowance := Remaining(limits, tier, rec, now)
	if allowance.Exhausted() {
		return allowance, ErrQuotaExceeded
	}
	return allowance, nil
}

// Apply returns rec after one more question at now, rolling period keys.
func Apply(rec domain.UsageRecord, now time.Time) domain.UsageRecord {
	day, month := DayKey(now), MonthKey(now)
	if rec.DailyKey != day {
		rec.DailyKey = day
		rec.DailyCount = 0
	}
	if rec.MonthlyKey != month {
		rec.MonthlyKey = month
		rec.MonthlyCount = 0
	}
	rec.DailyCount++
	rec.MonthlyCount++
	rec.TotalCount++
	rec.UpdatedAt = now.UTC()
	return rec
}

func currentMonthly(rec domain.UsageRecord, now time.Time) int {
	if rec.MonthlyKey != MonthKey(now) || rec.MonthlyCount < 0 {
		return 0
	}
	return rec.MonthlyCount
}

func bounded(tier domain.Tier, period Period, limit, used int, resets time.Time) Allowance {
	if used < 0 {
		used = 0
	}
	if used > limit {
		used = limit
	}
	return Allowance{
		Tier:      tier,
		Period:    period,
		Limit:     limit,
		Used:      used,
		Remaining: max(0, limit-used),
		ResetsAt:  &resets,
	}
}
