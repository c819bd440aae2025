package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stupify/pkg/domain"
)

var now = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func TestRemainingFreeTierCountsOnlyToday(t *testing.T) {
	limits := DefaultLimits()

	today := domain.UsageRecord{DailyKey: DayKey(now), DailyCount: 4}
	a := Remaining(limits, domain.TierFree, today, now)
	assert.Equal(t, limits.FreeDaily-4, a.Remaining)
	assert.Equal(t, PeriodDaily, a.Period)
	require.NotNil(t, a.ResetsAt)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *a.ResetsAt)

	yesterday := domain.UsageRecord{DailyKey: DayKey(now.AddDate(0, 0, -1)), DailyCount: 9}
	a = Remaining(limits, domain.TierFree, yesterday, now)
	assert.Equal(t, limits.FreeDaily, a.Remaining)
	assert.Equal(t, 0, a.Used)
}

func TestRemainingNeverNegativeNorAboveLimit(t *testing.T) {
	limits := Limits{FreeDaily: 3, StarterMonthly: 5}
	for _, count := range []int{-7, 0, 2, 3, 4, 1000} {
		free := Remaining(limits, domain.TierFree, domain.UsageRecord{DailyKey: DayKey(now), DailyCount: count}, now)
		assert.GreaterOrEqual(t, free.Remaining, 0, "count=%d", count)
		assert.LessOrEqual(t, free.Remaining, limits.FreeDaily, "count=%d", count)

		starter := Remaining(limits, domain.TierStarter, domain.UsageRecord{MonthlyKey: MonthKey(now), MonthlyCount: count}, now)
		assert.GreaterOrEqual(t, starter.Remaining, 0, "count=%d", count)
		assert.LessOrEqual(t, starter.Remaining, limits.StarterMonthly, "count=%d", count)
	}
}

func TestRemainingPremiumAlwaysUnlimited(t *testing.T) {
	for _, rec := range []domain.UsageRecord{
		{},
		{DailyKey: DayKey(now), DailyCount: 1 << 20, MonthlyKey: MonthKey(now), MonthlyCount: 1 << 20},
		{DailyCount: -3},
	} {
		a := Remaining(DefaultLimits(), domain.TierPremium, rec, now)
		assert.True(t, a.Unlimited)
		assert.False(t, a.Exhausted())
		assert.Nil(t, a.ResetsAt)
	}
}

func TestStarterResetsMonthly(t *testing.T) {
	limits := DefaultLimits()
	rec := domain.UsageRecord{MonthlyKey: "2026-02", MonthlyCount: limits.StarterMonthly}
	a := Remaining(limits, domain.TierStarter, rec, now)
	assert.Equal(t, limits.StarterMonthly, a.Remaining)
	require.NotNil(t, a.ResetsAt)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *a.ResetsAt)

	rec.MonthlyKey = MonthKey(now)
	_, err := Check(limits, domain.TierStarter, rec, now)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCheckDeniesAtZero(t *testing.T) {
	limits := Limits{FreeDaily: 2}
	rec := domain.UsageRecord{}
	for i := 0; i < 2; i++ {
		_, err := Check(limits, domain.TierFree, rec, now)
		require.NoError(t, err)
		rec = Apply(rec, now)
	}
	a, err := Check(limits, domain.TierFree, rec, now)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 0, a.Remaining)
}

func TestApplyRollsPeriodAtUTCBoundary(t *testing.T) {
	lateNight := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	rec := Apply(domain.UsageRecord{}, lateNight)
	rec = Apply(rec, lateNight)
	assert.Equal(t, 2, rec.DailyCount)

	next := lateNight.Add(2 * time.Second)
	rec = Apply(rec, next)
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, 1, rec.MonthlyCount)
	assert.Equal(t, "2026-02-01", rec.DailyKey)
	assert.Equal(t, "2026-02", rec.MonthlyKey)
	assert.Equal(t, 3, rec.TotalCount)
}
