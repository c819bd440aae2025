package domain

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPremium Tier = "premium"
)

// ParseTier normalizes a tier name; unknown values report false.
func ParseTier(raw string) (Tier, bool) {
	v := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case TierFree, TierStarter, TierPremium:
		return v, true
	default:
		return "", false
	}
}

type SimplicityLevel string

const (
	LevelFiveYearOld SimplicityLevel = "5yo"
	LevelNormal      SimplicityLevel = "normal"
	LevelAdvanced    SimplicityLevel = "advanced"
)

// ParseLevel normalizes a simplicity level; unknown values report false.
func ParseLevel(raw string) (SimplicityLevel, bool) {
	v := SimplicityLevel(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case LevelFiveYearOld, LevelNormal, LevelAdvanced:
		return v, true
	default:
		return "", false
	}
}

// Simpler returns the next simpler level; 5yo is already the floor.
func (l SimplicityLevel) Simpler() SimplicityLevel {
	switch l {
	case LevelAdvanced:
		return LevelNormal
	default:
		return LevelFiveYearOld
	}
}

type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = ""
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type Profile struct {
	ID                   string             `json:"id"`
	Email                string             `json:"email"`
	Tier                 Tier               `json:"tier"`
	PreferredLevel       SimplicityLevel    `json:"preferredLevel"`
	StripeCustomerID     string             `json:"-"`
	StripeSubscriptionID string             `json:"-"`
	SubscriptionStatus   SubscriptionStatus `json:"subscriptionStatus,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"currentPeriodEnd,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// UsageRecord holds the raw question counters for a user. Period keys are
// UTC "2006-01-02" (daily) and "2006-01" (monthly).
type UsageRecord struct {
	UserID       string    `json:"userId"`
	DailyCount   int       `json:"dailyCount"`
	DailyKey     string    `json:"dailyKey"`
	MonthlyCount int       `json:"monthlyCount"`
	MonthlyKey   string    `json:"monthlyKey"`
	TotalCount   int       `json:"totalCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=8000"`
}

type Stats struct {
	UserID         string    `json:"userId"`
	XP             int       `json:"xp"`
	Level          int       `json:"level"`
	CurrentStreak  int       `json:"currentStreak"`
	LongestStreak  int       `json:"longestStreak"`
	LastActiveDay  string    `json:"lastActiveDay,omitempty"`
	TotalQuestions int       `json:"totalQuestions"`
	TotalCheckIns  int       `json:"totalCheckIns"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CheckIn struct {
	UserID    string    `json:"userId"`
	Day       string    `json:"day"`
	CreatedAt time.Time `json:"createdAt"`
}

type AchievementUnlock struct {
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	UnlockedAt    time.Time `json:"unlockedAt"`
}

type Archetype string

const (
	ArchetypeMentor   Archetype = "mentor"
	ArchetypeFriend   Archetype = "friend"
	ArchetypeExplorer Archetype = "explorer"
)

// ParseArchetype normalizes an archetype name; unknown values report false.
func ParseArchetype(raw string) (Archetype, bool) {
	v := Archetype(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case ArchetypeMentor, ArchetypeFriend, ArchetypeExplorer:
		return v, true
	default:
		return "", false
	}
}

type Stage string

const (
	StageBaby  Stage = "baby"
	StageTeen  Stage = "teen"
	StageAdult Stage = "adult"
)

type Companion struct {
	UserID            string    `json:"userId"`
	Name              string    `json:"name"`
	Archetype         Archetype `json:"archetype"`
	Happiness         int       `json:"happiness"`
	Energy            int       `json:"energy"`
	Knowledge         int       `json:"knowledge"`
	XP                int       `json:"xp"`
	Level             int       `json:"level"`
	Stage             Stage     `json:"stage"`
	LastInteractionAt time.Time `json:"lastInteractionAt"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type KnowledgeEntry struct {
	UserID         string    `json:"userId"`
	Topic          string    `json:"topic"`
	QuestionsAsked int       `json:"questionsAsked"`
	Understanding  int       `json:"understanding"`
	ConfusedCount  int       `json:"confusedCount"`
	LastAskedAt    time.Time `json:"lastAskedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Share struct {
	ID        string          `json:"id"`
	UserID    string          `json:"-"`
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Level     SimplicityLevel `json:"level"`
	Views     int             `json:"views"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AnalyticsEvent struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
