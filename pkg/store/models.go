package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID                   string `gorm:"primaryKey"`
	Email                string `gorm:"index"`
	Tier                 string `gorm:"not null;default:free"`
	PreferredLevel       string `gorm:"not null;default:normal"`
	StripeCustomerID     string `gorm:"index"`
	StripeSubscriptionID string
	SubscriptionStatus   string
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

type UsageModel struct {
	UserID       string `gorm:"primaryKey"`
	DailyCount   int    `gorm:"not null"`
	DailyKey     string `gorm:"not null"`
	MonthlyCount int    `gorm:"not null"`
	MonthlyKey   string `gorm:"not null"`
	TotalCount   int    `gorm:"not null"`
	UpdatedAt    time.Time
}

type StatsModel struct {
	UserID         string `gorm:"primaryKey"`
	XP             int    `gorm:"not null"`
	Level          int    `gorm:"not null;default:1"`
	CurrentStreak  int    `gorm:"not null"`
	LongestStreak  int    `gorm:"not null"`
	LastActiveDay  string
	TotalQuestions int `gorm:"not null"`
	TotalCheckIns  int `gorm:"not null"`
	UpdatedAt      time.Time
}

type CheckInModel struct {
	UserID    string    `gorm:"primaryKey"`
	Day       string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

type AchievementModel struct {
	UserID        string    `gorm:"primaryKey"`
	AchievementID string    `gorm:"primaryKey"`
	UnlockedAt    time.Time `gorm:"not null"`
}

type CompanionModel struct {
	UserID            string `gorm:"primaryKey"`
	Name              string `gorm:"not null"`
	Archetype         string `gorm:"not null"`
	Happiness         int    `gorm:"not null"`
	Energy            int    `gorm:"not null"`
	Knowledge         int    `gorm:"not null"`
	XP                int    `gorm:"not null"`
	Level             int    `gorm:"not null"`
	LastInteractionAt time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type KnowledgeModel struct {
	UserID         string    `gorm:"primaryKey"`
	Topic          string    `gorm:"primaryKey"`
	QuestionsAsked int       `gorm:"not null"`
	Understanding  int       `gorm:"not null"`
	ConfusedCount  int       `gorm:"not null"`
	LastAskedAt    time.Time `gorm:"index"`
	CreatedAt      time.Time `gorm:"not null"`
}

type ShareModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Question  string    `gorm:"type:text;not null"`
	Answer    string    `gorm:"type:text;not null"`
	Level     string    `gorm:"not null"`
	Views     int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type AnalyticsEventModel struct {
	ID         string         `gorm:"primaryKey"`
	UserID     string         `gorm:"not null;index"`
	Name       string         `gorm:"not null;index"`
	Properties datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
