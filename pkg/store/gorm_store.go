package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"stupify/pkg/domain"
	"stupify/pkg/usage"
)

const migrateLockID int64 = 73217321

type GormStoreOptions struct {
	SlowThreshold time.Duration
	MaxOpenConns  int
}

type GormStoreOption func(*GormStoreOptions)

// WithSlowThreshold sets the duration above which queries are logged.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// WithMaxOpenConns caps the connection pool; Supabase poolers are small.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{SlowThreshold: time.Second}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProfileModel{},
			&UsageModel{},
			&StatsModel{},
			&CheckInModel{},
			&AchievementModel{},
			&CompanionModel{},
			&KnowledgeModel{},
			&ShareModel{},
			&AnalyticsEventModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

// GetProfile returns the profile of userID.
func (s *GormStore) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		return domain.Profile{}, translate(err)
	}
	return profileFromModel(model), nil
}

// EnsureProfile creates a free-tier profile on first sight of a user and
// keeps the stored email in sync.
func (s *GormStore) EnsureProfile(ctx context.Context, userID, email string) (domain.Profile, error) {
	email = strings.TrimSpace(email)
	model := profileToModel(newProfile(userID, email, time.Now().UTC()))
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return domain.Profile{}, translate(err)
	}
	var stored ProfileModel
	if err := db.First(&stored, "id = ?", userID).Error; err != nil {
		return domain.Profile{}, translate(err)
	}
	if email != "" && stored.Email != email {
		stored.Email = email
		stored.UpdatedAt = time.Now().UTC()
		if err := db.Model(&ProfileModel{}).Where("id = ?", userID).
			Updates(map[string]any{"email": email, "updated_at": stored.UpdatedAt}).Error; err != nil {
			return domain.Profile{}, err
		}
	}
	return profileFromModel(stored), nil
}

// SaveProfile registers or updates a profile.
func (s *GormStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	model := profileToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "tier", "preferred_level", "stripe_customer_id", "stripe_subscription_id",
			"subscription_status", "current_period_end", "updated_at",
		}),
	}).Create(&model).Error
}

// GetProfileByStripeCustomer looks a profile up by its Stripe customer id.
func (s *GormStore) GetProfileByStripeCustomer(ctx context.Context, customerID string) (domain.Profile, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Profile{}, ErrNotFound
	}
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "stripe_customer_id = ?", customerID).Error; err != nil {
		return domain.Profile{}, translate(err)
	}
	return profileFromModel(model), nil
}

// GetUsage returns the counters of userID; a user without questions gets
// a zero record.
func (s *GormStore) GetUsage(ctx context.Context, userID string) (domain.UsageRecord, error) {
	var model UsageModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UsageRecord{UserID: userID}, nil
		}
		return domain.UsageRecord{}, err
	}
	return usageFromModel(model), nil
}

// IncrementUsage counts one question in a single upsert. Counters whose
// stored period key differs from the current one restart at one.
func (s *GormStore) IncrementUsage(ctx context.Context, userID string, now time.Time) (domain.UsageRecord, error) {
	now = now.UTC()
	model := UsageModel{
		UserID:       userID,
		DailyCount:   1,
		DailyKey:     usage.DayKey(now),
		MonthlyCount: 1,
		MonthlyKey:   usage.MonthKey(now),
		TotalCount:   1,
		UpdatedAt:    now,
	}
	var out UsageModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"daily_count":   gorm.Expr("CASE WHEN usage_models.daily_key = excluded.daily_key THEN usage_models.daily_count + 1 ELSE 1 END"),
				"daily_key":     gorm.Expr("excluded.daily_key"),
				"monthly_count": gorm.Expr("CASE WHEN usage_models.monthly_key = excluded.monthly_key THEN usage_models.monthly_count + 1 ELSE 1 END"),
				"monthly_key":   gorm.Expr("excluded.monthly_key"),
				"total_count":   gorm.Expr("usage_models.total_count + 1"),
				"updated_at":    gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		return tx.First(&out, "user_id = ?", userID).Error
	})
	if err != nil {
		return domain.UsageRecord{}, fmt.Errorf("increment usage: %w", err)
	}
	return usageFromModel(out), nil
}

// ResetUsage clears the period counters, keeping the lifetime total.
func (s *GormStore) ResetUsage(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&UsageModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"daily_count":   0,
			"monthly_count": 0,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// GetStats returns gamification stats; new users start at level one.
func (s *GormStore) GetStats(ctx context.Context, userID string) (domain.Stats, error) {
	var model StatsModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyStats(userID), nil
		}
		return domain.Stats{}, err
	}
	return statsFromModel(model), nil
}

var statsUpsert = clause.OnConflict{
	Columns: []clause.Column{{Name: "user_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"xp", "level", "current_streak", "longest_streak", "last_active_day",
		"total_questions", "total_check_ins", "updated_at",
	}),
}

// SaveStats upserts gamification stats.
func (s *GormStore) SaveStats(ctx context.Context, stats domain.Stats) error {
	model := statsToModel(stats)
	return s.db.WithContext(ctx).Clauses(statsUpsert).Create(&model).Error
}

// RecordCheckIn inserts the daily check-in row and updates stats in one
// transaction, so a failed stats write also drops the check-in.
func (s *GormStore) RecordCheckIn(ctx context.Context, c domain.CheckIn, apply func(domain.Stats) domain.Stats) (domain.Stats, error) {
	var out domain.Stats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		checkIn := CheckInModel{UserID: c.UserID, Day: c.Day, CreatedAt: c.CreatedAt}
		if err := tx.Create(&checkIn).Error; err != nil {
			return translate(err)
		}
		stats := emptyStats(c.UserID)
		var current StatsModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "user_id = ?", c.UserID).Error
		switch {
		case err == nil:
			stats = statsFromModel(current)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		out = apply(stats)
		model := statsToModel(out)
		return tx.Clauses(statsUpsert).Create(&model).Error
	})
	if err != nil {
		return domain.Stats{}, err
	}
	return out, nil
}

// UnlockAchievement stores an unlock; repeats return ErrDuplicate.
func (s *GormStore) UnlockAchievement(ctx context.Context, u domain.AchievementUnlock) error {
	model := AchievementModel{UserID: u.UserID, AchievementID: u.AchievementID, UnlockedAt: u.UnlockedAt}
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// ListAchievements returns unlocks in unlock order.
func (s *GormStore) ListAchievements(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	var models []AchievementModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("unlocked_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AchievementUnlock, 0, len(models))
	for _, m := range models {
		out = append(out, domain.AchievementUnlock{UserID: m.UserID, AchievementID: m.AchievementID, UnlockedAt: m.UnlockedAt})
	}
	return out, nil
}

// GetCompanion returns the companion of userID.
func (s *GormStore) GetCompanion(ctx context.Context, userID string) (domain.Companion, error) {
	var model CompanionModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		return domain.Companion{}, translate(err)
	}
	return companionFromModel(model), nil
}

// SaveCompanion upserts a companion.
func (s *GormStore) SaveCompanion(ctx context.Context, c domain.Companion) error {
	model := companionToModel(c)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "archetype", "happiness", "energy", "knowledge", "xp", "level",
			"last_interaction_at", "updated_at",
		}),
	}).Create(&model).Error
}

// GetKnowledge returns one knowledge-graph entry.
func (s *GormStore) GetKnowledge(ctx context.Context, userID, topic string) (domain.KnowledgeEntry, error) {
	var model KnowledgeModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ? AND topic = ?", userID, topic).Error; err != nil {
		return domain.KnowledgeEntry{}, translate(err)
	}
	return knowledgeFromModel(model), nil
}

// SaveKnowledge upserts a knowledge-graph entry.
func (s *GormStore) SaveKnowledge(ctx context.Context, e domain.KnowledgeEntry) error {
	model := knowledgeToModel(e)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "topic"}},
		DoUpdates: clause.AssignmentColumns([]string{"questions_asked", "understanding", "confused_count", "last_asked_at"}),
	}).Create(&model).Error
}

// ListKnowledge returns entries by questions asked, then recency.
func (s *GormStore) ListKnowledge(ctx context.Context, userID string) ([]domain.KnowledgeEntry, error) {
	var models []KnowledgeModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("questions_asked DESC").
		Order("last_asked_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.KnowledgeEntry, 0, len(models))
	for _, m := range models {
		out = append(out, knowledgeFromModel(m))
	}
	return out, nil
}

// CreateShare stores a share; a slug collision returns ErrDuplicate.
func (s *GormStore) CreateShare(ctx context.Context, sh domain.Share) error {
	model := shareToModel(sh)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// GetShare returns a share by slug.
func (s *GormStore) GetShare(ctx context.Context, id string) (domain.Share, error) {
	var model ShareModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Share{}, translate(err)
	}
	return shareFromModel(model), nil
}

// IncrementShareViews bumps the view counter and returns the share.
func (s *GormStore) IncrementShareViews(ctx context.Context, id string) (domain.Share, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&ShareModel{}).Where("id = ?", id).Update("views", gorm.Expr("views + 1"))
	if res.Error != nil {
		return domain.Share{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Share{}, ErrNotFound
	}
	return s.GetShare(ctx, id)
}

// CountShares returns the number of shares created by userID.
func (s *GormStore) CountShares(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ShareModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// RecordEvent appends an analytics event.
func (s *GormStore) RecordEvent(ctx context.Context, e domain.AnalyticsEvent) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("encode event properties: %w", err)
	}
	model := AnalyticsEventModel{
		ID:         e.ID,
		UserID:     e.UserID,
		Name:       e.Name,
		Properties: props,
		CreatedAt:  e.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// DeleteUserData removes every row owned by userID in one transaction.
func (s *GormStore) DeleteUserData(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&UsageModel{}, &StatsModel{}, &CheckInModel{}, &AchievementModel{},
			&CompanionModel{}, &KnowledgeModel{}, &ShareModel{}, &AnalyticsEventModel{},
		} {
			if err := tx.Delete(model, "user_id = ?", userID).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&ProfileModel{}, "id = ?", userID).Error
	})
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:                   p.ID,
		Email:                p.Email,
		Tier:                 string(p.Tier),
		PreferredLevel:       string(p.PreferredLevel),
		StripeCustomerID:     p.StripeCustomerID,
		StripeSubscriptionID: p.StripeSubscriptionID,
		SubscriptionStatus:   string(p.SubscriptionStatus),
		CurrentPeriodEnd:     p.CurrentPeriodEnd,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	tier, ok := domain.ParseTier(m.Tier)
	if !ok {
		tier = domain.TierFree
	}
	level, ok := domain.ParseLevel(m.PreferredLevel)
	if !ok {
		level = domain.LevelNormal
	}
	return domain.Profile{
		ID:                   m.ID,
		Email:                m.Email,
		Tier:                 tier,
		PreferredLevel:       level,
		StripeCustomerID:     m.StripeCustomerID,
		StripeSubscriptionID: m.StripeSubscriptionID,
		SubscriptionStatus:   domain.SubscriptionStatus(m.SubscriptionStatus),
		CurrentPeriodEnd:     m.CurrentPeriodEnd,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func usageFromModel(m UsageModel) domain.UsageRecord {
	return domain.UsageRecord{
		UserID:       m.UserID,
		DailyCount:   m.DailyCount,
		DailyKey:     m.DailyKey,
		MonthlyCount: m.MonthlyCount,
		MonthlyKey:   m.MonthlyKey,
		TotalCount:   m.TotalCount,
		UpdatedAt:    m.UpdatedAt,
	}
}

func statsToModel(s domain.Stats) StatsModel {
	return StatsModel{
		UserID:         s.UserID,
		XP:             s.XP,
		Level:          s.Level,
		CurrentStreak:  s.CurrentStreak,
		LongestStreak:  s.LongestStreak,
		LastActiveDay:  s.LastActiveDay,
		TotalQuestions: s.TotalQuestions,
		TotalCheckIns:  s.TotalCheckIns,
		UpdatedAt:      s.UpdatedAt,
	}
}

func statsFromModel(m StatsModel) domain.Stats {
	return domain.Stats{
		UserID:         m.UserID,
		XP:             m.XP,
		Level:          max(1, m.Level),
		CurrentStreak:  m.CurrentStreak,
		LongestStreak:  m.LongestStreak,
		LastActiveDay:  m.LastActiveDay,
		TotalQuestions: m.TotalQuestions,
		TotalCheckIns:  m.TotalCheckIns,
		UpdatedAt:      m.UpdatedAt,
	}
}

func companionToModel(c domain.Companion) CompanionModel {
	return CompanionModel{
		UserID:            c.UserID,
		Name:              c.Name,
		Archetype:         string(c.Archetype),
		Happiness:         c.Happiness,
		Energy:            c.Energy,
		Knowledge:         c.Knowledge,
		XP:                c.XP,
		Level:             c.Level,
		LastInteractionAt: c.LastInteractionAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// companionFromModel leaves Stage empty; callers derive it from the level.
func companionFromModel(m CompanionModel) domain.Companion {
	archetype, ok := domain.ParseArchetype(m.Archetype)
	if !ok {
		archetype = domain.ArchetypeFriend
	}
	return domain.Companion{
		UserID:            m.UserID,
		Name:              m.Name,
		Archetype:         archetype,
		Happiness:         m.Happiness,
		Energy:            m.Energy,
		Knowledge:         m.Knowledge,
		XP:                m.XP,
		Level:             m.Level,
		LastInteractionAt: m.LastInteractionAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func knowledgeToModel(e domain.KnowledgeEntry) KnowledgeModel {
	return KnowledgeModel{
		UserID:         e.UserID,
		Topic:          e.Topic,
		QuestionsAsked: e.QuestionsAsked,
		Understanding:  e.Understanding,
		ConfusedCount:  e.ConfusedCount,
		LastAskedAt:    e.LastAskedAt,
		CreatedAt:      e.CreatedAt,
	}
}

func knowledgeFromModel(m KnowledgeModel) domain.KnowledgeEntry {
	return domain.KnowledgeEntry{
		UserID:         m.UserID,
		Topic:          m.Topic,
		QuestionsAsked: m.QuestionsAsked,
		Understanding:  m.Understanding,
		ConfusedCount:  m.ConfusedCount,
		LastAskedAt:    m.LastAskedAt,
		CreatedAt:      m.CreatedAt,
	}
}

func shareToModel(s domain.Share) ShareModel {
	return ShareModel{
		ID:        s.ID,
		UserID:    s.UserID,
		Question:  s.Question,
		Answer:    s.Answer,
		Level:     string(s.Level),
		Views:     s.Views,
		CreatedAt: s.CreatedAt,
	}
}

func shareFromModel(m ShareModel) domain.Share {
	return domain.Share{
		ID:        m.ID,
		UserID:    m.UserID,
		Question:  m.Question,
		Answer:    m.Answer,
		Level:     domain.SimplicityLevel(m.Level),
		Views:     m.Views,
		CreatedAt: m.CreatedAt,
	}
}
