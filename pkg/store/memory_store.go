package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"stupify/pkg/domain"
	"stupify/pkg/usage"
)

// MemoryStore implements Store in process memory (single instance, tests
// and local development).
type MemoryStore struct {
	mu           sync.Mutex
	profiles     map[string]domain.Profile
	usage        map[string]domain.UsageRecord
	stats        map[string]domain.Stats
	checkIns     map[string]domain.CheckIn
	achievements map[string][]domain.AchievementUnlock
	companions   map[string]domain.Companion
	knowledge    map[string]map[string]domain.KnowledgeEntry
	shares       map[string]domain.Share
	events       []domain.AnalyticsEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]domain.Profile),
		usage:        make(map[string]domain.UsageRecord),
		stats:        make(map[string]domain.Stats),
		checkIns:     make(map[string]domain.CheckIn),
		achievements: make(map[string][]domain.AchievementUnlock),
		companions:   make(map[string]domain.Companion),
		knowledge:    make(map[string]map[string]domain.KnowledgeEntry),
		shares:       make(map[string]domain.Share),
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) EnsureProfile(_ context.Context, userID, email string) (domain.Profile, error) {
	email = strings.TrimSpace(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = newProfile(userID, email, time.Now().UTC())
	} else if email != "" && p.Email != email {
		p.Email = email
		p.UpdatedAt = time.Now().UTC()
	}
	m.profiles[userID] = p
	return p, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	m.profiles[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProfileByStripeCustomer(_ context.Context, customerID string) (domain.Profile, error) {
	customerID = strings.TrimSpace(customerID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if customerID == "" {
		return domain.Profile{}, ErrNotFound
	}
	for _, p := range m.profiles {
		if p.StripeCustomerID == customerID {
			return p, nil
		}
	}
	return domain.Profile{}, ErrNotFound
}

func (m *MemoryStore) GetUsage(_ context.Context, userID string) (domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[userID]
	if !ok {
		return domain.UsageRecord{UserID: userID}, nil
	}
	return rec, nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, userID string, now time.Time) (domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.usage[userID]
	rec.UserID = userID
	rec = usage.Apply(rec, now)
	m.usage[userID] = rec
	return rec, nil
}

func (m *MemoryStore) ResetUsage(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[userID]
	if !ok {
		return nil
	}
	rec.DailyCount = 0
	rec.MonthlyCount = 0
	rec.UpdatedAt = time.Now().UTC()
	m.usage[userID] = rec
	return nil
}

func (m *MemoryStore) GetStats(_ context.Context, userID string) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return emptyStats(userID), nil
	}
	return s, nil
}

func (m *MemoryStore) SaveStats(_ context.Context, stats domain.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stats.UserID] = stats
	return nil
}

func (m *MemoryStore) RecordCheckIn(_ context.Context, c domain.CheckIn, apply func(domain.Stats) domain.Stats) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.UserID + "|" + c.Day
	if _, ok := m.checkIns[key]; ok {
		return domain.Stats{}, ErrDuplicate
	}
	stats, ok := m.stats[c.UserID]
	if !ok {
		stats = emptyStats(c.UserID)
	}
	stats = apply(stats)
	m.checkIns[key] = c
	m.stats[c.UserID] = stats
	return stats, nil
}

func (m *MemoryStore) UnlockAchievement(_ context.Context, u domain.AchievementUnlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.achievements[u.UserID] {
		if existing.AchievementID == u.AchievementID {
			return ErrDuplicate
		}
	}
	m.achievements[u.UserID] = append(m.achievements[u.UserID], u)
	return nil
}

func (m *MemoryStore) ListAchievements(_ context.Context, userID string) ([]domain.AchievementUnlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.AchievementUnlock(nil), m.achievements[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

func (m *MemoryStore) GetCompanion(_ context.Context, userID string) (domain.Companion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companions[userID]
	if !ok {
		return domain.Companion{}, ErrNotFound
	}
	c.Stage = ""
	return c, nil
}

func (m *MemoryStore) SaveCompanion(_ context.Context, c domain.Companion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.companions[c.UserID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.companions[c.UserID] = c
	return nil
}

func (m *MemoryStore) GetKnowledge(_ context.Context, userID, topic string) (domain.KnowledgeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.knowledge[userID][topic]
	if !ok {
		return domain.KnowledgeEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) SaveKnowledge(_ context.Context, e domain.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics, ok := m.knowledge[e.UserID]
	if !ok {
		topics = make(map[string]domain.KnowledgeEntry)
		m.knowledge[e.UserID] = topics
	}
	if existing, ok := topics[e.Topic]; ok {
		e.CreatedAt = existing.CreatedAt
	}
	topics[e.Topic] = e
	return nil
}

func (m *MemoryStore) ListKnowledge(_ context.Context, userID string) ([]domain.KnowledgeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.KnowledgeEntry, 0, len(m.knowledge[userID]))
	for _, e := range m.knowledge[userID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionsAsked != out[j].QuestionsAsked {
			return out[i].QuestionsAsked > out[j].QuestionsAsked
		}
		if !out[i].LastAskedAt.Equal(out[j].LastAskedAt) {
			return out[i].LastAskedAt.After(out[j].LastAskedAt)
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

func (m *MemoryStore) CreateShare(_ context.Context, s domain.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[s.ID]; ok {
		return ErrDuplicate
	}
	m.shares[s.ID] = s
	return nil
}

func (m *MemoryStore) GetShare(_ context.Context, id string) (domain.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return domain.Share{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) IncrementShareViews(_ context.Context, id string) (domain.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[id]
	if !ok {
		return domain.Share{}, ErrNotFound
	}
	s.Views++
	m.shares[id] = s
	return s, nil
}

func (m *MemoryStore) CountShares(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.shares {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RecordEvent(_ context.Context, e domain.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns recorded analytics events, optionally filtered by name.
func (m *MemoryStore) Events(name string) []domain.AnalyticsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AnalyticsEvent
	for _, e := range m.events {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) DeleteUserData(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, userID)
	delete(m.usage, userID)
	delete(m.stats, userID)
	delete(m.achievements, userID)
	delete(m.companions, userID)
	delete(m.knowledge, userID)
	for key, c := range m.checkIns {
		if c.UserID == userID {
			delete(m.checkIns, key)
		}
	}
	for id, s := range m.shares {
		if s.UserID == userID {
			delete(m.shares, id)
		}
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}
