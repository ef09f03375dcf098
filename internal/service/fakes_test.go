package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/drug-speak/internal/domain"
	"github.com/drug-speak/internal/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	records  map[string]domain.UserStudyRecord
	events   []domain.StudyRecordEvent
	lists    int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]domain.Account),
		records:  make(map[string]domain.UserStudyRecord),
	}
}

func (m *memStore) addUser(id, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = domain.Account{User: domain.User{ID: id, Username: username, Email: id + "@example.com", Gender: domain.GenderFemale}}
}

func (m *memStore) CreateUser(ctx context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == account.Email {
			return domain.ErrEmailTaken
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memStore) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memStore) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &a, nil
}

func (m *memStore) UpdateAccount(ctx context.Context, userID string, username, gender, passwordHash *string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if username != nil {
		a.Username = *username
	}
	if gender != nil {
		a.Gender = *gender
	}
	if passwordHash != nil {
		a.PasswordHash = *passwordHash
	}
	m.accounts[userID] = a
	return &a, nil
}

func (m *memStore) joined(userID string, s domain.StudyRecordSummary) (domain.UserStudyRecord, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return domain.UserStudyRecord{}, domain.ErrUserNotFound
	}
	info := a.Info()
	return domain.UserStudyRecord{
		UserID:           userID,
		CurrentLearning:  s.CurrentLearning,
		FinishedLearning: s.FinishedLearning,
		TotalScore:       s.TotalScore,
		User:             &info,
	}, nil
}

func (m *memStore) UpsertStudyRecord(ctx context.Context, userID string, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.joined(userID, summary)
	if err != nil {
		return nil, err
	}
	m.records[userID] = rec
	return &rec, nil
}

func (m *memStore) BatchUpsertStudyRecords(ctx context.Context, subs []domain.StudyRecordSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range subs {
		rec, err := m.joined(s.UserID, s.Summary)
		if err != nil {
			return err
		}
		m.records[s.UserID] = rec
	}
	return nil
}

func (m *memStore) RecordEvent(ctx context.Context, event domain.StudyRecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memStore) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := make([]domain.UserStudyRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

type memCache struct {
	mu          sync.Mutex
	records     map[string]domain.UserStudyRecord
	warm        bool
	invalidated int
}

func newMemCache() *memCache {
	return &memCache{records: make(map[string]domain.UserStudyRecord)}
}

func (c *memCache) SetRecord(ctx context.Context, rec domain.UserStudyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.UserID] = rec
	return nil
}

func (c *memCache) GetRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[userID]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return &rec, nil
}

func (c *memCache) ListRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.warm {
		return nil, redis.ErrCacheMiss
	}
	out := make([]domain.UserStudyRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out, nil
}

func (c *memCache) ReplaceAll(ctx context.Context, records []domain.UserStudyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.records)
	for _, r := range records {
		c.records[r.UserID] = r
	}
	c.warm = true
	return nil
}

func (c *memCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.records)
	c.warm = false
	c.invalidated++
	return nil
}

type recordingHub struct {
	mu      sync.Mutex
	boards  [][]domain.LeaderboardEntry
	records []domain.UserStudyRecord
}

func (h *recordingHub) BroadcastLeaderboard(entries []domain.LeaderboardEntry, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boards = append(h.boards, entries)
}

func (h *recordingHub) BroadcastRecord(record domain.UserStudyRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
}
