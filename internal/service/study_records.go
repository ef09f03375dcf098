package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
	"github.com/drug-speak/internal/redis"
)

// RecordStore is the system of record for study records
type RecordStore interface {
	UpsertStudyRecord(ctx context.Context, userID string, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error)
	BatchUpsertStudyRecords(ctx context.Context, submissions []domain.StudyRecordSubmission) error
	RecordEvent(ctx context.Context, event domain.StudyRecordEvent) error
	GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error)
	ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error)
}

// RecordCache is a read cache in front of the RecordStore
type RecordCache interface {
	SetRecord(ctx context.Context, rec domain.UserStudyRecord) error
	GetRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error)
	ListRecords(ctx context.Context) ([]domain.UserStudyRecord, error)
	ReplaceAll(ctx context.Context, records []domain.UserStudyRecord) error
	Invalidate(ctx context.Context) error
}

// Broadcaster pushes updates to live subscribers
type Broadcaster interface {
	BroadcastLeaderboard(entries []domain.LeaderboardEntry, totalLearners int)
	BroadcastRecord(record domain.UserStudyRecord)
}

// StudyRecordService provides business logic for study records and the
// leaderboard built from them
type StudyRecordService struct {
	store  RecordStore
	cache  RecordCache
	hub    Broadcaster
	config *config.LeaderboardConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewStudyRecordService creates a new study-record service. cache and hub
// may be nil.
func NewStudyRecordService(
	store RecordStore,
	cache RecordCache,
	hub Broadcaster,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *StudyRecordService {
	return &StudyRecordService{
		store:  store,
		cache:  cache,
		hub:    hub,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SubmitStudyRecord replaces a user's study record
func (s *StudyRecordService) SubmitStudyRecord(ctx context.Context, userID string, summary domain.StudyRecordSummary, source string) (*domain.UserStudyRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if err := summary.Validate(); err != nil {
		return nil, err
	}

	record, err := s.store.UpsertStudyRecord(ctx, userID, summary)
	if err != nil {
		return nil, fmt.Errorf("storing study record: %w", err)
	}

	s.recordEvent(ctx, userID, summary, source)

	if s.cache != nil {
		if err := s.cache.SetRecord(ctx, *record); err != nil {
			s.logger.Warn("failed to cache study record", "user_id", userID, "error", err)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastRecord(*record)
		s.broadcastLeaderboard(ctx)
	}

	return record, nil
}

// SubmitStudyRecordBatch stores many updates at once. Invalid submissions are
// logged and skipped; the number stored is returned.
func (s *StudyRecordService) SubmitStudyRecordBatch(ctx context.Context, submissions []domain.StudyRecordSubmission) (int, error) {
	valid := make([]domain.StudyRecordSubmission, 0, len(submissions))
	for _, sub := range submissions {
		if sub.UserID == "" {
			s.logger.Warn("skipping study record without user id")
			continue
		}
		if err := sub.Summary.Validate(); err != nil {
			s.logger.Warn("skipping invalid study record", "user_id", sub.UserID, "error", err)
			continue
		}
		valid = append(valid, sub)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	if err := s.store.BatchUpsertStudyRecords(ctx, valid); err != nil {
		return 0, fmt.Errorf("storing study record batch: %w", err)
	}

	for _, sub := range valid {
		s.recordEvent(ctx, sub.UserID, sub.Summary, sub.Source)
	}

	// the batch path does not return joined records, so drop the cache and
	// let the next read re-warm it
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate study record cache", "error", err)
		}
	}

	if s.hub != nil {
		s.broadcastLeaderboard(ctx)
	}

	return len(valid), nil
}

func (s *StudyRecordService) recordEvent(ctx context.Context, userID string, summary domain.StudyRecordSummary, source string) {
	if source == "" {
		source = domain.SourceAPI
	}
	event := domain.StudyRecordEvent{
		UserID:           userID,
		CurrentLearning:  summary.CurrentLearning,
		FinishedLearning: summary.FinishedLearning,
		TotalScore:       summary.TotalScore,
		Source:           source,
		Timestamp:        s.now(),
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record study record event", "user_id", userID, "error", err)
	}
}

// GetStudyRecord returns one user's study record
func (s *StudyRecordService) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}

	if s.cache != nil {
		record, err := s.cache.GetRecord(ctx, userID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("failed to read cached study record", "user_id", userID, "error", err)
		}
	}

	record, err := s.store.GetStudyRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRecord(ctx, *record); err != nil {
			s.logger.Warn("failed to cache study record", "user_id", userID, "error", err)
		}
	}
	return record, nil
}

// ListStudyRecords returns every study record in no particular order
func (s *StudyRecordService) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	if s.cache != nil {
		records, err := s.cache.ListRecords(ctx)
		if err == nil {
			return records, nil
		}
		if errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Debug("study record cache cold, reading database")
		} else {
			s.logger.Warn("failed to list cached study records", "error", err)
		}
	}

	records, err := s.store.ListStudyRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing study records: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.ReplaceAll(ctx, records); err != nil {
			s.logger.Warn("failed to warm study record cache", "error", err)
		}
	}
	return records, nil
}

// Leaderboard returns the top ranked study records
func (s *StudyRecordService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	records, err := s.ListStudyRecords(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Entries(domain.RankRecords(records), s.clampLimit(limit)), nil
}

// Rank returns a user's ranked leaderboard entry
func (s *StudyRecordService) Rank(ctx context.Context, userID string) (*domain.LeaderboardEntry, error) {
	records, err := s.ListStudyRecords(ctx)
	if err != nil {
		return nil, err
	}
	ranked := domain.RankRecords(records)
	rank, ok := domain.RankOf(ranked, userID)
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &domain.LeaderboardEntry{Rank: rank, Record: ranked[rank-1]}, nil
}

// Stats returns aggregate leaderboard numbers
func (s *StudyRecordService) Stats(ctx context.Context) (*domain.LeaderboardStats, error) {
	records, err := s.ListStudyRecords(ctx)
	if err != nil {
		return nil, err
	}
	stats := domain.Stats(domain.RankRecords(records))
	return &stats, nil
}

func (s *StudyRecordService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return limit
}

func (s *StudyRecordService) broadcastLeaderboard(ctx context.Context) {
	records, err := s.ListStudyRecords(ctx)
	if err != nil {
		s.logger.Warn("failed to build leaderboard broadcast", "error", err)
		return
	}
	ranked := domain.RankRecords(records)
	s.hub.BroadcastLeaderboard(domain.Entries(ranked, s.config.BroadcastSize), len(ranked))
}
