// Package worker runs background maintenance for the study-record service.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 1000
)

// Source pages through the authoritative study records by user id
type Source interface {
	ListStudyRecordsAfter(ctx context.Context, afterUserID string, limit int) ([]domain.UserStudyRecord, error)
	CountStudyRecords(ctx context.Context) (int64, error)
}

// Cache is the staged-reload surface of the record cache
type Cache interface {
	ResetStaging(ctx context.Context) error
	StageRecords(ctx context.Context, records []domain.UserStudyRecord) error
	CommitStaged(ctx context.Context, staged int) error
	Count(ctx context.Context) (int64, error)
	ScoreBounds(ctx context.Context) (top, lowest int, err error)
}

// RefreshResult describes one completed reload
type RefreshResult struct {
	Records  int
	Cached   int64
	Top      int
	Lowest   int
	Duration time.Duration
}

// CacheRefresher periodically rebuilds the record cache from PostgreSQL so
// writes that bypassed the cache converge
type CacheRefresher struct {
	source Source
	cache  Cache
	config *config.CacheConfig
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
	// runMu serializes reloads between the ticker and RunOnce
	runMu   sync.Mutex
	running bool
}

// NewCacheRefresher creates a refresher. It does nothing until Start.
func NewCacheRefresher(source Source, cache Cache, cfg *config.CacheConfig, logger *slog.Logger) *CacheRefresher {
	return &CacheRefresher{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger.With("component", "cache_refresher"),
	}
}

func (w *CacheRefresher) interval() time.Duration {
	if w.config == nil || w.config.Interval <= 0 {
		return defaultInterval
	}
	return w.config.Interval
}

func (w *CacheRefresher) batchSize() int {
	if w.config == nil || w.config.BatchSize <= 0 {
		return defaultBatchSize
	}
	return w.config.BatchSize
}

// Start loads the cache once and then refreshes it on every tick
func (w *CacheRefresher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("cache refresher started", "interval", w.interval())

	go w.run(ctx)
	return nil
}

// Stop waits for the loop, including an in-progress reload, to exit
func (w *CacheRefresher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.logger.Info("cache refresher stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (w *CacheRefresher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *CacheRefresher) run(ctx context.Context) {
	defer close(w.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.refresh(ctx)

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *CacheRefresher) refresh(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("cache refresh failed", "error", err)
	}
}

// RunOnce rebuilds the cache from the source in pages of the configured
// batch size and swaps it in atomically
func (w *CacheRefresher) RunOnce(ctx context.Context) (*RefreshResult, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	start := time.Now()
	if err := w.cache.ResetStaging(ctx); err != nil {
		return nil, err
	}

	limit := w.batchSize()
	staged := 0
	after := ""
	for {
		page, err := w.source.ListStudyRecordsAfter(ctx, after, limit)
		if err != nil {
			return nil, fmt.Errorf("loading study records after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		if err := w.cache.StageRecords(ctx, page); err != nil {
			return nil, err
		}
		staged += len(page)
		after = page[len(page)-1].UserID
		if len(page) < limit {
			break
		}
	}

	if err := w.cache.CommitStaged(ctx, staged); err != nil {
		return nil, err
	}

	result := &RefreshResult{Records: staged, Duration: time.Since(start)}
	cached, err := w.cache.Count(ctx)
	if err != nil {
		w.logger.Warn("failed to count cached records", "error", err)
	}
	result.Cached = cached
	if result.Top, result.Lowest, err = w.cache.ScoreBounds(ctx); err != nil {
		w.logger.Warn("failed to read cached score bounds", "error", err)
	}

	w.logger.Info("cache refresh completed",
		"records", result.Records,
		"cached", result.Cached,
		"top_score", result.Top,
		"lowest_score", result.Lowest,
		"duration", result.Duration,
	)

	if total, err := w.source.CountStudyRecords(ctx); err == nil && total != int64(staged) {
		// writes landed while paging; the next tick picks them up
		w.logger.Debug("study records changed during refresh", "staged", staged, "total", total)
	}
	return result, nil
}
