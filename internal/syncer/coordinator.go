// Package syncer mirrors local learning progress to the study-record service.
//
// Mutations call Schedule, which collapses bursts into a single write after a
// quiet period. Callers that must know the write landed use ForceNow instead.
// Writes are serialized, so a forced write is never followed by an older
// debounced one.
package syncer

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
	defaultQuietPeriod = 2 * time.Second
	defaultPushTimeout = 10 * time.Second
)

// SnapshotFunc returns the summary to push, computed from live state
type SnapshotFunc func() domain.StudyRecordSummary

// AuthState reports the signed-in user
type AuthState interface {
	UserID() (string, bool)
}

// Pusher writes a study-record summary for the signed-in user
type Pusher interface {
	UpdateStudyRecord(ctx context.Context, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error)
}

// Coordinator owns the single debounce timer of a sync channel
type Coordinator struct {
	snapshot SnapshotFunc
	auth     AuthState
	pusher   Pusher
	quiet    time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	// epoch changes only on Cancel and Close, so a queued forced write can
	// tell a session reset from a newer schedule
	epoch  uint64
	abort  context.CancelFunc
	closed bool

	// pushMu keeps at most one write in flight
	pushMu sync.Mutex

	hookMu   sync.RWMutex
	onPushed func(*domain.UserStudyRecord)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. Zero durations in cfg fall back to
// the defaults.
func NewCoordinator(
	snapshot SnapshotFunc,
	auth AuthState,
	pusher Pusher,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *Coordinator {
	quiet, timeout := defaultQuietPeriod, defaultPushTimeout
	if cfg != nil {
		if cfg.QuietPeriod > 0 {
			quiet = cfg.QuietPeriod
		}
		if cfg.PushTimeout > 0 {
			timeout = cfg.PushTimeout
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		snapshot: snapshot,
		auth:     auth,
		pusher:   pusher,
		quiet:    quiet,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnPushed registers a callback that receives the persisted record after
// every successful write
func (c *Coordinator) SetOnPushed(fn func(*domain.UserStudyRecord)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onPushed = fn
}

// Schedule cancels any pending timer and arms a new one for the quiet period
func (c *Coordinator) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.disarmLocked()

	gen := c.gen
	c.timer = time.AfterFunc(c.quiet, func() { c.fire(gen) })
}

// Cancel disarms the pending timer, aborts an in-flight debounced write and
// waits for any write in progress to return. No write starts after Cancel
// returns unless it is scheduled or forced again.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.disarmLocked()
	c.epoch++
	abort := c.abort
	c.mu.Unlock()

	if abort != nil {
		abort()
	}
	c.pushMu.Lock()
	c.pushMu.Unlock()
}

// Pending reports whether a debounced write is armed
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// disarmLocked stops the timer and invalidates a callback that already
// started. Must be called with mu held.
func (c *Coordinator) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// ForceNow cancels any pending timer and writes immediately. It returns
// (nil, nil) when nobody is signed in. Write failures are returned.
func (c *Coordinator) ForceNow(ctx context.Context) (*domain.UserStudyRecord, error) {
	c.mu.Lock()
	c.disarmLocked()
	epoch := c.epoch
	c.mu.Unlock()

	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	userID, ok := c.auth.UserID()
	if !ok {
		c.logger.Debug("skipping forced study record sync, not signed in")
		return nil, nil
	}

	c.mu.Lock()
	if epoch != c.epoch || c.closed {
		c.mu.Unlock()
		c.logger.Debug("dropping forced study record sync, session reset", "user_id", userID)
		return nil, nil
	}
	summary := c.snapshot()
	c.mu.Unlock()

	record, err := c.pusher.UpdateStudyRecord(ctx, summary)
	if err != nil {
		c.logger.Error("failed to force sync study record",
			"user_id", userID,
			"error", err,
		)
		return nil, fmt.Errorf("force syncing study record: %w", err)
	}

	c.logger.Info("study record force synced",
		"user_id", userID,
		"current_learning", summary.CurrentLearning,
		"finished_learning", summary.FinishedLearning,
		"total_score", summary.TotalScore,
	)
	c.notify(record)
	return record, nil
}

// fire runs when the debounce timer of generation gen expires
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	userID, ok := c.auth.UserID()
	if !ok {
		c.logger.Debug("dropping study record sync, not signed in")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	// the snapshot is taken under mu so a Cancel either lands first and
	// drops this write, or waits on pushMu until it returns
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	summary := c.snapshot()
	c.abort = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.abort = nil
		c.mu.Unlock()
	}()

	record, err := c.pusher.UpdateStudyRecord(ctx, summary)
	if err != nil {
		c.logger.Error("failed to sync study record",
			"user_id", userID,
			"error", err,
		)
		return
	}

	c.logger.Debug("study record synced",
		"user_id", userID,
		"current_learning", summary.CurrentLearning,
		"finished_learning", summary.FinishedLearning,
		"total_score", summary.TotalScore,
	)
	c.notify(record)
}

func (c *Coordinator) notify(record *domain.UserStudyRecord) {
	c.hookMu.RLock()
	fn := c.onPushed
	c.hookMu.RUnlock()
	if fn != nil && record != nil {
		fn(record)
	}
}

// Close cancels the pending timer, aborts an in-flight debounced write and
// waits for it to return. Schedule is a no-op afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.disarmLocked()
	c.epoch++
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
