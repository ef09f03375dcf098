// Package learner holds the signed-in learner's client-side state: who is
// signed in, their local learning progress, and the last fetched study
// records. Progress mutations schedule a debounced sync; finishing a drug
// forces one.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
	"github.com/drug-speak/internal/progress"
	"github.com/drug-speak/internal/syncer"
)

// Backend is the remote study-record service
type Backend interface {
	SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error)
	SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error)
	SignOut() error
	RestoreSession() bool
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error)
	UpdateStudyRecord(ctx context.Context, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error)
	ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error)
	GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error)
}

// Learner is one client session
type Learner struct {
	backend Backend
	store   *progress.Store
	coord   *syncer.Coordinator
	logger  *slog.Logger

	mu          sync.RWMutex
	user        *domain.User
	myRecord    *domain.UserStudyRecord
	leaderboard []domain.UserStudyRecord
}

// New creates a learner session backed by backend
func New(backend Backend, cfg *config.SyncConfig, logger *slog.Logger) *Learner {
	l := &Learner{
		backend: backend,
		store:   progress.NewStore(),
		logger:  logger,
	}
	l.coord = syncer.NewCoordinator(l.store.Summary, l, backend, cfg, logger)
	l.coord.SetOnPushed(l.setMyRecord)
	return l
}

// Close stops the sync coordinator
func (l *Learner) Close() {
	l.coord.Close()
}

// Progress exposes the local progress store for read access
func (l *Learner) Progress() *progress.Store {
	return l.store
}

// UserID implements syncer.AuthState
func (l *Learner) UserID() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.user == nil {
		return "", false
	}
	return l.user.ID, true
}

// User returns the signed-in user, or nil
func (l *Learner) User() *domain.User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.user == nil {
		return nil
	}
	u := *l.user
	return &u
}

// SignUp creates an account and signs in
func (l *Learner) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp, err := l.backend.SignUp(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("signing up: %w", err)
	}
	l.setUser(&resp.User)
	l.logger.Info("signed up", "user_id", resp.User.ID)
	return &resp.User, nil
}

// SignIn authenticates an existing account
func (l *Learner) SignIn(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, domain.ErrInvalidRequest
	}
	resp, err := l.backend.SignIn(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	l.setUser(&resp.User)
	l.logger.Info("signed in", "user_id", resp.User.ID)
	return &resp.User, nil
}

// Restore resumes a previous session when the backend still holds a token.
// It reports whether the session was restored.
func (l *Learner) Restore(user domain.User) bool {
	if !l.backend.RestoreSession() {
		return false
	}
	l.setUser(&user)
	return true
}

// SignOut cancels any pending sync and discards all local state
func (l *Learner) SignOut() error {
	l.coord.Cancel()

	l.mu.Lock()
	userID := ""
	if l.user != nil {
		userID = l.user.ID
	}
	l.user = nil
	l.myRecord = nil
	l.leaderboard = nil
	l.mu.Unlock()

	l.store.ClearAll()

	if err := l.backend.SignOut(); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	l.logger.Info("signed out", "user_id", userID)
	return nil
}

// UpdateProfile changes the signed-in user's profile
func (l *Learner) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error) {
	if _, ok := l.UserID(); !ok {
		return nil, domain.ErrUnauthorized
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	user, err := l.backend.UpdateProfile(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	l.setUser(user)
	return user, nil
}

// StartLearning adds a drug to the current list
func (l *Learner) StartLearning(id domain.DrugID) {
	l.store.AddToCurrent(id)
	l.coord.Schedule()
}

// StopLearning removes a drug from the current list
func (l *Learner) StopLearning(id domain.DrugID) {
	l.store.RemoveFromCurrent(id)
	l.coord.Schedule()
}

// Relearn moves a drug back to the current list
func (l *Learner) Relearn(id domain.DrugID) {
	l.store.MoveToCurrent(id)
	l.coord.Schedule()
}

// RemoveFinished drops a drug from the finished list
func (l *Learner) RemoveFinished(id domain.DrugID) {
	l.store.RemoveFromFinished(id)
	l.coord.Schedule()
}

// RecordPractice stores a practice score and reports whether it was a new
// best. Only a new best schedules a sync.
func (l *Learner) RecordPractice(id domain.DrugID, score int) bool {
	if !l.store.RecordScore(id, score) {
		return false
	}
	l.coord.Schedule()
	return true
}

// Finish marks a drug finished and syncs immediately. The local change stays
// committed when the sync fails.
func (l *Learner) Finish(ctx context.Context, id domain.DrugID) (*domain.UserStudyRecord, error) {
	l.store.MoveToFinished(id)
	record, err := l.coord.ForceNow(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Sync pushes the current summary immediately
func (l *Learner) Sync(ctx context.Context) (*domain.UserStudyRecord, error) {
	return l.coord.ForceNow(ctx)
}

// Hydrate replaces local progress with a server-confirmed snapshot
func (l *Learner) Hydrate(snapshot domain.LearningSnapshot) {
	l.store.ReplaceFromRemote(snapshot.Current, snapshot.Finished, snapshot.Scores)
}

// RefreshLeaderboard fetches every study record and replaces the cached,
// ranked leaderboard
func (l *Learner) RefreshLeaderboard(ctx context.Context) ([]domain.UserStudyRecord, error) {
	records, err := l.backend.ListStudyRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching study records: %w", err)
	}
	ranked := domain.RankRecords(records)

	l.mu.Lock()
	l.leaderboard = ranked
	l.mu.Unlock()

	return ranked, nil
}

// LoadMyRecord fetches the signed-in user's study record
func (l *Learner) LoadMyRecord(ctx context.Context) (*domain.UserStudyRecord, error) {
	userID, ok := l.UserID()
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	record, err := l.backend.GetStudyRecord(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching study record: %w", err)
	}
	l.setMyRecord(record)
	return record, nil
}

// MyRecord returns the last known study record of the signed-in user
func (l *Learner) MyRecord() *domain.UserStudyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.myRecord == nil {
		return nil
	}
	r := *l.myRecord
	return &r
}

// Leaderboard returns the cached ranked leaderboard
func (l *Learner) Leaderboard() []domain.UserStudyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.UserStudyRecord, len(l.leaderboard))
	copy(out, l.leaderboard)
	return out
}

// MyRank returns the signed-in user's 1-based position in the cached
// leaderboard
func (l *Learner) MyRank() (int, bool) {
	userID, ok := l.UserID()
	if !ok {
		return 0, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.RankOf(l.leaderboard, userID)
}

func (l *Learner) setUser(user *domain.User) {
	u := *user
	l.mu.Lock()
	l.user = &u
	l.mu.Unlock()
}

// setMyRecord ignores records that arrive after sign-out
func (l *Learner) setMyRecord(record *domain.UserStudyRecord) {
	r := *record
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.user == nil {
		return
	}
	l.myRecord = &r
}
