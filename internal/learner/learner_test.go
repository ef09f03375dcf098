package learner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	token   string
	pushes  []domain.StudyRecordSummary
	pushed  chan struct{}
	pushErr error
	delay   time.Duration
	records []domain.UserStudyRecord
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pushed: make(chan struct{}, 16)}
}

func (b *fakeBackend) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = "tok"
	return &domain.AuthResponse{User: domain.User{ID: "u-" + req.Username, Username: req.Username}, Token: "tok"}, nil
}

func (b *fakeBackend) SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	if creds.Password != "pw" {
		return nil, domain.ErrInvalidCredentials
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = "tok"
	return &domain.AuthResponse{User: domain.User{ID: "u1", Username: "alice"}, Token: "tok"}, nil
}

func (b *fakeBackend) SignOut() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = ""
	return nil
}

func (b *fakeBackend) RestoreSession() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token != ""
}

func (b *fakeBackend) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error) {
	u := domain.User{ID: "u1", Username: "alice"}
	if update.Username != nil {
		u.Username = *update.Username
	}
	return &u, nil
}

func (b *fakeBackend) UpdateStudyRecord(ctx context.Context, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error) {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	b.mu.Lock()
	b.pushes = append(b.pushes, summary)
	err := b.pushErr
	b.mu.Unlock()
	b.pushed <- struct{}{}
	if err != nil {
		return nil, err
	}
	return &domain.UserStudyRecord{
		UserID:           "u1",
		CurrentLearning:  summary.CurrentLearning,
		FinishedLearning: summary.FinishedLearning,
		TotalScore:       summary.TotalScore,
	}, nil
}

func (b *fakeBackend) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records, nil
}

func (b *fakeBackend) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.records {
		if r.UserID == userID {
			return &r, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (b *fakeBackend) pushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pushes)
}

func (b *fakeBackend) lastPush() domain.StudyRecordSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes[len(b.pushes)-1]
}

const quiet = 30 * time.Millisecond

func newTestLearner(t *testing.T) (*Learner, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	l := New(b, &config.SyncConfig{QuietPeriod: quiet, PushTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(l.Close)
	return l, b
}

func signIn(t *testing.T, l *Learner) {
	t.Helper()
	if _, err := l.SignIn(context.Background(), domain.Credentials{Email: "a@b.c", Password: "pw"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
}

func waitPushed(t *testing.T, b *fakeBackend) {
	t.Helper()
	select {
	case <-b.pushed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for push")
	}
}

func TestMutationsCoalesceIntoOneSync(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)

	l.StartLearning("d1")
	l.StartLearning("d2")
	l.RecordPractice("d1", 80)
	l.StopLearning("d2")

	waitPushed(t, b)
	time.Sleep(3 * quiet)

	if n := b.pushCount(); n != 1 {
		t.Fatalf("push count: want=1 got=%d", n)
	}
	want := domain.StudyRecordSummary{CurrentLearning: 1, FinishedLearning: 0, TotalScore: 80}
	if got := b.lastPush(); got != want {
		t.Fatalf("pushed summary: want=%+v got=%+v", want, got)
	}
	if r := l.MyRecord(); r == nil || r.TotalScore != 80 {
		t.Fatalf("MyRecord after push: got=%+v", r)
	}
}

func TestRecordPracticeOnlyNewBestSchedules(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)

	if !l.RecordPractice("d1", 60) {
		t.Fatalf("RecordPractice(60): want new best")
	}
	waitPushed(t, b)

	if l.RecordPractice("d1", 40) {
		t.Fatalf("RecordPractice(40): want no new best")
	}
	time.Sleep(3 * quiet)
	if n := b.pushCount(); n != 1 {
		t.Fatalf("push count: want=1 got=%d", n)
	}
	if got := l.Progress().Score("d1"); got != 60 {
		t.Fatalf("Score: want=60 got=%d", got)
	}
}

func TestFinishForcesSync(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)
	l.StartLearning("d1")

	record, err := l.Finish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if record.FinishedLearning != 1 || record.CurrentLearning != 0 {
		t.Fatalf("record: got=%+v", record)
	}
	<-b.pushed

	time.Sleep(3 * quiet)
	if n := b.pushCount(); n != 1 {
		t.Fatalf("push count: want=1 (pending timer cancelled) got=%d", n)
	}
}

func TestFinishKeepsLocalChangeOnFailure(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)
	b.pushErr = errors.New("offline")
	l.Progress().AddToCurrent("d1")

	if _, err := l.Finish(context.Background(), "d1"); err == nil {
		t.Fatalf("Finish: expected error")
	}
	if !l.Progress().IsFinished("d1") {
		t.Fatalf("d1: want Finished after failed sync")
	}
}

func TestSignedOutMutationsDoNotSync(t *testing.T) {
	l, b := newTestLearner(t)

	l.StartLearning("d1")
	time.Sleep(3 * quiet)
	if n := b.pushCount(); n != 0 {
		t.Fatalf("push count: want=0 got=%d", n)
	}

	record, err := l.Finish(context.Background(), "d1")
	if err != nil || record != nil {
		t.Fatalf("Finish signed out: want=(nil, nil) got=(%v, %v)", record, err)
	}
}

func TestSignOutClearsState(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)
	l.StartLearning("d1")
	l.RecordPractice("d1", 10)

	if err := l.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	time.Sleep(3 * quiet)

	if n := b.pushCount(); n != 0 {
		t.Fatalf("push count after sign-out: want=0 got=%d", n)
	}
	if l.Progress().CurrentCount() != 0 || l.Progress().TotalScore() != 0 {
		t.Fatalf("progress not cleared: %+v", l.Progress().Summary())
	}
	if _, ok := l.UserID(); ok {
		t.Fatalf("UserID after sign-out: want signed out")
	}
	if b.RestoreSession() {
		t.Fatalf("token not dropped")
	}
}

func TestSignOutDuringInFlightSync(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)
	b.mu.Lock()
	b.delay = 3 * quiet
	b.mu.Unlock()

	l.StartLearning("d1")
	l.RecordPractice("d1", 40)
	// let the debounced write start
	time.Sleep(quiet + quiet/2)

	if err := l.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if n := b.pushCount(); n != 1 {
		t.Fatalf("push count when SignOut returned: want=1 got=%d", n)
	}
	want := domain.StudyRecordSummary{CurrentLearning: 1, TotalScore: 40}
	if got := b.lastPush(); got != want {
		t.Fatalf("pushed summary: want=%+v got=%+v", want, got)
	}

	time.Sleep(3 * quiet)
	if n := b.pushCount(); n != 1 {
		t.Fatalf("push count after sign-out: want=1 got=%d", n)
	}
	if r := l.MyRecord(); r != nil {
		t.Fatalf("MyRecord after sign-out: want=nil got=%+v", r)
	}
}

func TestRefreshLeaderboardAndRank(t *testing.T) {
	l, b := newTestLearner(t)
	signIn(t, l)
	b.records = []domain.UserStudyRecord{
		{UserID: "u2", TotalScore: 100, FinishedLearning: 3, User: &domain.UserInfo{Username: "bob"}},
		{UserID: "u1", TotalScore: 100, FinishedLearning: 3, User: &domain.UserInfo{Username: "alice"}},
		{UserID: "u3", TotalScore: 150, User: &domain.UserInfo{Username: "carol"}},
	}

	ranked, err := l.RefreshLeaderboard(context.Background())
	if err != nil {
		t.Fatalf("RefreshLeaderboard: %v", err)
	}
	order := []string{ranked[0].UserID, ranked[1].UserID, ranked[2].UserID}
	if order[0] != "u3" || order[1] != "u1" || order[2] != "u2" {
		t.Fatalf("order: want=[u3 u1 u2] got=%v", order)
	}
	if rank, ok := l.MyRank(); !ok || rank != 2 {
		t.Fatalf("MyRank: want=(2, true) got=(%d, %v)", rank, ok)
	}

	// replaced wholesale on the next fetch
	b.records = b.records[:1]
	if _, err := l.RefreshLeaderboard(context.Background()); err != nil {
		t.Fatalf("RefreshLeaderboard: %v", err)
	}
	if _, ok := l.MyRank(); ok {
		t.Fatalf("MyRank after refetch: want unknown")
	}
	if got := len(l.Leaderboard()); got != 1 {
		t.Fatalf("Leaderboard len: want=1 got=%d", got)
	}
}

func TestLoadMyRecord(t *testing.T) {
	l, b := newTestLearner(t)
	if _, err := l.LoadMyRecord(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("LoadMyRecord signed out: want ErrUnauthorized got=%v", err)
	}

	signIn(t, l)
	b.records = []domain.UserStudyRecord{{UserID: "u1", TotalScore: 7}}
	record, err := l.LoadMyRecord(context.Background())
	if err != nil {
		t.Fatalf("LoadMyRecord: %v", err)
	}
	if record.TotalScore != 7 || l.MyRecord().TotalScore != 7 {
		t.Fatalf("record: got=%+v", record)
	}
}

func TestHydrateAndRestore(t *testing.T) {
	l, b := newTestLearner(t)
	l.Hydrate(domain.LearningSnapshot{
		Current:  []domain.DrugID{"d1"},
		Finished: []domain.DrugID{"d2"},
		Scores:   map[domain.DrugID]int{"d2": 90},
	})
	if got := l.Progress().Summary(); got.CurrentLearning != 1 || got.FinishedLearning != 1 || got.TotalScore != 90 {
		t.Fatalf("Summary after Hydrate: got=%+v", got)
	}

	if l.Restore(domain.User{ID: "u1"}) {
		t.Fatalf("Restore without token: want=false")
	}
	b.token = "tok"
	if !l.Restore(domain.User{ID: "u1"}) {
		t.Fatalf("Restore with token: want=true")
	}
	if id, ok := l.UserID(); !ok || id != "u1" {
		t.Fatalf("UserID after Restore: got=(%q, %v)", id, ok)
	}
}

func TestUpdateProfile(t *testing.T) {
	l, _ := newTestLearner(t)
	name := "alicia"
	if _, err := l.UpdateProfile(context.Background(), domain.ProfileUpdate{Username: &name}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("UpdateProfile signed out: want ErrUnauthorized got=%v", err)
	}

	signIn(t, l)
	user, err := l.UpdateProfile(context.Background(), domain.ProfileUpdate{Username: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Username != "alicia" || l.User().Username != "alicia" {
		t.Fatalf("Username: want=alicia got=%q", l.User().Username)
	}

	bad := "other"
	if _, err := l.UpdateProfile(context.Background(), domain.ProfileUpdate{Gender: &bad}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("UpdateProfile bad gender: want ErrInvalidRequest got=%v", err)
	}
}
