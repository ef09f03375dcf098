package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/client"
	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

type fakeRecords struct {
	mu      sync.Mutex
	records map[string]domain.UserStudyRecord
}

func (f *fakeRecords) SubmitStudyRecord(ctx context.Context, userID string, s domain.StudyRecordSummary, source string) (*domain.UserStudyRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := domain.UserStudyRecord{
		UserID:           userID,
		CurrentLearning:  s.CurrentLearning,
		FinishedLearning: s.FinishedLearning,
		TotalScore:       s.TotalScore,
		User:             &domain.UserInfo{ID: userID, Username: userID},
	}
	f.records[userID] = rec
	return &rec, nil
}

func (f *fakeRecords) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &rec, nil
}

func (f *fakeRecords) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.UserStudyRecord{}
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRecords) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	records, _ := f.ListStudyRecords(ctx)
	return domain.Entries(domain.RankRecords(records), limit), nil
}

func (f *fakeRecords) Rank(ctx context.Context, userID string) (*domain.LeaderboardEntry, error) {
	records, _ := f.ListStudyRecords(ctx)
	ranked := domain.RankRecords(records)
	rank, ok := domain.RankOf(ranked, userID)
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &domain.LeaderboardEntry{Rank: rank, Record: ranked[rank-1]}, nil
}

func (f *fakeRecords) Stats(ctx context.Context) (*domain.LeaderboardStats, error) {
	records, _ := f.ListStudyRecords(ctx)
	stats := domain.Stats(domain.RankRecords(records))
	return &stats, nil
}

type fakeUsers struct{}

func (fakeUsers) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Email == "taken@example.com" {
		return nil, domain.ErrEmailTaken
	}
	return &domain.AuthResponse{User: domain.User{ID: req.Username, Username: req.Username}, Token: "token-" + req.Username}, nil
}

func (fakeUsers) SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	if creds.Password != "pw" {
		return nil, domain.ErrInvalidCredentials
	}
	name, _, _ := strings.Cut(creds.Email, "@")
	return &domain.AuthResponse{User: domain.User{ID: name, Username: name}, Token: "token-" + name}, nil
}

func (fakeUsers) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	u := domain.User{ID: userID, Username: userID}
	if update.Username != nil {
		u.Username = *update.Username
	}
	return &u, nil
}

func (fakeUsers) Authenticate(token string) (string, error) {
	id, ok := strings.CutPrefix(token, "token-")
	if !ok || id == "" {
		return "", domain.ErrUnauthorized
	}
	return id, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, checks map[string]Pinger) (*httptest.Server, *fakeRecords) {
	t.Helper()
	records := &fakeRecords{records: make(map[string]domain.UserStudyRecord)}
	h := NewHandler(records, fakeUsers{}, catalog.Default(), nil, checks,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, records
}

func do(t *testing.T, method, url, token, body string) (int, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
	}{
		{"sign up", http.MethodPost, "/users", "", `{"username":"ann","email":"ann@example.com","password":"pw","gender":"female"}`, http.StatusCreated},
		{"sign up bad gender", http.MethodPost, "/users", "", `{"username":"ann","email":"a@b.c","password":"pw","gender":"x"}`, http.StatusBadRequest},
		{"sign up taken", http.MethodPost, "/users", "", `{"username":"ann","email":"taken@example.com","password":"pw","gender":"male"}`, http.StatusConflict},
		{"sign in bad body", http.MethodPost, "/auth/login", "", `{`, http.StatusBadRequest},
		{"sign in wrong password", http.MethodPost, "/auth/login", "", `{"email":"ann@example.com","password":"no"}`, http.StatusUnauthorized},
		{"submit without token", http.MethodPost, "/study-record", "", `{"totalScore":1}`, http.StatusUnauthorized},
		{"submit negative", http.MethodPost, "/study-record", "token-ann", `{"totalScore":-1}`, http.StatusBadRequest},
		{"submit", http.MethodPost, "/study-record", "token-ann", `{"currentLearning":1,"totalScore":5}`, http.StatusOK},
		{"missing record", http.MethodGet, "/study-record/ghost", "", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/leaderboard?limit=abc", "", "", http.StatusBadRequest},
		{"unknown drug", http.MethodGet, "/drugs/nope", "", "", http.StatusNotFound},
		{"unknown category", http.MethodGet, "/drugs?category=nope", "", "", http.StatusNotFound},
		{"profile without token", http.MethodPatch, "/users/update", "", `{}`, http.StatusUnauthorized},
		{"profile", http.MethodPatch, "/users/update", "token-ann", `{"username":"annie"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := do(t, tt.method, srv.URL+tt.path, tt.token, tt.body)
			if status != tt.status {
				t.Fatalf("status: want=%d got=%d (error=%q)", tt.status, status, resp.Error)
			}
			if resp.Success != (status < 300) {
				t.Fatalf("success flag: want=%v got=%v", status < 300, resp.Success)
			}
		})
	}
}

func TestCatalogRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	status, resp := do(t, http.MethodGet, srv.URL+"/drugs?category=analgesic", "", "")
	if status != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", status)
	}
	drugs, _ := resp.Data.([]any)
	if len(drugs) != 2 {
		t.Fatalf("analgesics: want=2 got=%d", len(drugs))
	}

	status, resp = do(t, http.MethodGet, srv.URL+"/categories", "", "")
	if status != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", status)
	}
	if cats, _ := resp.Data.([]any); len(cats) != len(catalog.Default().Categories()) {
		t.Fatalf("categories: got=%v", resp.Data)
	}
}

func TestReadyCheck(t *testing.T) {
	srv, _ := newTestServer(t, map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{err: errors.New("down")}})
	status, resp := do(t, http.MethodGet, srv.URL+"/ready", "", "")
	if status != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("ready with failing redis: got status=%d success=%v", status, resp.Success)
	}

	srv, _ = newTestServer(t, map[string]Pinger{"postgres": fakePinger{}})
	if status, _ := do(t, http.MethodGet, srv.URL+"/ready", "", ""); status != http.StatusOK {
		t.Fatalf("ready: want=200 got=%d", status)
	}
}

// The HTTP client and the router must agree on routes and envelope.
func TestClientRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c, err := client.New(&config.ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	ctx := context.Background()

	if _, err := c.UpdateStudyRecord(ctx, domain.StudyRecordSummary{TotalScore: 1}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unauthenticated push: want ErrUnauthorized got=%v", err)
	}

	if _, err := c.SignIn(ctx, domain.Credentials{Email: "zoe@example.com", Password: "pw"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	rec, err := c.UpdateStudyRecord(ctx, domain.StudyRecordSummary{CurrentLearning: 2, FinishedLearning: 1, TotalScore: 75})
	if err != nil {
		t.Fatalf("UpdateStudyRecord: %v", err)
	}
	if rec.UserID != "zoe" || rec.TotalScore != 75 {
		t.Fatalf("record: got=%+v", rec)
	}

	got, err := c.GetStudyRecord(ctx, "zoe")
	if err != nil || got.FinishedLearning != 1 {
		t.Fatalf("GetStudyRecord: got=(%+v, %v)", got, err)
	}
	records, err := c.ListStudyRecords(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("ListStudyRecords: got=(%v, %v)", records, err)
	}
	name := "zoey"
	user, err := c.UpdateProfile(ctx, domain.ProfileUpdate{Username: &name})
	if err != nil || user.Username != "zoey" {
		t.Fatalf("UpdateProfile: got=(%+v, %v)", user, err)
	}
}
