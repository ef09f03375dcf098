package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": status < 300,
		"data":    data,
		"error":   msg,
	})
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *MemoryTokenStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := NewMemoryTokenStore()
	c, err := New(&config.ClientConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, tokens,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, tokens
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(&config.ClientConfig{BaseURL: "localhost"}, nil, slog.Default())
	if err == nil {
		t.Fatalf("New: expected error for relative base url")
	}
}

func TestSignInStoresToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds domain.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			writeEnvelope(w, http.StatusBadRequest, nil, "bad body")
			return
		}
		if creds.Email != "a@b.c" || creds.Password != "pw" {
			writeEnvelope(w, http.StatusUnauthorized, nil, "invalid credentials")
			return
		}
		writeEnvelope(w, http.StatusOK, domain.AuthResponse{
			User:  domain.User{ID: "u1", Username: "alice"},
			Token: "tok-1",
		}, "")
	})
	c, tokens := newTestClient(t, mux)

	resp, err := c.SignIn(context.Background(), domain.Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if resp.User.ID != "u1" {
		t.Fatalf("User.ID: want=%q got=%q", "u1", resp.User.ID)
	}
	if tok, _ := tokens.Load(); tok != "tok-1" {
		t.Fatalf("stored token: want=%q got=%q", "tok-1", tok)
	}
	if !c.RestoreSession() {
		t.Fatalf("RestoreSession: want=true")
	}

	_, err = c.SignIn(context.Background(), domain.Credentials{Email: "a@b.c", Password: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("SignIn bad password: want APIError 401 got=%v", err)
	}
	if apiErr.Message != "invalid credentials" {
		t.Fatalf("APIError.Message: want=%q got=%q", "invalid credentials", apiErr.Message)
	}
}

func TestUpdateStudyRecordSendsBearer(t *testing.T) {
	var gotAuth string
	var gotBody domain.StudyRecordSummary
	mux := http.NewServeMux()
	mux.HandleFunc("POST /study-record", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, http.StatusOK, domain.UserStudyRecord{
			UserID:           "u1",
			CurrentLearning:  gotBody.CurrentLearning,
			FinishedLearning: gotBody.FinishedLearning,
			TotalScore:       gotBody.TotalScore,
		}, "")
	})
	c, tokens := newTestClient(t, mux)
	_ = tokens.Save("tok-9")

	summary := domain.StudyRecordSummary{CurrentLearning: 2, FinishedLearning: 1, TotalScore: 80}
	record, err := c.UpdateStudyRecord(context.Background(), summary)
	if err != nil {
		t.Fatalf("UpdateStudyRecord: %v", err)
	}
	if gotAuth != "Bearer tok-9" {
		t.Fatalf("Authorization: want=%q got=%q", "Bearer tok-9", gotAuth)
	}
	if gotBody != summary {
		t.Fatalf("body: want=%+v got=%+v", summary, gotBody)
	}
	if record.TotalScore != 80 {
		t.Fatalf("TotalScore: want=80 got=%d", record.TotalScore)
	}
}

func TestUnauthorizedDeletesToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /study-record", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, "token expired")
	})
	c, tokens := newTestClient(t, mux)
	_ = tokens.Save("stale")

	_, err := c.UpdateStudyRecord(context.Background(), domain.StudyRecordSummary{})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error: want ErrUnauthorized got=%v", err)
	}
	if tok, _ := tokens.Load(); tok != "" {
		t.Fatalf("token after 401: want empty got=%q", tok)
	}
	if c.RestoreSession() {
		t.Fatalf("RestoreSession after 401: want=false")
	}
}

func TestGetStudyRecord(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /study-record/{userId}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("userId") != "u1" {
			writeEnvelope(w, http.StatusNotFound, nil, "record not found")
			return
		}
		writeEnvelope(w, http.StatusOK, domain.UserStudyRecord{UserID: "u1", TotalScore: 5}, "")
	})
	c, _ := newTestClient(t, mux)

	record, err := c.GetStudyRecord(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetStudyRecord: %v", err)
	}
	if record.TotalScore != 5 {
		t.Fatalf("TotalScore: want=5 got=%d", record.TotalScore)
	}

	if _, err := c.GetStudyRecord(context.Background(), "ghost"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("missing record: want ErrRecordNotFound got=%v", err)
	}
	if _, err := c.GetStudyRecord(context.Background(), ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("empty id: want ErrInvalidRequest got=%v", err)
	}
}

func TestListStudyRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /study-record", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []domain.UserStudyRecord{
			{UserID: "a", TotalScore: 1},
			{UserID: "b", TotalScore: 9},
		}, "")
	})
	c, _ := newTestClient(t, mux)

	records, err := c.ListStudyRecords(context.Background())
	if err != nil {
		t.Fatalf("ListStudyRecords: %v", err)
	}
	if len(records) != 2 || records[1].UserID != "b" {
		t.Fatalf("records: got=%+v", records)
	}
}

func TestSignOut(t *testing.T) {
	c, tokens := newTestClient(t, http.NewServeMux())
	_ = tokens.Save("tok")
	if err := c.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if c.RestoreSession() {
		t.Fatalf("RestoreSession after SignOut: want=false")
	}
}
