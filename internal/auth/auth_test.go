package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, BcryptCost: 4})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(&config.AuthConfig{}); err == nil {
		t.Fatalf("NewManager: expected error for empty secret")
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t)

	token, err := m.Issue("u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != "u1" {
		t.Fatalf("user id: want=%q got=%q", "u1", got)
	}
}

func TestParseRejects(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(&config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	foreign, _ := other.Issue("u1")

	expired := newTestManager(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.Issue("u1")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Parse(tt.token); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("Parse: want ErrUnauthorized got=%v", err)
			}
		})
	}
}

func TestPasswords(t *testing.T) {
	m := newTestManager(t)

	hash, err := m.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := m.CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := m.CheckPassword(hash, "hunter3"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("CheckPassword wrong: want ErrInvalidCredentials got=%v", err)
	}
}

func TestMiddleware(t *testing.T) {
	m := newTestManager(t)
	token, _ := m.Issue("u7")

	var seen string
	h := Middleware(m, func(w http.ResponseWriter, status int, msg string) {
		http.Error(w, msg, status)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		userID string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + token, http.StatusNoContent, "u7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status: want=%d got=%d", tt.status, rec.Code)
			}
			if seen != tt.userID {
				t.Fatalf("user id: want=%q got=%q", tt.userID, seen)
			}
		})
	}
}
