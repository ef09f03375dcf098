// Package client talks to the Drug Speak REST service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/drug-speak/internal/config"
	"github.com/drug-speak/internal/domain"
)

// APIError is returned for non-2xx responses
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// Is maps HTTP status codes onto domain errors
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case domain.ErrInvalidRequest:
		return e.Status == http.StatusBadRequest
	case domain.ErrRecordNotFound, domain.ErrUserNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// envelope mirrors the server's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client is a JSON client bound to one service base URL
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenStore
	logger  *slog.Logger
}

// New creates a client. A nil token store keeps the token in memory.
func New(cfg *config.ClientConfig, tokens TokenStore, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parsing base url: %q is not absolute", cfg.BaseURL)
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		logger:  logger,
	}, nil
}

// do sends a request and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Load()
	if err != nil {
		c.logger.Warn("failed to load auth token", "error", err)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("sending request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		if resp.StatusCode == http.StatusUnauthorized {
			// token expired or revoked
			if err := c.tokens.Delete(); err != nil {
				c.logger.Warn("failed to delete auth token", "error", err)
			}
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: env.Error}
		c.logger.Debug("request failed", "method", method, "path", path, "error", apiErr)
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// RestoreSession reports whether a stored token is available for requests
func (c *Client) RestoreSession() bool {
	token, err := c.tokens.Load()
	if err != nil {
		c.logger.Warn("failed to restore auth token", "error", err)
		return false
	}
	return token != ""
}

// SignUp creates an account and stores the returned token
func (c *Client) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/users", req, &resp); err != nil {
		return nil, err
	}
	if err := c.tokens.Save(resp.Token); err != nil {
		return nil, fmt.Errorf("storing auth token: %w", err)
	}
	return &resp, nil
}

// SignIn authenticates and stores the returned token
func (c *Client) SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &resp); err != nil {
		return nil, err
	}
	if err := c.tokens.Save(resp.Token); err != nil {
		return nil, fmt.Errorf("storing auth token: %w", err)
	}
	return &resp, nil
}

// SignOut forgets the stored token
func (c *Client) SignOut() error {
	if err := c.tokens.Delete(); err != nil {
		return fmt.Errorf("deleting auth token: %w", err)
	}
	return nil
}

// UpdateProfile changes the signed-in user's profile
func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodPatch, "/users/update", update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateStudyRecord pushes the signed-in user's progress summary
func (c *Client) UpdateStudyRecord(ctx context.Context, summary domain.StudyRecordSummary) (*domain.UserStudyRecord, error) {
	var record domain.UserStudyRecord
	if err := c.do(ctx, http.MethodPost, "/study-record", summary, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListStudyRecords fetches every user's study record, in server order
func (c *Client) ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error) {
	var records []domain.UserStudyRecord
	if err := c.do(ctx, http.MethodGet, "/study-record", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetStudyRecord fetches one user's study record
func (c *Client) GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	var record domain.UserStudyRecord
	if err := c.do(ctx, http.MethodGet, "/study-record/"+url.PathEscape(userID), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
