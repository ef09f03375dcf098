package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drug-speak/internal/domain"
)

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, account domain.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, userID string, username, gender, passwordHash *string) (*domain.Account, error)
}

// Authenticator issues session tokens and hashes passwords
type Authenticator interface {
	Issue(userID string) (string, error)
	Parse(token string) (string, error)
	HashPassword(password string) (string, error)
	CheckPassword(hash, password string) error
}

// UserService provides account operations
type UserService struct {
	store  UserStore
	auth   Authenticator
	cache  RecordCache
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a new user service. cache may be nil; when set it
// is invalidated on username changes because cached records embed the name.
func NewUserService(store UserStore, auth Authenticator, cache RecordCache, logger *slog.Logger) *UserService {
	return &UserService{
		store:  store,
		auth:   auth,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account and returns it with a session token
func (s *UserService) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = normalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account := domain.Account{
		User: domain.User{
			ID:        uuid.NewString(),
			Username:  req.Username,
			Email:     req.Email,
			Gender:    req.Gender,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, account); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	token, err := s.auth.Issue(account.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", account.ID)
	return &domain.AuthResponse{User: account.User, Token: token}, nil
}

// SignIn checks credentials and returns a session token
func (s *UserService) SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, domain.ErrInvalidRequest
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if err := s.auth.CheckPassword(account.PasswordHash, creds.Password); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.auth.Issue(account.ID)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResponse{User: account.User, Token: token}, nil
}

// UpdateProfile applies a partial profile update
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error) {
	if update.Username != nil {
		trimmed := strings.TrimSpace(*update.Username)
		update.Username = &trimmed
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	var hash *string
	if update.Password != nil {
		h, err := s.auth.HashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		hash = &h
	}

	account, err := s.store.UpdateAccount(ctx, userID, update.Username, update.Gender, hash)
	if err != nil {
		return nil, fmt.Errorf("updating account: %w", err)
	}

	if s.cache != nil && (update.Username != nil || update.Gender != nil) {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate study record cache", "error", err)
		}
	}
	return &account.User, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &account.User, nil
}

// Authenticate resolves a bearer token to a user ID
func (s *UserService) Authenticate(token string) (string, error) {
	return s.auth.Parse(token)
}
