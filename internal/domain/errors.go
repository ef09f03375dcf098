package domain

import "errors"

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRecordNotFound     = errors.New("study record not found")
	ErrDrugNotFound       = errors.New("drug not found")
	ErrCategoryNotFound   = errors.New("category not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRecord      = errors.New("study record counters must be non-negative")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrDrugNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}
