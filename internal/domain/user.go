package domain

import "time"

// Gender values accepted on sign-up and profile update
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// User represents a registered learner
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserInfo is the public user shape embedded in study records
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Gender   string `json:"gender"`
}

// SignUpRequest represents a request to create a new account
type SignUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Gender   string `json:"gender"`
}

// Validate checks required sign-up fields
func (r *SignUpRequest) Validate() error {
	if r.Username == "" || r.Email == "" || r.Password == "" {
		return ErrInvalidRequest
	}
	if !ValidGender(r.Gender) {
		return ErrInvalidRequest
	}
	return nil
}

// Credentials represents a sign-in request
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate represents a partial profile update
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Gender   *string `json:"gender,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Validate checks the fields that are present
func (u *ProfileUpdate) Validate() error {
	if u.Username != nil && *u.Username == "" {
		return ErrInvalidRequest
	}
	if u.Gender != nil && !ValidGender(*u.Gender) {
		return ErrInvalidRequest
	}
	if u.Password != nil && *u.Password == "" {
		return ErrInvalidRequest
	}
	return nil
}

// AuthResponse is returned by sign-up and sign-in
type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// ValidGender reports whether g is an accepted gender value
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale
}

// Account is a stored user together with its password hash
type Account struct {
	User
	PasswordHash string `json:"-"`
}

// Info returns the public part of the user
func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, Gender: u.Gender}
}
