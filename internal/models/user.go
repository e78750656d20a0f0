package models

import (
	"time"
)

// User holds the security-relevant fields of an account. Profile data beyond
// the public projection is owned by the host application.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Role                string // e.g., "user", "admin"
	FailedLoginAttempts int
	LockedUntil         *time.Time // authoritative; nil or past means unlocked
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PublicUser is the minimal projection returned alongside a session
type PublicUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Public returns the public projection of the user
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// IsLockedAt reports whether the lock is still in force at t
func (u *User) IsLockedAt(t time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(t)
}

// LockoutState is the mutable lockout portion of a user row. It is handed to
// callers while the row is locked so read-modify-write stays atomic.
type LockoutState struct {
	UserID              string
	FailedLoginAttempts int
	LockedUntil         *time.Time
}
