package models

import (
	"time"
)

// PasswordResetToken is a single-use, time-limited reset capability
type PasswordResetToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Never expose token hash
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpiredAt checks if the token has expired at t
func (t *PasswordResetToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsValidAt checks if the token is still usable at t (not expired and not used)
func (t *PasswordResetToken) IsValidAt(now time.Time) bool {
	return !t.Used && !t.IsExpiredAt(now)
}

// ResetRequest is handed back to the caller so it can deliver the link out of band
type ResetRequest struct {
	Token     string
	UserID    string
	Email     string
	FirstName string
	ExpiresAt time.Time
}

// ResetIdentity identifies the owner of a valid reset token
type ResetIdentity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// PasswordHistoryEntry is a previously used password hash
type PasswordHistoryEntry struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}
