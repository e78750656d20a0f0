package models

import "time"

// LoginAttempt is one row of the append-only login audit log
type LoginAttempt struct {
	ID         string    `db:"id"`
	Email      string    `db:"email"`
	UserID     *string   `db:"user_id"`
	Successful bool      `db:"successful"`
	IPAddress  *string   `db:"ip_address"`
	UserAgent  *string   `db:"user_agent"`
	CreatedAt  time.Time `db:"created_at"`
}

// LockStatus is the result of a lockout check
type LockStatus struct {
	Locked      bool
	LockedUntil *time.Time
}

// FailureResult describes the account state after a failed login was counted
type FailureResult struct {
	Locked            bool
	LockedUntil       *time.Time
	AttemptsRemaining int
}
