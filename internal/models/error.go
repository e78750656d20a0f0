package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrDuplicateToken = errors.New("token already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrExpired        = errors.New("expired")
	ErrUsed           = errors.New("already used")
	ErrConflict       = errors.New("resource already exists")

	// Authentication outcomes
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrSessionNotFound    = errors.New("session not found or expired")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("forbidden")

	// Password policy outcomes
	ErrWeakPassword   = errors.New("password does not meet strength requirements")
	ErrPasswordReused = errors.New("password was used recently")

	// ErrStorageFailure wraps any repository error leaving a service
	ErrStorageFailure = errors.New("storage failure")
)

// ErrorKind is the closed set of failure categories callers switch on
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindDuplicateToken
	KindExpired
	KindUsed
	KindLocked
	KindInvalidCredentials
	KindSessionNotFound
	KindTokenInvalid
	KindWeakPassword
	KindPasswordReused
	KindForbidden
	KindBadRequest
	KindConflict
	KindStorageFailure
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindNotFound:           "not_found",
	KindDuplicateToken:     "duplicate_token",
	KindExpired:            "expired",
	KindUsed:               "used",
	KindLocked:             "account_locked",
	KindInvalidCredentials: "invalid_credentials",
	KindSessionNotFound:    "session_not_found",
	KindTokenInvalid:       "token_invalid",
	KindWeakPassword:       "weak_password",
	KindPasswordReused:     "password_reused",
	KindForbidden:          "forbidden",
	KindBadRequest:         "bad_request",
	KindConflict:           "conflict",
	KindStorageFailure:     "storage_failure",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Ordered so that the more specific outcomes win when a chain matches several
var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindLocked, ErrAccountLocked},
	{KindInvalidCredentials, ErrInvalidCredentials},
	{KindSessionNotFound, ErrSessionNotFound},
	{KindTokenInvalid, ErrTokenInvalid},
	{KindPasswordReused, ErrPasswordReused},
	{KindWeakPassword, ErrWeakPassword},
	{KindForbidden, ErrForbidden},
	{KindStorageFailure, ErrStorageFailure},
	{KindDuplicateToken, ErrDuplicateToken},
	{KindExpired, ErrExpired},
	{KindUsed, ErrUsed},
	{KindNotFound, ErrNotFound},
	{KindBadRequest, ErrBadRequest},
	{KindConflict, ErrConflict},
}

// KindOf classifies err. A nil error has KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

// LockoutError reports a locked account together with when the lock lifts
type LockoutError struct {
	LockedUntil time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// CredentialsError is a failed login that did not (yet) lock the account
type CredentialsError struct {
	AttemptsRemaining *int // nil when the email is unknown
}

func (e *CredentialsError) Error() string { return ErrInvalidCredentials.Error() }

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// PasswordPolicyError lists user-facing reasons a new password was rejected.
// The reasons are safe to show: they describe the candidate, not the account.
type PasswordPolicyError struct {
	Reasons []string
	Reused  bool
}

func (e *PasswordPolicyError) Error() string {
	if len(e.Reasons) == 0 {
		return ErrWeakPassword.Error()
	}
	return "password rejected: " + strings.Join(e.Reasons, "; ")
}

// Unwrap exposes the reuse sentinel when history matched, otherwise weak password
func (e *PasswordPolicyError) Unwrap() []error {
	if e.Reused {
		return []error{ErrPasswordReused, ErrWeakPassword}
	}
	return []error{ErrWeakPassword}
}

// StorageError marks a repository failure. The cause is kept for logging only.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
