package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// LoginAttemptRepository is the append-only login audit log
type LoginAttemptRepository interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutStore reads and atomically mutates the lockout fields of a user
type LockoutStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateLockoutState(ctx context.Context, userID string, fn func(*models.LockoutState) error) error
}

// LockoutConfig holds the lockout policy
type LockoutConfig struct {
	Threshold        int           // consecutive failures that trigger a lock
	Duration         time.Duration // how long a lock lasts
	AttemptRetention time.Duration // how long audit rows are kept
}

// LoginAttemptService tracks failed logins and time-based account lockout.
// Once a lock is set only time or an explicit Unlock lifts it.
type LoginAttemptService struct {
	attempts LoginAttemptRepository
	users    LockoutStore
	config   LockoutConfig
	audit    *pkglogger.AuditLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewLoginAttemptService(
	attempts LoginAttemptRepository,
	users LockoutStore,
	config LockoutConfig,
	audit *pkglogger.AuditLogger,
	m *metrics.Metrics,
	logger *slog.Logger,
) *LoginAttemptService {
	return &LoginAttemptService{
		attempts: attempts,
		users:    users,
		config:   config,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordAttempt appends an audit row. Failures are logged, never returned.
func (s *LoginAttemptService) RecordAttempt(ctx context.Context, attempt models.LoginAttempt) {
	attempt.CreatedAt = s.now()
	if err := s.attempts.Create(ctx, &attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
			slog.Bool("successful", attempt.Successful),
			slog.Any("error", err))
	}
}

// RemainingForUnknown gives an email with no account the same countdown a
// real account shows, driven by the failures logged for that email within
// the lock duration. It never reaches zero since there is nothing to lock.
func (s *LoginAttemptService) RemainingForUnknown(ctx context.Context, email string) int {
	threshold := s.config.Threshold
	if threshold <= 1 {
		return 1
	}

	failures, err := s.attempts.CountFailuresSince(ctx, email, s.now().Add(-s.config.Duration))
	if err != nil {
		s.logger.Warn("failed to count login failures",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		failures = 0
	}

	return max(threshold-failures%threshold-1, 1)
}

// IsLocked reports whether the user is locked now. An expired lock is
// cleared as a side effect, resetting the failure counter.
func (s *LoginAttemptService) IsLocked(ctx context.Context, userID string) (models.LockStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.LockStatus{}, storageErr("load lockout state", err)
	}
	if user.LockedUntil == nil {
		return models.LockStatus{}, nil
	}
	if user.IsLockedAt(s.now()) {
		return models.LockStatus{Locked: true, LockedUntil: user.LockedUntil}, nil
	}

	var status models.LockStatus
	err = s.users.UpdateLockoutState(ctx, userID, func(st *models.LockoutState) error {
		now := s.now()
		if st.LockedUntil != nil && st.LockedUntil.After(now) {
			// re-locked between the read and the row lock
			status = models.LockStatus{Locked: true, LockedUntil: st.LockedUntil}
			return nil
		}
		if st.LockedUntil != nil {
			st.LockedUntil = nil
			st.FailedLoginAttempts = 0
		}
		return nil
	})
	if err != nil {
		return models.LockStatus{}, storageErr("clear expired lock", err)
	}
	return status, nil
}

// OnFailure counts one failed login. Reaching the threshold locks the
// account for the configured duration and resets the counter to zero.
func (s *LoginAttemptService) OnFailure(ctx context.Context, userID string) (models.FailureResult, error) {
	var (
		result      models.FailureResult
		newlyLocked bool
	)

	err := s.users.UpdateLockoutState(ctx, userID, func(st *models.LockoutState) error {
		now := s.now()

		if st.LockedUntil != nil {
			if st.LockedUntil.After(now) {
				until := *st.LockedUntil
				result = models.FailureResult{Locked: true, LockedUntil: &until}
				return nil
			}
			st.LockedUntil = nil
			st.FailedLoginAttempts = 0
		}

		st.FailedLoginAttempts++
		if st.FailedLoginAttempts >= s.config.Threshold {
			until := now.Add(s.config.Duration)
			st.LockedUntil = &until
			st.FailedLoginAttempts = 0
			result = models.FailureResult{Locked: true, LockedUntil: &until}
			newlyLocked = true
			return nil
		}

		result = models.FailureResult{AttemptsRemaining: s.config.Threshold - st.FailedLoginAttempts}
		return nil
	})
	if err != nil {
		return models.FailureResult{}, storageErr("record login failure", err)
	}

	if newlyLocked {
		s.metrics.Lockout()
		s.audit.LogLockout(ctx, userID, *result.LockedUntil)
	}
	return result, nil
}

// OnSuccess resets the failure counter. It never touches lockedUntil.
func (s *LoginAttemptService) OnSuccess(ctx context.Context, userID string) error {
	err := s.users.UpdateLockoutState(ctx, userID, func(st *models.LockoutState) error {
		st.FailedLoginAttempts = 0
		return nil
	})
	if err != nil {
		return storageErr("reset login failures", err)
	}
	return nil
}

// Unlock lifts a lock immediately and clears the failure counter
func (s *LoginAttemptService) Unlock(ctx context.Context, userID string) error {
	err := s.users.UpdateLockoutState(ctx, userID, func(st *models.LockoutState) error {
		st.LockedUntil = nil
		st.FailedLoginAttempts = 0
		return nil
	})
	if err != nil {
		return storageErr("unlock account", err)
	}

	s.audit.LogAccountAction(ctx, pkglogger.EventAccountUnlocked, userID, nil)
	return nil
}

// CleanupOldAttempts deletes audit rows older than the retention window
func (s *LoginAttemptService) CleanupOldAttempts(ctx context.Context) (int64, error) {
	n, err := s.attempts.DeleteOlderThan(ctx, s.now().Add(-s.config.AttemptRetention))
	if err != nil {
		return 0, storageErr("delete old login attempts", err)
	}
	return n, nil
}
