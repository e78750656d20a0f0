package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// LoginInput carries a login request after transport decoding
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// ChangePasswordInput carries an authenticated password change
type ChangePasswordInput struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	IPAddress       string
	UserAgent       string
}

// AuthService composes credentials, lockout and sessions into login,
// logout and password change flows
type AuthService struct {
	users    CredentialStore
	attempts *LoginAttemptService
	sessions *SessionService
	policy   *PasswordPolicyService
	hasher   PasswordHasher
	audit    *pkglogger.AuditLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
	newSeed   func() (string, error)
}

func NewAuthService(
	users CredentialStore,
	attempts *LoginAttemptService,
	sessions *SessionService,
	policy *PasswordPolicyService,
	hasher PasswordHasher,
	audit *pkglogger.AuditLogger,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		attempts: attempts,
		sessions: sessions,
		policy:   policy,
		hasher:   hasher,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		newSeed:  pkgauth.NewToken,
	}
}

// dummySeedFallback is hashed when no random seed can be drawn
const dummySeedFallback = "sessionguard-dummy-password-seed"

// compareDummy spends one bcrypt comparison so unknown emails cost the same
// as wrong passwords
func (s *AuthService) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		seed, err := s.newSeed()
		if err != nil {
			seed = dummySeedFallback
		}
		s.dummyHash, err = s.hasher.Hash(seed)
		if err != nil {
			s.logger.Error("failed to build dummy hash", slog.Any("error", err))
		}
	})
	if s.dummyHash != "" {
		s.hasher.Compare(s.dummyHash, password)
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Login verifies credentials and opens a session. Failures are returned as
// *models.CredentialsError or *models.LockoutError.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.Session, error) {
	email := NormalizeEmail(in.Email)
	attempt := models.LoginAttempt{
		Email:     email,
		IPAddress: optional(in.IPAddress),
		UserAgent: optional(in.UserAgent),
	}
	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		Email:     email,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.compareDummy(in.Password)
		remaining := s.attempts.RemainingForUnknown(ctx, email)
		s.recordFailure(ctx, attempt, event, "unknown_email", metrics.LoginInvalidCredentials)
		return nil, &models.CredentialsError{AttemptsRemaining: &remaining}
	}
	if err != nil {
		s.metrics.Login(metrics.LoginError)
		return nil, storageErr("lookup user for login", err)
	}

	attempt.UserID = &user.ID
	event.UserID = user.ID

	status, err := s.attempts.IsLocked(ctx, user.ID)
	if err != nil {
		s.metrics.Login(metrics.LoginError)
		return nil, err
	}
	if status.Locked {
		s.recordFailure(ctx, attempt, event, "account_locked", metrics.LoginLocked)
		return nil, &models.LockoutError{LockedUntil: *status.LockedUntil}
	}

	if !s.hasher.Compare(user.PasswordHash, in.Password) {
		result, err := s.attempts.OnFailure(ctx, user.ID)
		if err != nil {
			s.metrics.Login(metrics.LoginError)
			return nil, err
		}
		if result.Locked {
			s.recordFailure(ctx, attempt, event, "account_locked", metrics.LoginLocked)
			return nil, &models.LockoutError{LockedUntil: *result.LockedUntil}
		}
		s.recordFailure(ctx, attempt, event, "invalid_credentials", metrics.LoginInvalidCredentials)
		remaining := result.AttemptsRemaining
		return nil, &models.CredentialsError{AttemptsRemaining: &remaining}
	}

	if err := s.attempts.OnSuccess(ctx, user.ID); err != nil {
		s.metrics.Login(metrics.LoginError)
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, user.ID, in.UserAgent, optional(in.IPAddress))
	if err != nil {
		s.metrics.Login(metrics.LoginError)
		return nil, err
	}

	attempt.Successful = true
	s.attempts.RecordAttempt(ctx, attempt)
	event.Success = true
	s.audit.LogAuthAttempt(ctx, event)
	s.metrics.Login(metrics.LoginSuccess)
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return session, nil
}

// recordFailure writes the attempt row, audit line and metric for a rejected login
func (s *AuthService) recordFailure(ctx context.Context, attempt models.LoginAttempt, event pkglogger.AuditEvent, reason, outcome string) {
	attempt.Successful = false
	s.attempts.RecordAttempt(ctx, attempt)
	event.Success = false
	event.FailureReason = reason
	s.audit.LogAuthAttempt(ctx, event)
	s.metrics.Login(outcome)
}

// Logout ends the given session. A session already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, session *models.Session) error {
	if session == nil {
		return nil
	}
	if err := s.sessions.InvalidateSession(ctx, session.Token); err != nil {
		return err
	}
	s.audit.LogAccountAction(ctx, pkglogger.EventLogout, session.UserID, nil)
	return nil
}

// LogoutAll ends every session the user has
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.InvalidateAllSessions(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	s.audit.LogAccountAction(ctx, pkglogger.EventLogoutAll, userID, map[string]string{
		"sessions_revoked": strconv.FormatInt(n, 10),
	})
	return n, nil
}

// ChangePassword replaces the password of an authenticated user after
// re-verifying the current one. Every existing session is invalidated and a
// fresh session is returned for the caller's user agent.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) (*models.Session, error) {
	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, storageErr("load user for password change", err)
	}

	if !s.hasher.Compare(user.PasswordHash, in.CurrentPassword) {
		s.audit.LogPasswordChange(ctx, pkglogger.EventPasswordChange, user.ID, false)
		s.metrics.PasswordChanged("change", "bad_current")
		return nil, &models.CredentialsError{}
	}

	result, err := s.policy.ValidateForChange(ctx, user.ID, in.NewPassword)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		s.metrics.PasswordChanged("change", "rejected")
		return nil, result.Err()
	}

	newHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash, s.policy.HistorySize()); err != nil {
		return nil, storageErr("update password", err)
	}

	if _, err := s.sessions.InvalidateAllSessions(ctx, user.ID, ""); err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, user.ID, in.UserAgent, optional(in.IPAddress))
	if err != nil {
		return nil, err
	}

	s.metrics.PasswordChanged("change", "ok")
	s.audit.LogPasswordChange(ctx, pkglogger.EventPasswordChange, user.ID, true)
	return session, nil
}

// Unlock lifts a lockout on behalf of an administrator
func (s *AuthService) Unlock(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return storageErr("load user for unlock", err)
	}
	return s.attempts.Unlock(ctx, userID)
}
