package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// ResetTokenRepository stores single-use reset tokens by hash
type ResetTokenRepository interface {
	Issue(ctx context.Context, token *models.PasswordResetToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore is the user access needed to change a password
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, userID, newHash string, keepHistory int) error
}

// Reset request results for metrics
const (
	resetIssued       = "issued"
	resetUnknownEmail = "unknown_email"
)

// PasswordResetService issues, verifies and consumes password reset tokens
type PasswordResetService struct {
	tokens   ResetTokenRepository
	users    CredentialStore
	policy   *PasswordPolicyService
	sessions *SessionService
	hasher   PasswordHasher
	ttl      time.Duration
	newToken func() (string, error)
	audit    *pkglogger.AuditLogger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewPasswordResetService(
	tokens ResetTokenRepository,
	users CredentialStore,
	policy *PasswordPolicyService,
	sessions *SessionService,
	hasher PasswordHasher,
	ttl time.Duration,
	audit *pkglogger.AuditLogger,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		tokens:   tokens,
		users:    users,
		policy:   policy,
		sessions: sessions,
		hasher:   hasher,
		ttl:      ttl,
		newToken: pkgauth.NewToken,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// NormalizeEmail lower-cases and trims an email for lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestReset issues a reset token for the account with email. It returns
// nil, nil when no such account exists; callers must respond identically in
// both cases.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (*models.ResetRequest, error) {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.metrics.ResetRequested(resetUnknownEmail)
		s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventResetRequested,
			Email:         email,
			Success:       false,
			FailureReason: "unknown_email",
		})
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("lookup user for reset", err)
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: pkgauth.HashToken(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Issue(ctx, record); err != nil {
		s.logger.Error("failed to issue reset token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, storageErr("issue reset token", err)
	}

	s.metrics.ResetRequested(resetIssued)
	s.audit.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventResetRequested,
		UserID:    user.ID,
		Success:   true,
	})

	return &models.ResetRequest{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// lookup resolves a live token and its owner. Missing, expired and used
// tokens are all ErrTokenInvalid.
func (s *PasswordResetService) lookup(ctx context.Context, token string) (*models.PasswordResetToken, *models.User, error) {
	if token == "" {
		return nil, nil, models.ErrTokenInvalid
	}

	record, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(token))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, models.ErrTokenInvalid
	}
	if err != nil {
		return nil, nil, storageErr("get reset token", err)
	}
	if !record.IsValidAt(s.now()) {
		return nil, nil, models.ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, models.ErrTokenInvalid
	}
	if err != nil {
		return nil, nil, storageErr("load reset token owner", err)
	}

	return record, user, nil
}

// VerifyToken reports who a valid token belongs to without consuming it
func (s *PasswordResetService) VerifyToken(ctx context.Context, token string) (*models.ResetIdentity, error) {
	_, user, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.ResetIdentity{UserID: user.ID, Email: user.Email, FirstName: user.FirstName}, nil
}

// ConsumeReset sets a new password using token. A policy rejection leaves
// the token and all stored state untouched. On success the token is spent,
// any lockout is lifted and every session for the user is invalidated.
func (s *PasswordResetService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	record, user, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}

	result, err := s.policy.ValidateForChange(ctx, user.ID, newPassword)
	if err != nil {
		return err
	}
	if !result.OK {
		s.metrics.PasswordChanged("reset", "rejected")
		return result.Err()
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	// Claim before writing so two concurrent consumers cannot both succeed
	if err := s.tokens.MarkUsed(ctx, record.ID); err != nil {
		if errors.Is(err, models.ErrUsed) {
			return models.ErrTokenInvalid
		}
		return storageErr("mark reset token used", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, newHash, s.policy.HistorySize()); err != nil {
		s.logger.Error("reset token spent but password update failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		s.audit.LogPasswordChange(ctx, pkglogger.EventPasswordReset, user.ID, false)
		return storageErr("update password", err)
	}

	if _, err := s.sessions.InvalidateAllSessions(ctx, user.ID, ""); err != nil {
		s.logger.Error("failed to invalidate sessions after reset",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return err
	}

	s.metrics.PasswordChanged("reset", "ok")
	s.audit.LogPasswordChange(ctx, pkglogger.EventPasswordReset, user.ID, true)
	return nil
}

// CleanupExpired deletes tokens past expiry. Validity is always rechecked
// on lookup, so this only reclaims storage.
func (s *PasswordResetService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storageErr("delete expired reset tokens", err)
	}
	return n, nil
}
