package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/sessionguard/internal/metrics"
	"github.com/BradenHooton/sessionguard/internal/models"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
)

// SessionRepository persists sessions by token hash
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session, replaceSameAgent bool) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	UpdateExpiry(ctx context.Context, tokenHash string, expiresAt time.Time) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUser(ctx context.Context, userID, userAgent string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// maxTokenAttempts bounds retries on the (practically impossible) event of a
// token hash collision
const maxTokenAttempts = 3

// SessionService creates, validates, refreshes and invalidates sessions.
// Expiry is enforced lazily on every lookup; CleanupExpired is housekeeping.
type SessionService struct {
	repo     SessionRepository
	users    UserReader
	ttl      time.Duration
	newToken func() (string, error)
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionService(repo SessionRepository, users UserReader, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:     repo,
		users:    users,
		ttl:      ttl,
		newToken: pkgauth.NewToken,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession issues a new session for the user. When userAgent is set,
// existing sessions for the same (user, user agent) pair are replaced;
// when it is empty, the user's other sessions are left alone.
func (s *SessionService) CreateSession(ctx context.Context, userID, userAgent string, ipAddress *string) (*models.Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storageErr("load session owner", err)
	}

	for attempt := 1; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}

		now := s.now()
		session := &models.Session{
			UserID:    userID,
			Token:     token,
			TokenHash: pkgauth.HashToken(token),
			UserAgent: userAgent,
			IPAddress: ipAddress,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
			User:      user.Public(),
		}

		err = s.repo.Create(ctx, session, userAgent != "")
		if err == nil {
			s.metrics.SessionCreated()
			return session, nil
		}
		if !errors.Is(err, models.ErrDuplicateToken) || attempt == maxTokenAttempts {
			s.logger.Error("failed to create session",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return nil, storageErr("create session", err)
		}
	}
}

// ValidateSession resolves a token to its session. Unknown and expired
// tokens both yield ErrSessionNotFound; an expired session is deleted.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		s.metrics.SessionValidated(metrics.SessionMissing)
		return nil, models.ErrSessionNotFound
	}

	tokenHash := pkgauth.HashToken(token)
	session, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if errors.Is(err, models.ErrNotFound) {
		s.metrics.SessionValidated(metrics.SessionMissing)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}

	if session.IsExpiredAt(s.now()) {
		s.metrics.SessionValidated(metrics.SessionExpired)
		if err := s.repo.DeleteByTokenHash(ctx, tokenHash); err != nil {
			s.logger.Warn("failed to delete expired session",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
		}
		return nil, models.ErrSessionNotFound
	}

	s.metrics.SessionValidated(metrics.SessionValid)
	session.Token = token
	return session, nil
}

// RefreshSession pushes expiry to now+ttl. The token value is unchanged.
func (s *SessionService) RefreshSession(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl)
	err = s.repo.UpdateExpiry(ctx, session.TokenHash, expiresAt)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, storageErr("refresh session", err)
	}

	session.ExpiresAt = expiresAt
	return session, nil
}

// InvalidateSession deletes the session for token. Unknown tokens are ignored.
func (s *SessionService) InvalidateSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.DeleteByTokenHash(ctx, pkgauth.HashToken(token)); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}

// InvalidateAllSessions deletes every session for the user, or only those
// for userAgent when it is non-empty.
func (s *SessionService) InvalidateAllSessions(ctx context.Context, userID, userAgent string) (int64, error) {
	n, err := s.repo.DeleteByUser(ctx, userID, userAgent)
	if err != nil {
		return 0, storageErr("delete user sessions", err)
	}
	return n, nil
}

// CleanupExpired bulk-deletes expired sessions and returns how many went
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storageErr("delete expired sessions", err)
	}
	return n, nil
}
