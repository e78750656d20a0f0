package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sessionguard/internal/models"
	pkgauth "github.com/BradenHooton/sessionguard/pkg/auth"
)

// PasswordHistoryRepository stores the most recent password hashes per user
type PasswordHistoryRepository interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]string, error)
	Append(ctx context.Context, entry *models.PasswordHistoryEntry, keep int) error
}

// PasswordHasher hashes and compares passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) bool
}

// PolicyResult is the outcome of validating a candidate password
type PolicyResult struct {
	OK     bool
	Reused bool
	Errors []string
}

// Err returns the result as a *models.PasswordPolicyError, or nil when OK
func (r PolicyResult) Err() error {
	if r.OK {
		return nil
	}
	return &models.PasswordPolicyError{Reasons: r.Errors, Reused: r.Reused}
}

// PasswordPolicyService enforces strength and non-reuse of passwords
type PasswordPolicyService struct {
	history     PasswordHistoryRepository
	users       UserReader
	hasher      PasswordHasher
	historySize int
	logger      *slog.Logger
	now         func() time.Time
}

// UserReader loads a user by ID
type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

func NewPasswordPolicyService(
	history PasswordHistoryRepository,
	users UserReader,
	hasher PasswordHasher,
	historySize int,
	logger *slog.Logger,
) *PasswordPolicyService {
	return &PasswordPolicyService{
		history:     history,
		users:       users,
		hasher:      hasher,
		historySize: historySize,
		logger:      logger,
		now:         time.Now,
	}
}

// HistorySize is how many previous hashes a credential update keeps
func (s *PasswordPolicyService) HistorySize() int {
	return s.historySize
}

// CheckHistory reports whether candidate matches any of the user's last
// historySize passwords.
func (s *PasswordPolicyService) CheckHistory(ctx context.Context, userID, candidate string) (bool, error) {
	hashes, err := s.history.ListRecent(ctx, userID, s.historySize)
	if err != nil {
		return false, storageErr("list password history", err)
	}

	for _, h := range hashes {
		if s.hasher.Compare(h, candidate) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateForChange applies the strength rules and, if they pass, the
// history rules (including the user's current password).
func (s *PasswordPolicyService) ValidateForChange(ctx context.Context, userID, candidate string) (PolicyResult, error) {
	if reasons := pkgauth.ValidatePassword(candidate); len(reasons) > 0 {
		return PolicyResult{Errors: reasons}, nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return PolicyResult{}, storageErr("load user for password policy", err)
	}
	reused := s.hasher.Compare(user.PasswordHash, candidate)

	if !reused {
		reused, err = s.CheckHistory(ctx, userID, candidate)
		if err != nil {
			return PolicyResult{}, err
		}
	}

	if reused {
		return PolicyResult{
			Reused: true,
			Errors: []string{fmt.Sprintf("must not match your current password or any of your last %d passwords", s.historySize)},
		}, nil
	}

	return PolicyResult{OK: true, Errors: []string{}}, nil
}

// RecordHistory stores oldHash, the hash being replaced, and prunes the
// user's history to the newest historySize entries. Password updates through
// the credential store record history in their own transaction; this is for
// hashes replaced by other means, such as an imported account.
func (s *PasswordPolicyService) RecordHistory(ctx context.Context, userID, oldHash string) error {
	if oldHash == "" {
		return nil
	}

	entry := &models.PasswordHistoryEntry{
		UserID:       userID,
		PasswordHash: oldHash,
		CreatedAt:    s.now(),
	}
	if err := s.history.Append(ctx, entry, s.historySize); err != nil {
		s.logger.Error("failed to record password history",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return storageErr("append password history", err)
	}
	return nil
}
