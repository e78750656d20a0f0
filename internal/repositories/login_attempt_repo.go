package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/models"
)

// LoginAttemptRepository handles the append-only login audit log
type LoginAttemptRepository struct {
	db database.DBTX
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db database.DBTX) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Create appends a login attempt
func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *models.LoginAttempt) error {
	attempt.ID = uuid.New().String()

	_, err := r.db.Exec(ctx, `
		INSERT INTO login_attempts (id, email, user_id, successful, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		attempt.ID,
		attempt.Email,
		attempt.UserID,
		attempt.Successful,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.CreatedAt,
	)
	if err != nil {
		return oops.Code("LOGIN_ATTEMPT_CREATE_FAILED").Wrap(database.MapPostgresError(err))
	}
	return nil
}

// CountFailuresSince returns how many failed attempts were made for email at or after since
func (r *LoginAttemptRepository) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND successful = false AND created_at >= $2
	`, email, since).Scan(&count)
	if err != nil {
		return 0, oops.Code("LOGIN_ATTEMPT_COUNT_FAILED").Wrap(database.MapPostgresError(err))
	}
	return count, nil
}

// DeleteOlderThan removes attempts created before cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("LOGIN_ATTEMPT_CLEANUP_FAILED").Wrap(database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
