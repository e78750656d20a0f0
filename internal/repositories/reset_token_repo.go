package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/models"
)

// ResetTokenRepository handles password reset token data access
type ResetTokenRepository struct {
	db database.DBTX
}

// NewResetTokenRepository creates a new ResetTokenRepository
func NewResetTokenRepository(db database.DBTX) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// Issue marks every unused token for the user as used and stores the new one,
// atomically, so at most one token per user is ever live.
func (r *ResetTokenRepository) Issue(ctx context.Context, token *models.PasswordResetToken) error {
	token.ID = uuid.New().String()

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET used = TRUE WHERE user_id = $1 AND used = FALSE`,
			token.UserID,
		); err != nil {
			return database.MapPostgresError(err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used, created_at)
			VALUES ($1, $2, $3, $4, FALSE, $5)
		`, token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return oops.Code("RESET_TOKEN_ISSUE_FAILED").With("user_id", token.UserID).Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by its hash
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	token, err := scanResetTokenRow(r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash))
	if err != nil {
		return nil, oops.Code("RESET_TOKEN_GET_FAILED").Wrap(err)
	}
	return token, nil
}

// MarkUsed claims the token. Only the first caller succeeds; later callers
// get ErrUsed.
func (r *ResetTokenRepository) MarkUsed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE password_reset_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`, id,
	)
	if err != nil {
		return oops.Code("RESET_TOKEN_MARK_USED_FAILED").Wrap(database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_TOKEN_ALREADY_USED").With("token_id", id).Wrap(models.ErrUsed)
	}
	return nil
}

// DeleteExpired removes tokens past expiry, used or not
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_TOKEN_CLEANUP_FAILED").Wrap(database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
