package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/models"
)

type PasswordHistoryRepository struct {
	db database.DBTX
}

func NewPasswordHistoryRepository(db database.DBTX) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

// ListRecent returns up to limit hashes for the user, newest first
func (r *PasswordHistoryRepository) ListRecent(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT password_hash FROM password_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_LIST_FAILED").
			With("user_id", userID).
			Wrap(database.MapPostgresError(err))
	}
	defer rows.Close()

	hashes := make([]string, 0, limit)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, oops.Code("PASSWORD_HISTORY_SCAN_FAILED").Wrap(err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PASSWORD_HISTORY_ROWS_ERROR").Wrap(err)
	}

	return hashes, nil
}

// Append stores entry and prunes the user's history to the newest keep rows
func (r *PasswordHistoryRepository) Append(ctx context.Context, entry *models.PasswordHistoryEntry, keep int) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return appendHistory(ctx, tx, entry, keep)
	})
	if err != nil {
		return oops.Code("PASSWORD_HISTORY_APPEND_FAILED").With("user_id", entry.UserID).Wrap(err)
	}
	return nil
}

// appendHistory runs inside the caller's transaction so a password write and
// its history entry commit or roll back together.
func appendHistory(ctx context.Context, tx pgx.Tx, entry *models.PasswordHistoryEntry, keep int) error {
	entry.ID = uuid.New().String()

	if _, err := tx.Exec(ctx, `
		INSERT INTO password_history (id, user_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.UserID, entry.PasswordHash, entry.CreatedAt); err != nil {
		return database.MapPostgresError(err)
	}

	_, err := tx.Exec(ctx, `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, entry.UserID, keep)
	return database.MapPostgresError(err)
}
