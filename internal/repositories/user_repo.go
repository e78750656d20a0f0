package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/BradenHooton/sessionguard/internal/database"
	"github.com/BradenHooton/sessionguard/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, failed_login_attempts, locked_until, created_at, updated_at`

type UserRepository struct {
	db database.DBTX
}

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.Role,
		&user.FailedLoginAttempts, &lockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.LockedUntil = lockedUntil
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUserRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").With("user_id", id).Wrap(err)
	}
	return user, nil
}

// Create inserts a user. The email is stored lower-cased; a taken email is ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		err = database.MapPostgresError(err)
		if errors.Is(err, models.ErrDuplicateToken) {
			err = models.ErrConflict
		}
		return oops.Code("USER_CREATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return nil
}

// GetByEmail matches case-insensitively; emails are compared in lower case everywhere
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUserRow(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").Wrap(err)
	}
	return user, nil
}

// UpdatePassword stores a new hash and lifts any lockout. The hash it replaces
// is appended to the password history, pruned to keepHistory entries, in the
// same transaction and under the same row lock as the write.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, newHash string, keepHistory int) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var previous string
		err := tx.QueryRow(ctx,
			`SELECT password_hash FROM users WHERE id = $1 FOR UPDATE`, userID,
		).Scan(&previous)
		if err != nil {
			return database.MapPostgresError(err)
		}

		if previous != "" && keepHistory > 0 {
			entry := &models.PasswordHistoryEntry{
				UserID:       userID,
				PasswordHash: previous,
				CreatedAt:    time.Now().UTC(),
			}
			if err := appendHistory(ctx, tx, entry, keepHistory); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE users
			SET password_hash = $2, failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, userID, newHash)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// UpdateLockoutState loads the lockout fields with the row locked, lets fn
// mutate them and writes back any change before the lock is released. Two
// concurrent callers for one user are serialised by the row lock.
func (r *UserRepository) UpdateLockoutState(ctx context.Context, userID string, fn func(*models.LockoutState) error) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		state := models.LockoutState{UserID: userID}
		err := tx.QueryRow(ctx,
			`SELECT failed_login_attempts, locked_until FROM users WHERE id = $1 FOR UPDATE`, userID,
		).Scan(&state.FailedLoginAttempts, &state.LockedUntil)
		if err != nil {
			return database.MapPostgresError(err)
		}

		before := state
		if err := fn(&state); err != nil {
			return err
		}
		if state.FailedLoginAttempts == before.FailedLoginAttempts && sameInstant(state.LockedUntil, before.LockedUntil) {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
			WHERE id = $1
		`, userID, state.FailedLoginAttempts, state.LockedUntil)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return oops.Code("USER_LOCKOUT_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
