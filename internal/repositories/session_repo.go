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

// SessionRepository persists sessions keyed by the SHA-256 of their token
type SessionRepository struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(row rowScanner) (*models.Session, error) {
	var s models.Session
	var u models.PublicUser

	err := row.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt,
		&u.Email, &u.FirstName, &u.LastName, &u.Role,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	u.ID = s.UserID
	s.User = &u
	return &s, nil
}

// Create inserts the session. When replaceSameAgent is set, sessions for the
// same (user, user agent) pair are deleted first in the same transaction so
// there is never a window with neither or both. The owning user row is locked
// for the transaction so concurrent logins for one user replace in turn.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session, replaceSameAgent bool) error {
	session.ID = uuid.New().String()

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if replaceSameAgent {
			var owner string
			if err := tx.QueryRow(ctx,
				`SELECT id FROM users WHERE id = $1 FOR UPDATE`, session.UserID,
			).Scan(&owner); err != nil {
				return database.MapPostgresError(err)
			}

			if _, err := tx.Exec(ctx,
				`DELETE FROM sessions WHERE user_id = $1 AND user_agent = $2`,
				session.UserID, session.UserAgent,
			); err != nil {
				return database.MapPostgresError(err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, user_id, token_hash, user_agent, ip_address, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			session.ID, session.UserID, session.TokenHash, session.UserAgent,
			session.IPAddress, session.ExpiresAt, session.CreatedAt,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash returns the session joined with its owner's public projection
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.token_hash, s.user_agent, s.ip_address, s.expires_at, s.created_at,
		       u.email, u.first_name, u.last_name, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
	`, tokenHash)

	session, err := scanSessionRow(row)
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// UpdateExpiry moves expires_at for a session. ErrNotFound if it is gone.
func (r *SessionRepository) UpdateExpiry(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET expires_at = $2 WHERE token_hash = $1`,
		tokenHash, expiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_REFRESH_FAILED").Wrap(database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(models.ErrNotFound)
	}
	return nil
}

// DeleteByTokenHash removes one session. Deleting a missing session is not an error.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(database.MapPostgresError(err))
	}
	return nil
}

// DeleteByUser removes every session for the user, or only those for
// userAgent when it is non-empty.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID, userAgent string) (int64, error) {
	var (
		query = `DELETE FROM sessions WHERE user_id = $1`
		args  = []any{userID}
	)
	if userAgent != "" {
		query += ` AND user_agent = $2`
		args = append(args, userAgent)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("user_id", userID).
			Wrap(database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes all sessions that expired before now
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_CLEANUP_FAILED").Wrap(database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
