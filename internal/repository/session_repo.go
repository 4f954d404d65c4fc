package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"keyed-auth/internal/db"
	"keyed-auth/internal/domain"
)

func (r *PgCredentialStore) CreateSession(ctx context.Context, userID, refreshToken string, expiresAt time.Time) (domain.Session, error) {
	session := domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    r.now(),
	}
	if err := insertSession(ctx, r.pool, session); err != nil {
		return domain.Session{}, classify("create session", err)
	}
	return session, nil
}

func insertSession(ctx context.Context, q querier, session domain.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, refresh_token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.Exec(ctx, query,
		session.ID,
		session.UserID,
		digest(session.RefreshToken),
		session.ExpiresAt,
		session.CreatedAt,
	)
	return err
}

func (r *PgCredentialStore) FindSessionByRefreshToken(ctx context.Context, refreshToken string) (domain.Session, error) {
	const query = `
		SELECT id, user_id, expires_at, created_at
		FROM sessions
		WHERE refresh_token = $1
	`
	session := domain.Session{RefreshToken: refreshToken}
	err := r.pool.QueryRow(ctx, query, digest(refreshToken)).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		return domain.Session{}, classify("find session", err)
	}
	return session, nil
}

// ReplaceSession borra la sesion del refresh token anterior e inserta la nueva
// en una transaccion. Si la anterior ya no existe devuelve ErrNotFound.
func (r *PgCredentialStore) ReplaceSession(ctx context.Context, oldRefreshToken, newRefreshToken string, expiresAt time.Time) (domain.Session, error) {
	var session domain.Session
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var userID string
		const del = `DELETE FROM sessions WHERE refresh_token = $1 RETURNING user_id`
		if err := tx.QueryRow(ctx, del, digest(oldRefreshToken)).Scan(&userID); err != nil {
			return err
		}
		session = domain.Session{
			ID:           uuid.NewString(),
			UserID:       userID,
			RefreshToken: newRefreshToken,
			ExpiresAt:    expiresAt.UTC(),
			CreatedAt:    r.now(),
		}
		return insertSession(ctx, tx, session)
	})
	if err != nil {
		return domain.Session{}, classify("replace session", err)
	}
	return session, nil
}

func (r *PgCredentialStore) RevokeSession(ctx context.Context, refreshToken string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE refresh_token = $1`, digest(refreshToken)); err != nil {
		return classify("revoke session", err)
	}
	return nil
}

func (r *PgCredentialStore) RevokeUserSessions(ctx context.Context, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", domain.ErrNotFound)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return classify("revoke user sessions", err)
	}
	return nil
}
