package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"keyed-auth/internal/db"
	"keyed-auth/internal/domain"
)

// Las tablas de tokens de un solo uso comparten forma; solo cambia el nombre.
const (
	verificationTable  = "verification_tokens"
	passwordResetTable = "password_resets"
)

func (r *PgCredentialStore) createOneTimeToken(ctx context.Context, table, userID string, ttl time.Duration) (string, time.Time, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w: %v", domain.ErrInternal, err)
	}
	expiresAt := r.now().Add(ttl)
	query := `INSERT INTO ` + table + ` (token, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := r.pool.Exec(ctx, query, digest(token), userID, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// consumeOneTimeToken borra el token dentro de tx y devuelve su dueño.
// El borrado ocurre aunque el token este vencido; expired lo indica.
func (r *PgCredentialStore) consumeOneTimeToken(ctx context.Context, tx pgx.Tx, table, token string) (userID string, expired bool, err error) {
	query := `DELETE FROM ` + table + ` WHERE token = $1 RETURNING user_id, expires_at`
	var expiresAt time.Time
	if err := tx.QueryRow(ctx, query, digest(token)).Scan(&userID, &expiresAt); err != nil {
		return "", false, err
	}
	return userID, !r.now().Before(expiresAt), nil
}

func (r *PgCredentialStore) CreateVerificationToken(ctx context.Context, userID string) (domain.VerificationToken, error) {
	token, expiresAt, err := r.createOneTimeToken(ctx, verificationTable, userID, verificationTokenTTL)
	if err != nil {
		return domain.VerificationToken{}, classify("create verification token", err)
	}
	return domain.VerificationToken{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

// RedeemVerificationToken consume el token y activa al usuario en la misma
// transaccion. Un segundo canje devuelve ErrNotFound.
func (r *PgCredentialStore) RedeemVerificationToken(ctx context.Context, token string) (domain.User, error) {
	var (
		user    domain.User
		expired bool
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		userID, isExpired, err := r.consumeOneTimeToken(ctx, tx, verificationTable, token)
		if err != nil {
			return err
		}
		if isExpired {
			expired = true
			return nil
		}
		query := `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
		user, err = scanUser(tx.QueryRow(ctx, query, userID, string(domain.UserStatusActive), r.now()))
		return err
	})
	if err != nil {
		return domain.User{}, classify("redeem verification token", err)
	}
	if expired {
		return domain.User{}, fmt.Errorf("redeem verification token: %w", domain.ErrExpired)
	}
	return user, nil
}

func (r *PgCredentialStore) CreatePasswordResetToken(ctx context.Context, userID string) (domain.PasswordResetToken, error) {
	token, expiresAt, err := r.createOneTimeToken(ctx, passwordResetTable, userID, passwordResetTTL)
	if err != nil {
		return domain.PasswordResetToken{}, classify("create password reset token", err)
	}
	return domain.PasswordResetToken{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

// RedeemPasswordResetToken consume el token, guarda passwordHash, rota la
// clave del usuario y borra sus sesiones en una sola transaccion. Si algun
// paso falla el token sigue disponible.
func (r *PgCredentialStore) RedeemPasswordResetToken(ctx context.Context, token, passwordHash string) (domain.User, error) {
	var (
		user    domain.User
		expired bool
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		userID, isExpired, err := r.consumeOneTimeToken(ctx, tx, passwordResetTable, token)
		if err != nil {
			return err
		}
		if isExpired {
			expired = true
			return nil
		}
		now := r.now()
		query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
		user, err = scanUser(tx.QueryRow(ctx, query, userID, passwordHash, now))
		if err != nil {
			return err
		}

		key, err := newKeyMaterial()
		if err != nil {
			return fmt.Errorf("generate key material: %w: %v", domain.ErrInternal, err)
		}
		tag, err := tx.Exec(ctx, `UPDATE secrets SET key_material = $2, created_at = $3 WHERE user_id = $1`, userID, key, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("rotate secret: user %s has no secret: %w", userID, domain.ErrInternal)
		}

		_, err = tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
		return err
	})
	if err != nil {
		return domain.User{}, classify("redeem password reset token", err)
	}
	if expired {
		return domain.User{}, fmt.Errorf("redeem password reset token: %w", domain.ErrExpired)
	}
	return user, nil
}

// PurgeExpired elimina tokens y sesiones vencidas.
func (r *PgCredentialStore) PurgeExpired(ctx context.Context, now time.Time) (domain.PurgeResult, error) {
	var res domain.PurgeResult
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= $1`, now)
		if err != nil {
			return err
		}
		res.VerificationTokens = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
		if err != nil {
			return err
		}
		res.PasswordResets = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
		if err != nil {
			return err
		}
		res.Sessions = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return domain.PurgeResult{}, classify("purge expired", err)
	}
	return res, nil
}
