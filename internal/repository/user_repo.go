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

const userColumns = `id, username, email, password_hash, status, created_at, updated_at, last_login`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u      domain.User
		status string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&status,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLogin,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

func (r *PgCredentialStore) newUser(username, email, passwordHash string) domain.User {
	now := r.now()
	return domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       domain.UserStatusUnverified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func insertUser(ctx context.Context, q querier, user domain.User) error {
	const query = `
		INSERT INTO users (id, username, email, password_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

func insertSecret(ctx context.Context, q querier, secret domain.Secret) error {
	const query = `
		INSERT INTO secrets (id, user_id, key_material, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := q.Exec(ctx, query, secret.ID, secret.UserID, secret.KeyMaterial, secret.CreatedAt)
	return err
}

// CreateUser inserta solo el usuario. Sin Secret no puede recibir tokens;
// el flujo de registro usa CreateUserWithSecret.
func (r *PgCredentialStore) CreateUser(ctx context.Context, username, email, passwordHash string) (domain.User, error) {
	user := r.newUser(username, email, passwordHash)
	if err := insertUser(ctx, r.pool, user); err != nil {
		return domain.User{}, classify("create user", err)
	}
	return user, nil
}

// CreateUserWithSecret crea usuario y secret en una sola transaccion.
// Si cualquiera de los dos inserts falla no queda ninguna fila.
func (r *PgCredentialStore) CreateUserWithSecret(ctx context.Context, username, email, passwordHash string) (domain.User, domain.Secret, error) {
	user := r.newUser(username, email, passwordHash)
	key, err := newKeyMaterial()
	if err != nil {
		return domain.User{}, domain.Secret{}, fmt.Errorf("generate key material: %w: %v", domain.ErrInternal, err)
	}
	secret := domain.Secret{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		KeyMaterial: key,
		CreatedAt:   user.CreatedAt,
	}

	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		return insertSecret(ctx, tx, secret)
	})
	if err != nil {
		return domain.User{}, domain.Secret{}, classify("create user with secret", err)
	}
	return user, secret, nil
}

func (r *PgCredentialStore) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		return domain.User{}, classify("find user by email", err)
	}
	return user, nil
}

func (r *PgCredentialStore) FindUserByID(ctx context.Context, id string) (domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.User{}, fmt.Errorf("find user by id: %w", domain.ErrNotFound)
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.User{}, classify("find user by id", err)
	}
	return user, nil
}

func (r *PgCredentialStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at.UTC())
	if err != nil {
		return classify("touch last login", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch last login: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PgCredentialStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, passwordHash, r.now())
	if err != nil {
		return classify("update password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password hash: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PgCredentialStore) UpdateUsername(ctx context.Context, userID, username string) (domain.User, error) {
	query := `UPDATE users SET username = $2, updated_at = $3 WHERE id = $1 RETURNING ` + userColumns
	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, username, r.now()))
	if err != nil {
		return domain.User{}, classify("update username", err)
	}
	return user, nil
}

func (r *PgCredentialStore) GetSecretForUser(ctx context.Context, userID string) (domain.Secret, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return domain.Secret{}, fmt.Errorf("get secret: %w", domain.ErrNotFound)
	}
	const query = `SELECT id, user_id, key_material, created_at FROM secrets WHERE user_id = $1`
	var s domain.Secret
	err := r.pool.QueryRow(ctx, query, userID).Scan(&s.ID, &s.UserID, &s.KeyMaterial, &s.CreatedAt)
	if err != nil {
		return domain.Secret{}, classify("get secret", err)
	}
	return s, nil
}

// RotateSecret reemplaza la clave del usuario. Todo token firmado con la
// clave anterior deja de verificar.
func (r *PgCredentialStore) RotateSecret(ctx context.Context, userID string) (domain.Secret, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return domain.Secret{}, fmt.Errorf("rotate secret: %w", domain.ErrNotFound)
	}
	key, err := newKeyMaterial()
	if err != nil {
		return domain.Secret{}, fmt.Errorf("generate key material: %w: %v", domain.ErrInternal, err)
	}
	s := domain.Secret{UserID: userID, KeyMaterial: key, CreatedAt: r.now()}
	const query = `UPDATE secrets SET key_material = $2, created_at = $3 WHERE user_id = $1 RETURNING id`
	if err := r.pool.QueryRow(ctx, query, userID, key, s.CreatedAt).Scan(&s.ID); err != nil {
		return domain.Secret{}, classify("rotate secret", err)
	}
	return s, nil
}
