package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"keyed-auth/internal/domain"
)

// CredentialStore define el contrato de persistencia de usuarios, secrets,
// tokens de un solo uso y sesiones. Cada operacion es atomica.
type CredentialStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (domain.User, error)
	CreateUserWithSecret(ctx context.Context, username, email, passwordHash string) (domain.User, domain.Secret, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	FindUserByID(ctx context.Context, id string) (domain.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	UpdateUsername(ctx context.Context, userID, username string) (domain.User, error)

	GetSecretForUser(ctx context.Context, userID string) (domain.Secret, error)
	RotateSecret(ctx context.Context, userID string) (domain.Secret, error)

	CreateVerificationToken(ctx context.Context, userID string) (domain.VerificationToken, error)
	RedeemVerificationToken(ctx context.Context, token string) (domain.User, error)
	CreatePasswordResetToken(ctx context.Context, userID string) (domain.PasswordResetToken, error)
	RedeemPasswordResetToken(ctx context.Context, token, passwordHash string) (domain.User, error)

	CreateSession(ctx context.Context, userID, refreshToken string, expiresAt time.Time) (domain.Session, error)
	FindSessionByRefreshToken(ctx context.Context, refreshToken string) (domain.Session, error)
	ReplaceSession(ctx context.Context, oldRefreshToken, newRefreshToken string, expiresAt time.Time) (domain.Session, error)
	RevokeSession(ctx context.Context, refreshToken string) error
	RevokeUserSessions(ctx context.Context, userID string) error

	PurgeExpired(ctx context.Context, now time.Time) (domain.PurgeResult, error)
}

const (
	verificationTokenTTL = 24 * time.Hour
	passwordResetTTL     = 24 * time.Hour
)

// querier lo satisfacen tanto *pgxpool.Pool como pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool es lo que PgCredentialStore necesita de *pgxpool.Pool.
type Pool interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PgCredentialStore implementa CredentialStore usando pgxpool.
type PgCredentialStore struct {
	pool Pool
	now  func() time.Time
}

func NewPgCredentialStore(pool Pool) *PgCredentialStore {
	return &PgCredentialStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ CredentialStore = (*PgCredentialStore)(nil)
