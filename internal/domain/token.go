package domain

import "time"

// VerificationToken prueba el control del email registrado. Se consume una sola vez.
type VerificationToken struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordResetToken tiene el mismo ciclo de vida que VerificationToken,
// en su propia tabla.
type PasswordResetToken struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PurgeResult resume cuantas filas vencidas se eliminaron.
type PurgeResult struct {
	VerificationTokens int64
	PasswordResets     int64
	Sessions           int64
}
