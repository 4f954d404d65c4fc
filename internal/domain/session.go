package domain

import "time"

// Session representa un refresh token emitido en login.
// RefreshToken solo contiene el texto plano al momento de emitirse;
// el store persiste su digest.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reporta si la sesion ya no puede usarse para refrescar.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
