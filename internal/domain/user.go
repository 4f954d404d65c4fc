package domain

import "time"

// UserStatus refleja el estado de verificacion de la cuenta.
type UserStatus string

const (
	UserStatusUnverified UserStatus = "unverified"
	UserStatusActive     UserStatus = "active"
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// IsActive indica si el email ya fue verificado.
func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Secret es la clave simetrica de firma propia de cada usuario.
// Nunca se serializa hacia afuera del store.
type Secret struct {
	ID          string    `json:"-"`
	UserID      string    `json:"-"`
	KeyMaterial []byte    `json:"-"`
	CreatedAt   time.Time `json:"-"`
}
