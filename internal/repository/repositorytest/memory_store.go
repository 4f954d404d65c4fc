// Package repositorytest provee un CredentialStore en memoria para tests de
// servicios y handlers.
package repositorytest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/repository"
)

type oneTimeToken struct {
	userID    string
	expiresAt time.Time
}

// MemoryStore respeta las mismas garantias que PgCredentialStore: unicidad
// de email, tokens de un solo uso y reemplazo atomico de sesiones.
type MemoryStore struct {
	mu sync.Mutex

	users         map[string]domain.User
	emails        map[string]string
	secrets       map[string]domain.Secret
	verifications map[string]oneTimeToken
	resets        map[string]oneTimeToken
	sessions      map[string]domain.Session

	// Now puede reemplazarse para simular vencimientos.
	Now func() time.Time
	// Err, si no es nil, se devuelve en cada operacion.
	Err error
	// FailSecretInsert simula una falla al crear el secret despues del usuario.
	FailSecretInsert bool
}

var _ repository.CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		emails:        make(map[string]string),
		secrets:       make(map[string]domain.Secret),
		verifications: make(map[string]oneTimeToken),
		resets:        make(map[string]oneTimeToken),
		sessions:      make(map[string]domain.Session),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Counts devuelve cuantos usuarios y secrets existen.
func (m *MemoryStore) Counts() (users, secrets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), len(m.secrets)
}

// SessionCount devuelve cuantas sesiones tiene un usuario.
func (m *MemoryStore) SessionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// ExpireVerificationTokens mueve al pasado el vencimiento de todos los tokens de verificacion.
func (m *MemoryStore) ExpireVerificationTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.verifications {
		v.expiresAt = m.Now().Add(-time.Minute)
		m.verifications[k] = v
	}
}

// ExpirePasswordResets hace lo mismo para los tokens de reset.
func (m *MemoryStore) ExpirePasswordResets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.resets {
		v.expiresAt = m.Now().Add(-time.Minute)
		m.resets[k] = v
	}
}

// ExpireSessions vence todas las sesiones.
func (m *MemoryStore) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.sessions {
		v.ExpiresAt = m.Now().Add(-time.Minute)
		m.sessions[k] = v
	}
}

func (m *MemoryStore) newUserLocked(username, email, passwordHash string) (domain.User, error) {
	if _, exists := m.emails[email]; exists {
		return domain.User{}, fmt.Errorf("create user: %w", domain.ErrConflict)
	}
	now := m.Now()
	return domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       domain.UserStatusUnverified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, username, email, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	user, err := m.newUserLocked(username, email, passwordHash)
	if err != nil {
		return domain.User{}, err
	}
	m.users[user.ID] = user
	m.emails[email] = user.ID
	return user, nil
}

func (m *MemoryStore) CreateUserWithSecret(_ context.Context, username, email, passwordHash string) (domain.User, domain.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, domain.Secret{}, m.Err
	}
	user, err := m.newUserLocked(username, email, passwordHash)
	if err != nil {
		return domain.User{}, domain.Secret{}, err
	}
	if m.FailSecretInsert {
		return domain.User{}, domain.Secret{}, fmt.Errorf("create user with secret: %w", domain.ErrInternal)
	}
	secret := domain.Secret{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		KeyMaterial: randomBytes(32),
		CreatedAt:   user.CreatedAt,
	}
	m.users[user.ID] = user
	m.emails[email] = user.ID
	m.secrets[user.ID] = secret
	return user, secret, nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, fmt.Errorf("find user by email: %w", domain.ErrNotFound)
	}
	return m.users[id], nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("find user by id: %w", domain.ErrNotFound)
	}
	return user, nil
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("touch last login: %w", domain.ErrNotFound)
	}
	at = at.UTC()
	user.LastLogin = &at
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("update password hash: %w", domain.ErrNotFound)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = m.Now()
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) UpdateUsername(_ context.Context, userID, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, fmt.Errorf("update username: %w", domain.ErrNotFound)
	}
	user.Username = username
	user.UpdatedAt = m.Now()
	m.users[userID] = user
	return user, nil
}

func (m *MemoryStore) GetSecretForUser(_ context.Context, userID string) (domain.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Secret{}, m.Err
	}
	secret, ok := m.secrets[userID]
	if !ok {
		return domain.Secret{}, fmt.Errorf("get secret: %w", domain.ErrNotFound)
	}
	return secret, nil
}

func (m *MemoryStore) RotateSecret(_ context.Context, userID string) (domain.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Secret{}, m.Err
	}
	secret, ok := m.secrets[userID]
	if !ok {
		return domain.Secret{}, fmt.Errorf("rotate secret: %w", domain.ErrNotFound)
	}
	secret.KeyMaterial = randomBytes(32)
	secret.CreatedAt = m.Now()
	m.secrets[userID] = secret
	return secret, nil
}

func (m *MemoryStore) CreateVerificationToken(_ context.Context, userID string) (domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.VerificationToken{}, m.Err
	}
	token := randomToken()
	expiresAt := m.Now().Add(24 * time.Hour)
	m.verifications[token] = oneTimeToken{userID: userID, expiresAt: expiresAt}
	return domain.VerificationToken{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (m *MemoryStore) RedeemVerificationToken(_ context.Context, token string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	entry, ok := m.verifications[token]
	if !ok {
		return domain.User{}, fmt.Errorf("redeem verification token: %w", domain.ErrNotFound)
	}
	delete(m.verifications, token)
	if !m.Now().Before(entry.expiresAt) {
		return domain.User{}, fmt.Errorf("redeem verification token: %w", domain.ErrExpired)
	}
	user := m.users[entry.userID]
	user.Status = domain.UserStatusActive
	user.UpdatedAt = m.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *MemoryStore) CreatePasswordResetToken(_ context.Context, userID string) (domain.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.PasswordResetToken{}, m.Err
	}
	token := randomToken()
	expiresAt := m.Now().Add(24 * time.Hour)
	m.resets[token] = oneTimeToken{userID: userID, expiresAt: expiresAt}
	return domain.PasswordResetToken{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (m *MemoryStore) RedeemPasswordResetToken(_ context.Context, token, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.User{}, m.Err
	}
	entry, ok := m.resets[token]
	if !ok {
		return domain.User{}, fmt.Errorf("redeem password reset token: %w", domain.ErrNotFound)
	}
	delete(m.resets, token)
	if !m.Now().Before(entry.expiresAt) {
		return domain.User{}, fmt.Errorf("redeem password reset token: %w", domain.ErrExpired)
	}
	secret, ok := m.secrets[entry.userID]
	if !ok {
		m.resets[token] = entry
		return domain.User{}, fmt.Errorf("redeem password reset token: %w", domain.ErrInternal)
	}
	now := m.Now()
	user := m.users[entry.userID]
	user.PasswordHash = passwordHash
	user.UpdatedAt = now
	m.users[user.ID] = user
	secret.KeyMaterial = randomBytes(32)
	secret.CreatedAt = now
	m.secrets[user.ID] = secret
	for refresh, session := range m.sessions {
		if session.UserID == user.ID {
			delete(m.sessions, refresh)
		}
	}
	return user, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, userID, refreshToken string, expiresAt time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Session{}, m.Err
	}
	if _, exists := m.sessions[refreshToken]; exists {
		return domain.Session{}, fmt.Errorf("create session: %w", domain.ErrConflict)
	}
	session := domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    m.Now(),
	}
	m.sessions[refreshToken] = session
	return session, nil
}

func (m *MemoryStore) FindSessionByRefreshToken(_ context.Context, refreshToken string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Session{}, m.Err
	}
	session, ok := m.sessions[refreshToken]
	if !ok {
		return domain.Session{}, fmt.Errorf("find session: %w", domain.ErrNotFound)
	}
	return session, nil
}

func (m *MemoryStore) ReplaceSession(_ context.Context, oldRefreshToken, newRefreshToken string, expiresAt time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Session{}, m.Err
	}
	old, ok := m.sessions[oldRefreshToken]
	if !ok {
		return domain.Session{}, fmt.Errorf("replace session: %w", domain.ErrNotFound)
	}
	delete(m.sessions, oldRefreshToken)
	session := domain.Session{
		ID:           uuid.NewString(),
		UserID:       old.UserID,
		RefreshToken: newRefreshToken,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    m.Now(),
	}
	m.sessions[newRefreshToken] = session
	return session, nil
}

func (m *MemoryStore) RevokeSession(_ context.Context, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.sessions, refreshToken)
	return nil
}

func (m *MemoryStore) RevokeUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for k, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, k)
		}
	}
	return nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (domain.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.PurgeResult{}, m.Err
	}
	var res domain.PurgeResult
	for k, v := range m.verifications {
		if !now.Before(v.expiresAt) {
			delete(m.verifications, k)
			res.VerificationTokens++
		}
	}
	for k, v := range m.resets {
		if !now.Before(v.expiresAt) {
			delete(m.resets, k)
			res.PasswordResets++
		}
	}
	for k, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, k)
			res.Sessions++
		}
	}
	return res, nil
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}

func randomToken() string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(32))
}
