package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/email"
	"keyed-auth/internal/repository"
)

var (
	// ErrInvalidCredentials cubre email desconocido y password incorrecto por igual.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	// ErrInvalidToken cubre bearer y refresh tokens rechazados.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)
)

const dummyPassword = "keyed-auth-timing-guard"

// Identity es la vista publica de un usuario recien registrado.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TokenPair es lo que recibe el cliente al hacer login o refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthService coordina registro, login, verificacion de tokens y sesiones.
// No guarda estado persistente: todo vive en el CredentialStore.
type AuthService struct {
	logger     *zap.Logger
	store      repository.CredentialStore
	tokens     *TokenService
	hasher     PasswordHasher
	notifier   email.Sender
	principals PrincipalCache
	now        func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

func NewAuthService(
	logger *zap.Logger,
	store repository.CredentialStore,
	tokens *TokenService,
	hasher PasswordHasher,
	notifier email.Sender,
	principals PrincipalCache,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = NewTokenService("", 0, 0)
	}
	if hasher == nil {
		hasher = NewBcryptHasher(bcrypt.DefaultCost, 0)
	}
	if notifier == nil {
		notifier = email.NewDisabledSender("")
	}
	if principals == nil {
		principals = NewMemoryPrincipalCache(0)
	}
	return &AuthService{
		logger:     logger,
		store:      store,
		tokens:     tokens,
		hasher:     hasher,
		notifier:   notifier,
		principals: principals,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register crea el usuario junto con su secret y dispara el email de verificacion.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (Identity, error) {
	username := strings.TrimSpace(input.Username)
	emailAddr := normalizeEmail(input.Email)
	if username == "" || emailAddr == "" || input.Password == "" {
		return Identity{}, fmt.Errorf("register: %w", domain.ErrValidation)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return Identity{}, err
	}

	user, _, err := s.store.CreateUserWithSecret(ctx, username, emailAddr, hash)
	if err != nil {
		return Identity{}, err
	}
	if err := s.principals.Remember(ctx, user.Email, user.ID); err != nil {
		s.logger.Warn("remember principal failed", zap.Error(err), zap.String("user_id", user.ID))
	}

	s.sendVerification(ctx, user)

	return Identity{ID: user.ID, Username: user.Username, Email: user.Email}, nil
}

// ResendVerification emite un nuevo token para cuentas sin verificar.
// Emails desconocidos o ya verificados no producen error.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return nil
	}
	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsActive() {
		return nil
	}
	s.sendVerification(ctx, user)
	return nil
}

func (s *AuthService) sendVerification(ctx context.Context, user domain.User) {
	token, err := s.store.CreateVerificationToken(ctx, user.ID)
	if err != nil {
		s.logger.Warn("create verification token failed", zap.Error(err), zap.String("user_id", user.ID))
		return
	}
	if err := s.notifier.SendVerificationToken(ctx, user.Email, token.Token, token.ExpiresAt); err != nil {
		s.logger.Warn("send verification token failed", zap.Error(err), zap.String("user_id", user.ID))
	}
}

// Login valida credenciales y abre una sesion nueva.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (TokenPair, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.compareDummy(ctx, password)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if err := s.hasher.Compare(ctx, user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}

	secret, err := s.store.GetSecretForUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("user without secret", zap.String("user_id", user.ID))
			return TokenPair{}, fmt.Errorf("login: secret missing: %w", domain.ErrInternal)
		}
		return TokenPair{}, err
	}

	pair, refreshExpiresAt, err := s.issuePair(user.ID, secret.KeyMaterial)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.CreateSession(ctx, user.ID, pair.RefreshToken, refreshExpiresAt); err != nil {
		return TokenPair{}, err
	}
	if err := s.store.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("touch last login failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	if err := s.principals.Remember(ctx, user.Email, user.ID); err != nil {
		s.logger.Warn("remember principal failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	return pair, nil
}

// compareDummy iguala el costo de un login con email desconocido.
func (s *AuthService) compareDummy(ctx context.Context, password string) {
	hash := s.dummyPasswordHash(ctx)
	if hash == "" {
		return
	}
	_ = s.hasher.Compare(ctx, hash, password)
}

// dummyPasswordHash calcula el hash de referencia una sola vez. La cancelacion
// del request no lo afecta; si falla se reintenta en la proxima llamada.
func (s *AuthService) dummyPasswordHash(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash
	}
	hash, err := s.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
	if err != nil {
		s.logger.Warn("dummy password hash failed", zap.Error(err))
		return ""
	}
	s.dummyHash = hash
	return hash
}

// Verify indica si token es un access token valido del usuario con ese email.
// Solo devuelve error si el store no esta disponible o falla internamente.
func (s *AuthService) Verify(ctx context.Context, token, emailAddr string) (bool, error) {
	token = strings.TrimSpace(token)
	emailAddr = normalizeEmail(emailAddr)
	if token == "" || emailAddr == "" {
		return false, nil
	}

	userID, err := s.resolvePrincipal(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	secret, err := s.store.GetSecretForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	claims, err := s.tokens.Verify(token, secret.KeyMaterial, TokenKindAccess)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err), zap.String("user_id", userID))
		return false, nil
	}
	return claims.Subject == userID, nil
}

func (s *AuthService) resolvePrincipal(ctx context.Context, emailAddr string) (string, error) {
	userID, ok, err := s.principals.Lookup(ctx, emailAddr)
	if err != nil {
		s.logger.Warn("principal cache lookup failed", zap.Error(err))
	}
	if ok {
		return userID, nil
	}
	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if err := s.principals.Remember(ctx, user.Email, user.ID); err != nil {
		s.logger.Warn("remember principal failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	return user.ID, nil
}

// Authenticate resuelve el usuario dueno de un access token.
func (s *AuthService) Authenticate(ctx context.Context, bearer string) (domain.User, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return domain.User{}, ErrInvalidToken
	}
	subject, err := s.tokens.PeekSubject(bearer)
	if err != nil {
		return domain.User{}, ErrInvalidToken
	}
	secret, err := s.store.GetSecretForUser(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	if _, err := s.tokens.Verify(bearer, secret.KeyMaterial, TokenKindAccess); err != nil {
		s.logger.Debug("bearer rejected", zap.Error(err), zap.String("user_id", subject))
		return domain.User{}, ErrInvalidToken
	}
	user, err := s.store.FindUserByID(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	return user, nil
}

// RedeemVerification consume el token y activa la cuenta.
func (s *AuthService) RedeemVerification(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, fmt.Errorf("redeem verification: %w", domain.ErrValidation)
	}
	user, err := s.store.RedeemVerificationToken(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("email verified", zap.String("user_id", user.ID))
	return user, nil
}

// Refresh cambia un refresh token vigente por un par nuevo. El token
// presentado queda inutilizable.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrInvalidToken
	}

	session, err := s.store.FindSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if session.Expired(s.now()) {
		if err := s.store.RevokeSession(ctx, refreshToken); err != nil {
			s.logger.Warn("revoke expired session failed", zap.Error(err), zap.String("session_id", session.ID))
		}
		return TokenPair{}, ErrInvalidToken
	}

	secret, err := s.store.GetSecretForUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	claims, err := s.tokens.Verify(refreshToken, secret.KeyMaterial, TokenKindRefresh)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.Error(err), zap.String("user_id", session.UserID))
		return TokenPair{}, ErrInvalidToken
	}
	if claims.Subject != session.UserID {
		return TokenPair{}, ErrInvalidToken
	}

	pair, refreshExpiresAt, err := s.issuePair(session.UserID, secret.KeyMaterial)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.ReplaceSession(ctx, refreshToken, pair.RefreshToken, refreshExpiresAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	return pair, nil
}

// Logout cierra la sesion del refresh token dado, o todas las del usuario
// si no se indica ninguno.
func (s *AuthService) Logout(ctx context.Context, user domain.User, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return s.store.RevokeUserSessions(ctx, user.ID)
	}
	session, err := s.store.FindSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if session.UserID != user.ID {
		return ErrInvalidToken
	}
	return s.store.RevokeSession(ctx, refreshToken)
}

// ForgotPassword envia un token de reset si el email existe. Al llamador
// siempre le responde igual salvo que el store no este disponible.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return nil
	}
	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		return s.swallowUnlessUnavailable("find user for reset", err)
	}
	token, err := s.store.CreatePasswordResetToken(ctx, user.ID)
	if err != nil {
		return s.swallowUnlessUnavailable("create password reset token", err)
	}
	if err := s.notifier.SendPasswordReset(ctx, user.Email, token.Token, token.ExpiresAt); err != nil {
		s.logger.Warn("send password reset failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	return nil
}

func (s *AuthService) swallowUnlessUnavailable(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case errors.Is(err, domain.ErrUnavailable):
		return err
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		return nil
	}
}

// ResetPassword consume el token de reset, guarda el nuevo password,
// rota el secret del usuario y cierra sus sesiones en un solo paso del store.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return fmt.Errorf("reset password: %w", domain.ErrValidation)
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	user, err := s.store.RedeemPasswordResetToken(ctx, token, hash)
	if err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

// ChangePassword exige el password actual y una cuenta verificada.
func (s *AuthService) ChangePassword(ctx context.Context, user domain.User, currentPassword, newPassword string) error {
	if !user.IsActive() {
		return fmt.Errorf("change password: %w", domain.ErrForbidden)
	}
	if newPassword == "" {
		return fmt.Errorf("change password: %w", domain.ErrValidation)
	}
	if err := s.hasher.Compare(ctx, user.PasswordHash, currentPassword); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return ErrInvalidCredentials
		}
		return err
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	return s.RotateSecret(ctx, user.ID)
}

// RotateSecret reemplaza la clave del usuario, invalidando todos sus tokens,
// y borra sus sesiones.
func (s *AuthService) RotateSecret(ctx context.Context, userID string) error {
	if _, err := s.store.RotateSecret(ctx, userID); err != nil {
		return err
	}
	if err := s.store.RevokeUserSessions(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("secret rotated", zap.String("user_id", userID))
	return nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (domain.User, error) {
	return s.store.FindUserByID(ctx, userID)
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("update profile: %w", domain.ErrValidation)
	}
	return s.store.UpdateUsername(ctx, userID, username)
}

// PurgeExpired borra tokens y sesiones vencidos.
func (s *AuthService) PurgeExpired(ctx context.Context) (domain.PurgeResult, error) {
	res, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return domain.PurgeResult{}, err
	}
	s.logger.Info("expired rows purged",
		zap.Int64("verification_tokens", res.VerificationTokens),
		zap.Int64("password_resets", res.PasswordResets),
		zap.Int64("sessions", res.Sessions),
	)
	return res, nil
}

func (s *AuthService) issuePair(subject string, key []byte) (TokenPair, time.Time, error) {
	access, _, err := s.tokens.Issue(subject, key, TokenKindAccess)
	if err != nil {
		return TokenPair{}, time.Time{}, fmt.Errorf("issue access token: %w: %v", domain.ErrInternal, err)
	}
	refresh, refreshExpiresAt, err := s.tokens.Issue(subject, key, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, time.Time{}, fmt.Errorf("issue refresh token: %w: %v", domain.ErrInternal, err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.TTL(TokenKindAccess).Seconds()),
	}, refreshExpiresAt, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
