package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distingue access tokens de refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims es el payload de los bearer tokens.
type Claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// ErrTokenInvalid es el unico error que ve quien verifica un token.
var ErrTokenInvalid = errors.New("token invalid")

// ErrSigningKeyMissing se devuelve al intentar emitir sin clave.
var ErrSigningKeyMissing = errors.New("signing key missing")

// Motivos internos; solo viajan unidos a ErrTokenInvalid para logging.
var (
	errTokenMalformed = errors.New("malformed token")
	errTokenSignature = errors.New("signature mismatch")
	errTokenExpired   = errors.New("token expired")
	errTokenKind      = errors.New("token kind mismatch")
	errTokenClaims    = errors.New("token claims rejected")
)

// TokenService emite y valida tokens firmados con la clave que provee el llamador.
// No guarda claves ni estado entre llamadas.
type TokenService struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "keyed-auth"
	}
	return &TokenService{
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TTL devuelve la vigencia de cada tipo de token.
func (s *TokenService) TTL(kind TokenKind) time.Duration {
	if kind == TokenKindRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// Issue firma un token HS256 para subject con key.
func (s *TokenService) Issue(subject string, key []byte, kind TokenKind) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, ErrSigningKeyMissing
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errTokenClaims
	}
	if kind != TokenKindAccess && kind != TokenKindRefresh {
		return "", time.Time{}, errTokenKind
	}
	now := s.now()
	expiresAt := now.Add(s.TTL(kind))
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify valida firma, expiracion, emisor y tipo. Cualquier falla devuelve
// un error que satisface errors.Is(err, ErrTokenInvalid).
func (s *TokenService) Verify(token string, key []byte, expected TokenKind) (Claims, error) {
	if len(key) == 0 || strings.TrimSpace(token) == "" {
		return Claims{}, errors.Join(ErrTokenInvalid, errTokenMalformed)
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return Claims{}, errors.Join(ErrTokenInvalid, tokenFailureReason(err))
	}
	if claims.Kind != expected {
		return Claims{}, errors.Join(ErrTokenInvalid, errTokenKind)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errors.Join(ErrTokenInvalid, errTokenClaims)
	}
	return claims, nil
}

// PeekSubject lee sub sin verificar la firma. Sirve para elegir con que
// clave verificar; nunca es una decision de autenticacion.
func (s *TokenService) PeekSubject(token string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", errors.Join(ErrTokenInvalid, errTokenMalformed)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.Join(ErrTokenInvalid, errTokenClaims)
	}
	return claims.Subject, nil
}

func tokenFailureReason(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return errTokenExpired
	default:
		return errTokenClaims
	}
}
