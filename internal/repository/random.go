package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	secretKeySize = 32
	tokenSize     = 32
)

// newKeyMaterial genera la clave de firma de un usuario. Es independiente del password.
func newKeyMaterial() ([]byte, error) {
	key := make([]byte, secretKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// newOpaqueToken genera tokens de un solo uso (verificacion, reset).
func newOpaqueToken() (string, error) {
	buf := make([]byte, tokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// digest es la forma persistida de cualquier token presentado por el cliente.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
