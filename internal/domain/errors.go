package domain

import "errors"

// Taxonomia de errores compartida por store, servicios y la capa HTTP.
var (
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrUnavailable  = errors.New("store unavailable")
	ErrInternal     = errors.New("internal error")
)
