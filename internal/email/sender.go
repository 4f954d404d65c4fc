package email

import (
	"context"
	"errors"
	"time"
)

// Sender define la interfaz para entregar los codigos de un solo uso al usuario.
type Sender interface {
	SendVerificationToken(ctx context.Context, toEmail string, token string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, toEmail string, token string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendVerificationToken(_ context.Context, _ string, _ string, _ time.Time) error {
	return s.err()
}

func (s *disabledSender) SendPasswordReset(_ context.Context, _ string, _ string, _ time.Time) error {
	return s.err()
}

func (s *disabledSender) err() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
