package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/email"
)

func unmarshalPayload(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// EmailJob entrega los emails encolados por QueueSender usando el sender real.
type EmailJob struct {
	sender email.Sender
	logger *zap.Logger
}

func NewEmailJob(sender email.Sender, logger *zap.Logger) *EmailJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailJob{sender: sender, logger: logger}
}

func (j *EmailJob) HandleVerification(ctx context.Context, t *asynq.Task) error {
	payload, err := j.decode(t)
	if err != nil {
		return err
	}
	if err := j.sender.SendVerificationToken(ctx, payload.To, payload.Token, payload.ExpiresAt); err != nil {
		j.logger.Warn("deliver verification email failed", zap.Error(err), zap.String("to", payload.To))
		return err
	}
	return nil
}

func (j *EmailJob) HandlePasswordReset(ctx context.Context, t *asynq.Task) error {
	payload, err := j.decode(t)
	if err != nil {
		return err
	}
	if err := j.sender.SendPasswordReset(ctx, payload.To, payload.Token, payload.ExpiresAt); err != nil {
		j.logger.Warn("deliver password reset email failed", zap.Error(err), zap.String("to", payload.To))
		return err
	}
	return nil
}

func (j *EmailJob) decode(t *asynq.Task) (EmailPayload, error) {
	var payload EmailPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		j.logger.Error("bad email task", zap.Error(err))
		return EmailPayload{}, err
	}
	if err := payload.validate(); err != nil {
		j.logger.Error("bad email task", zap.Error(err))
		return EmailPayload{}, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return payload, nil
}

// Purger lo implementa service.AuthService.
type Purger interface {
	PurgeExpired(ctx context.Context) (domain.PurgeResult, error)
}

// PurgeJob corre la limpieza de filas vencidas.
type PurgeJob struct {
	purger Purger
	logger *zap.Logger
}

func NewPurgeJob(purger Purger, logger *zap.Logger) *PurgeJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurgeJob{purger: purger, logger: logger}
}

func (j *PurgeJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.purger == nil {
		return errors.New("purge job: not configured")
	}
	if _, err := j.purger.PurgeExpired(ctx); err != nil {
		j.logger.Error("purge expired failed", zap.Error(err))
		return err
	}
	return nil
}
