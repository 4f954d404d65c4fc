package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/email"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender implementa email.Sender encolando la entrega en asynq; el
// worker hace el envio SMTP con reintentos.
type QueueSender struct {
	client enqueuer
	opts   []asynq.Option
}

var _ email.Sender = (*QueueSender)(nil)

func NewQueueSender(client *asynq.Client) *QueueSender {
	return newQueueSender(client)
}

func newQueueSender(client enqueuer) *QueueSender {
	return &QueueSender{
		client: client,
		opts: []asynq.Option{
			asynq.Queue(QueueDefault),
			asynq.MaxRetry(5),
			asynq.Timeout(30 * time.Second),
		},
	}
}

func (s *QueueSender) SendVerificationToken(ctx context.Context, toEmail string, token string, expiresAt time.Time) error {
	task, err := NewVerificationEmailTask(EmailPayload{To: toEmail, Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, expiresAt)
}

func (s *QueueSender) SendPasswordReset(ctx context.Context, toEmail string, token string, expiresAt time.Time) error {
	task, err := NewPasswordResetEmailTask(EmailPayload{To: toEmail, Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, expiresAt)
}

// enqueue no reintenta mas alla del vencimiento del token.
func (s *QueueSender) enqueue(ctx context.Context, task *asynq.Task, expiresAt time.Time) error {
	opts := append([]asynq.Option{}, s.opts...)
	if !expiresAt.IsZero() {
		opts = append(opts, asynq.Deadline(expiresAt))
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w: %v", task.Type(), domain.ErrUnavailable, err)
	}
	return nil
}
