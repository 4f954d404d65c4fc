// Package jobs define las tareas asincronas del servicio: entrega de emails
// y purga periodica de tokens y sesiones vencidos.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	TaskTypeVerificationEmail  = "auth:email:verification"
	TaskTypePasswordResetEmail = "auth:email:password_reset"
	TaskTypePurgeExpired       = "auth:purge_expired"
)

// EmailPayload lleva el destinatario y el token de un solo uso. La tarea se
// borra de redis al completarse.
type EmailPayload struct {
	To        string    `json:"to"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p EmailPayload) validate() error {
	if strings.TrimSpace(p.To) == "" || strings.TrimSpace(p.Token) == "" {
		return fmt.Errorf("email payload incomplete")
	}
	return nil
}

func NewVerificationEmailTask(payload EmailPayload) (*asynq.Task, error) {
	return newEmailTask(TaskTypeVerificationEmail, payload)
}

func NewPasswordResetEmailTask(payload EmailPayload) (*asynq.Task, error) {
	return newEmailTask(TaskTypePasswordResetEmail, payload)
}

func newEmailTask(taskType string, payload EmailPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewPurgeExpiredTask arma la tarea que registra el scheduler.
func NewPurgeExpiredTask() *asynq.Task {
	return asynq.NewTask(TaskTypePurgeExpired, nil)
}
