package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"keyed-auth/internal/domain"
)

// ErrPasswordMismatch indica que el password no corresponde al hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// PasswordHasher calcula y compara hashes de password.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Compare(ctx context.Context, hash, password string) error
}

// BcryptHasher limita cuantos hashes bcrypt corren a la vez, asi una rafaga
// de registros no consume todo el CPU que necesitan los logins.
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

func NewBcryptHasher(cost, workers int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(workers)),
	}
}

func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	var (
		hash []byte
		err  error
	)
	if acqErr := h.withSlot(ctx, func() {
		hash, err = bcrypt.GenerateFromPassword([]byte(password), h.cost)
	}); acqErr != nil {
		return "", acqErr
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w: %v", domain.ErrValidation, err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(ctx context.Context, hash, password string) error {
	var err error
	if acqErr := h.withSlot(ctx, func() {
		err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}); acqErr != nil {
		return acqErr
	}
	if err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

func (h *BcryptHasher) withSlot(ctx context.Context, fn func()) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for hasher: %w: %v", domain.ErrUnavailable, err)
	}
	defer h.sem.Release(1)
	fn()
	return nil
}
