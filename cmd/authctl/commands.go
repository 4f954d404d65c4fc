package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"keyed-auth/internal/domain"
	"keyed-auth/internal/repository"
	"keyed-auth/internal/service"
)

const usage = `usage: authctl <command> [args]

commands:
  show-user <email>       muestra el usuario (sin hash ni clave)
  rotate-secret <email>   rota la clave del usuario y cierra sus sesiones
  purge-expired           borra tokens y sesiones vencidos`

var errUsage = errors.New("invalid arguments")

type app struct {
	store repository.CredentialStore
	auth  *service.AuthService
	out   io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "show-user":
		if len(args) != 2 {
			return errUsage
		}
		return a.showUser(ctx, args[1])
	case "rotate-secret":
		if len(args) != 2 {
			return errUsage
		}
		return a.rotateSecret(ctx, args[1])
	case "purge-expired":
		return a.purgeExpired(ctx)
	default:
		fmt.Fprintln(a.out, usage)
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func (a *app) findUser(ctx context.Context, email string) (domain.User, error) {
	user, err := a.store.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, fmt.Errorf("no user with email %s", email)
		}
		return domain.User{}, err
	}
	return user, nil
}

func (a *app) showUser(ctx context.Context, email string) error {
	user, err := a.findUser(ctx, email)
	if err != nil {
		return err
	}
	lastLogin := "never"
	if user.LastLogin != nil {
		lastLogin = user.LastLogin.Format("2006-01-02 15:04:05Z07:00")
	}
	fmt.Fprintf(a.out, "id:         %s\n", user.ID)
	fmt.Fprintf(a.out, "username:   %s\n", user.Username)
	fmt.Fprintf(a.out, "email:      %s\n", user.Email)
	fmt.Fprintf(a.out, "status:     %s\n", user.Status)
	fmt.Fprintf(a.out, "created:    %s\n", user.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(a.out, "last login: %s\n", lastLogin)
	return nil
}

func (a *app) rotateSecret(ctx context.Context, email string) error {
	user, err := a.findUser(ctx, email)
	if err != nil {
		return err
	}
	if err := a.auth.RotateSecret(ctx, user.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "secret rotated for %s; all sessions revoked\n", user.Email)
	return nil
}

func (a *app) purgeExpired(ctx context.Context) error {
	res, err := a.auth.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "purged %d verification tokens, %d password resets, %d sessions\n",
		res.VerificationTokens, res.PasswordResets, res.Sessions)
	return nil
}
