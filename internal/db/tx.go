package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxBeginner es el subconjunto de pgxpool.Pool necesario para abrir transacciones.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx ejecuta fn dentro de una transaccion: commit si fn devuelve nil,
// rollback ante error o panic. Los panics se relanzan.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
