package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Transactor runs a function inside a fresh transaction. The runner uses it
// for executors with Capabilities.RequireNewTransaction, one transaction
// per item.
type Transactor interface {
	// InNewTx commits when fn returns nil and rolls back otherwise.
	InNewTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTransactor runs fn without a transaction.
type NoopTransactor struct{}

// InNewTx implements Transactor.
func (NoopTransactor) InNewTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type txKey struct{}

// TxFromContext returns the transaction opened by a SQLTransactor for the
// current item.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// SQLTransactor opens transactions on a database/sql handle.
type SQLTransactor struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewSQLTransactor returns a Transactor for db. opts may be nil.
func NewSQLTransactor(db *sql.DB, opts *sql.TxOptions) *SQLTransactor {
	return &SQLTransactor{db: db, opts: opts}
}

// InNewTx implements Transactor.
func (t *SQLTransactor) InNewTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := t.db.BeginTx(ctx, t.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
