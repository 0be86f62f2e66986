// Package pgtx carries a database transaction through a context so that
// repositories in different packages can write in one commit.
package pgtx

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is the subset of *sql.DB and *sql.Tx shared by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var errNilDB = errors.New("pgtx: nil db")

type txKey struct{}

// FromContext returns the transaction stored in ctx, if any.
func FromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Executor returns the ambient transaction or db.
func Executor(ctx context.Context, db *sql.DB) DBTX {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// WithinTx runs fn inside a transaction on db and commits when fn returns
// nil. When ctx already carries a transaction fn joins it and the outer
// caller commits.
func WithinTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if FromContext(ctx) != nil {
		return fn(ctx)
	}
	if db == nil {
		return errNilDB
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Runner opens transactions on one database.
type Runner struct {
	db *sql.DB
}

// NewRunner constructs a runner.
func NewRunner(db *sql.DB) (*Runner, error) {
	if db == nil {
		return nil, errNilDB
	}
	return &Runner{db: db}, nil
}

// WithinTx runs fn in one transaction.
func (r *Runner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithinTx(ctx, r.db, fn)
}
