package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

type Tx interface {
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Executor
}

// Executor is satisfied by both DB and Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Transaction is a sqlx.Tx that remembers whether it was finished.
type Transaction struct {
	*sqlx.Tx
	logger ectologger.Logger
	done   bool
}

func (t *Transaction) IsOpen() bool {
	return !t.done
}

func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit", t.Tx.Commit)
}

func (t *Transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, "roll back", t.Tx.Rollback)
}

func (t *Transaction) finish(ctx context.Context, verb string, fn func() error) error {
	if t.done {
		return nil
	}
	if err := fn(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s transaction", verb)
		return fmt.Errorf("failed to %s transaction: %w", verb, err)
	}
	t.done = true
	return nil
}

// txFrom returns the open transaction carried on ctx.
func txFrom(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil, false
	}
	return tx, true
}

// GetTx returns the transaction already open on ctx, or begins one and
// carries it on the returned context. owned reports whether the caller began
// it and so must finish it.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, bool, error) {
	if tx, ok := txFrom(ctx); ok {
		return ctx, tx, false, nil
	}

	sqlTx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to begin transaction")
		return ctx, nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Transaction{Tx: sqlTx, logger: logger}
	return context.WithValue(ctx, txKey{}, Tx(tx)), tx, true, nil
}

// RunInTx runs fn inside a transaction. A transaction already open on ctx is
// joined and left for its owner to finish; otherwise a new one is committed
// when fn succeeds and rolled back when it fails.
func RunInTx(ctx context.Context, logger ectologger.Logger, db DB, fn func(ctx context.Context) error) error {
	txCtx, tx, owned, err := GetTx(ctx, logger, db, nil)
	if err != nil {
		return err
	}
	if !owned {
		return fn(txCtx)
	}

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(txCtx); rbErr != nil {
			logger.WithContext(ctx).WithError(rbErr).Warn("Rollback after failed transaction scope")
		}
		return err
	}
	return tx.Commit(txCtx)
}

// Conn returns the transaction open on ctx, falling back to db.
func Conn(ctx context.Context, db DB) Executor {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db
}
