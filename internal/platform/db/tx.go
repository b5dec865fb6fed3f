package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Beginner is satisfied by *pgxpool.Pool and pgx.Tx.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepeatableRead is the default isolation used by ledger repositories.
var RepeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// ReadCommitted lets conditional updates re-evaluate against the latest committed row.
var ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

type txKey struct{}

// ContextWithTx returns a copy of ctx carrying tx. Work started with that
// context joins tx instead of taking another pool connection.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// Conn returns the transaction carried by ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback Querier) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return fallback
}

// WithTx executes fn within a transaction using the given options. The
// transaction is rolled back when fn returns an error and committed otherwise.
// Serialization failures are reported as ErrConflict.
//
// When ctx already carries a transaction, fn runs inside a savepoint of it and
// opts are ignored: a failure rolls back to the savepoint and leaves the outer
// transaction usable, and success only commits with the outer transaction.
func WithTx(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if outer, ok := TxFromContext(ctx); ok {
		return withSavepoint(ctx, outer, fn)
	}
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

func withSavepoint(ctx context.Context, outer pgx.Tx, fn func(pgx.Tx) error) error {
	sp, err := outer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: savepoint: %w", err)
	}

	defer func() {
		_ = sp.Rollback(ctx)
	}()

	if err := fn(sp); err != nil {
		return classify(err)
	}

	if err := sp.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: release savepoint: %w", err))
	}

	return nil
}

func classify(err error) error {
	if IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
