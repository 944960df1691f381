package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTxTimeout = 15 * time.Second

// ErrNoTransaction is returned by operations that must run inside RunInTx.
var ErrNoTransaction = errors.New("postgres: operation requires an active transaction")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolSource yields the pool transactions are opened on. *Provider satisfies it.
type PoolSource interface {
	Pool(ctx context.Context) (*pgxpool.Pool, error)
}

type txContextKey struct{}

// ContextWithTx stores tx on ctx so repositories join the transaction.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// RequireTx returns the active transaction or ErrNoTransaction.
func RequireTx(ctx context.Context) (pgx.Tx, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx, nil
	}
	return nil, ErrNoTransaction
}

// Conn returns the transaction on ctx when present, otherwise the pool.
func Conn(ctx context.Context, source PoolSource) (DBTX, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx, nil
	}
	pool, err := source.Pool(ctx)
	if err != nil {
		return nil, WrapError("connect", err)
	}
	return pool, nil
}

// TxOption customises transaction behaviour.
type TxOption func(*UnitOfWork)

// WithTxTimeout bounds the lifetime of top-level transactions.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(u *UnitOfWork) {
		if timeout > 0 {
			u.timeout = timeout
		}
	}
}

// WithIsolationLevel overrides the default read committed isolation.
func WithIsolationLevel(level pgx.TxIsoLevel) TxOption {
	return func(u *UnitOfWork) {
		u.isoLevel = level
	}
}

// UnitOfWork runs functions inside PostgreSQL transactions. Nested calls open savepoints,
// so a failing inner block rolls back without aborting the outer transaction.
type UnitOfWork struct {
	source   PoolSource
	timeout  time.Duration
	isoLevel pgx.TxIsoLevel
}

// NewUnitOfWork constructs a UnitOfWork bound to the pool source.
func NewUnitOfWork(source PoolSource, opts ...TxOption) *UnitOfWork {
	uow := &UnitOfWork{
		source:   source,
		timeout:  defaultTxTimeout,
		isoLevel: pgx.ReadCommitted,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(uow)
		}
	}
	return uow
}

// RunInTx executes fn within a transaction, committing when fn returns nil.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if parent, ok := TxFromContext(ctx); ok {
		return runSavepoint(ctx, parent, fn)
	}

	pool, err := u.source.Pool(ctx)
	if err != nil {
		return WrapError("transaction", err)
	}

	txCtx := ctx
	if u.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > u.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, u.timeout)
			defer cancel()
		}
	}

	tx, err := pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: u.isoLevel})
	if err != nil {
		return WrapError("begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(txCtx))
	}()

	if err := fn(ContextWithTx(txCtx, tx)); err != nil {
		return err
	}
	return WrapError("commit", tx.Commit(txCtx))
}

func runSavepoint(ctx context.Context, parent pgx.Tx, fn func(ctx context.Context) error) error {
	nested, err := parent.Begin(ctx)
	if err != nil {
		return WrapError("savepoint", err)
	}
	if err := fn(ContextWithTx(ctx, nested)); err != nil {
		_ = nested.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return WrapError("release savepoint", nested.Commit(ctx))
}
