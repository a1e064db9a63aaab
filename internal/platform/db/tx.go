package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/inpatient/internal/platform/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var errNoConnection = errors.New("no database connection in context")

type TxOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// TxManager runs units of work in a single Postgres transaction. The
// transaction is stored in the context, where repositories find it via
// TxFromContext. Serialization failures and deadlocks replay the whole unit.
type TxManager struct {
	pool   *pgxpool.Pool
	opts   TxOptions
	logger zerolog.Logger
}

func NewTxManager(pool *pgxpool.Pool, opts TxOptions, logger zerolog.Logger) *TxManager {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 25 * time.Millisecond
	}
	return &TxManager{pool: pool, opts: opts, logger: logger}
}

// Atomic is always true: every write inside fn commits or rolls back together.
func (m *TxManager) Atomic() bool { return true }

// WithinTx runs fn in a transaction. A call made while a transaction is
// already open joins it and leaves commit to the outermost caller.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		err = m.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt == m.opts.MaxAttempts {
			break
		}

		metrics.RecordTxRetry()
		delay := m.opts.BaseDelay << (attempt - 1)
		m.logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying transaction")

		select {
		case <-ctx.Done():
			return Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
	return Classify(err)
}

func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, txCtx, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// begin opens a transaction on the tenant connection when one is pinned to
// the request, otherwise on the pool.
func (m *TxManager) begin(ctx context.Context) (pgx.Tx, context.Context, error) {
	var (
		tx  pgx.Tx
		err error
	)
	switch conn := ConnFromContext(ctx); {
	case conn != nil:
		tx, err = conn.Begin(ctx)
	case m.pool != nil:
		tx, err = m.pool.Begin(ctx)
	default:
		return nil, ctx, errNoConnection
	}
	if err != nil {
		return nil, ctx, fmt.Errorf("begin: %w", err)
	}
	return tx, ContextWithTx(ctx, tx), nil
}
