package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dairybooth/dairyledger/internal/shared"
)

// Beginner is satisfied by *pgxpool.Pool and pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

const (
	// DefaultConflictRetries bounds transparent retries of serialization failures.
	DefaultConflictRetries = 5

	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// ReadCommitted is used for writers that serialize through explicit row locks.
var ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// SnapshotReadOnly gives readers a stable snapshot without blocking writers.
var SnapshotReadOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// WithTx executes fn within a single transaction.
func WithTx(ctx context.Context, db Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithRetryTx runs fn in a transaction and re-runs it when Postgres aborts it with a
// serialization failure or deadlock. Once the budget is spent ErrConcurrencyConflict is
// returned.
func WithRetryTx(ctx context.Context, db Beginner, opts pgx.TxOptions, retries int, fn func(pgx.Tx) error) error {
	if retries <= 0 {
		retries = DefaultConflictRetries
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		err := WithTx(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, lastErr)
}

// IsConflict reports whether err is a retryable transaction conflict.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-key violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}
