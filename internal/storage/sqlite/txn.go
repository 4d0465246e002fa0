package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/juanlu12332/beads/internal/storage"
)

// beginImmediateWithRetry starts a BEGIN IMMEDIATE transaction on the
// connection, retrying with exponential backoff while the database is busy.
//
// IMMEDIATE acquires a RESERVED lock up front, preventing other IMMEDIATE or
// EXCLUSIVE transactions from starting. This serializes ID generation across
// concurrent writers and avoids deadlocks from lock upgrades mid-transaction.
//
// We use raw Exec instead of BeginTx because database/sql doesn't support
// transaction modes, and the driver's BeginTx always uses DEFERRED mode.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	policy.RandomizationFactor = 0

	op := func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusyError(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("begin immediate transaction: %w: %v", storage.ErrLocked, err)
		}
		return fmt.Errorf("begin immediate transaction: %w", err)
	}
	return nil
}

// withImmediateTx runs fn inside a BEGIN IMMEDIATE transaction on a dedicated
// connection. On any error or panic the transaction rolls back and no side
// effects escape; on success it commits. This is the write path for every
// mutating operation: row changes, event appends, dirty marks, and cache
// refreshes commit as one unit.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	s.reconnectMu.RLock()
	defer s.reconnectMu.RUnlock()

	// Acquire a dedicated connection so "BEGIN IMMEDIATE"/"COMMIT" and every
	// statement in between share one connection; the pool would otherwise
	// spread them across connections.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return err
	}

	// Use background context for ROLLBACK so cleanup happens even if ctx is
	// canceled. Panics roll back via the same path before re-raising.
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// withTx executes a function within a plain database transaction.
// Used for multi-statement reads and bookkeeping writes that don't contend
// for the reserved lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.reconnectMu.RLock()
	defer s.reconnectMu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}

	return nil
}

// execer is the subset of *sql.DB, *sql.Tx and *sql.Conn used by helpers that
// run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
