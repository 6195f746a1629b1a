package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xanotech/xrepo/catalog"
	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// DefaultTable is the default name of the backing table. It holds one
// authoritative row per sequenced (table, column) pair with the columns
// TableName, ColumnName and NextValue.
const DefaultTable = "Sequence"

// Backed is a Sequencer coordinating identity allocation across processes
// through a backing table. Every reservation is a read-modify-write of the
// pair's high-water row inside one transaction, so correctness depends on
// the backend honoring row locking. That behavior is validated once, at
// first use: a probe row is locked from one transaction while a second
// connection attempts a conflicting update. If the second update completes
// immediately instead of blocking or raising lock contention, Backed
// refuses to operate.
type Backed struct {
	drv     dialect.Driver
	catalog *catalog.Catalog

	table       string
	maxRetries  int
	retryDelay  time.Duration
	probeWindow time.Duration

	mu       sync.Mutex
	verified bool
	readyErr error
}

// BackedOption configures a Backed sequencer.
type BackedOption func(*Backed)

// WithTable overrides the backing table name.
func WithTable(name string) BackedOption {
	return func(b *Backed) { b.table = name }
}

// WithRetry overrides the retry budget used when the backend raises a
// transient lock-contention error instead of blocking.
func WithRetry(attempts int, delay time.Duration) BackedOption {
	return func(b *Backed) { b.maxRetries = attempts; b.retryDelay = delay }
}

// WithProbeWindow overrides how long the locking self-test waits for the
// conflicting update to block before declaring the backend well-behaved.
func WithProbeWindow(d time.Duration) BackedOption {
	return func(b *Backed) { b.probeWindow = d }
}

// NewBacked returns a backed sequencer over the driver. The catalog is used
// to probe backing-table presence once.
func NewBacked(drv dialect.Driver, c *catalog.Catalog, opts ...BackedOption) *Backed {
	b := &Backed{
		drv:         drv,
		catalog:     c,
		table:       DefaultTable,
		maxRetries:  8,
		retryDelay:  25 * time.Millisecond,
		probeWindow: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextValues implements Sequencer. It atomically reserves count consecutive
// values for the pair and returns the first. When no high-water row exists
// yet, the row is seeded from MAX(column)+count inside the same transaction.
// Lock-contention errors and seeding races are retried; all other errors
// propagate.
func (b *Backed) NextValues(ctx context.Context, table, column string, count int) (int64, error) {
	if err := validateRequest(table, column, count); err != nil {
		return 0, err
	}
	if err := b.ensureReady(ctx); err != nil {
		return 0, err
	}
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * b.retryDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		first, err := b.allocate(ctx, table, column, count)
		if err == nil {
			return first, nil
		}
		if !sqld.IsLockContentionError(err) && !sqld.IsUniqueConstraintError(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("sequence: allocation for %s.%s kept contending: %w", table, column, lastErr)
}

// allocate performs one read-modify-write attempt.
func (b *Backed) allocate(ctx context.Context, table, column string, count int) (first int64, err error) {
	tx, err := b.drv.Tx(ctx)
	if err != nil {
		return 0, fmt.Errorf("sequence: begin allocation: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sqld.Result
	if err := tx.Exec(ctx, b.rebind(
		"UPDATE "+b.table+" SET NextValue = NextValue + ? WHERE TableName = ? AND ColumnName = ?"),
		[]any{count, table, column}, &res); err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// First allocation for this pair: seed from the live column.
		max, err := maxInTx(ctx, tx, table, column)
		if err != nil {
			return 0, err
		}
		if err := tx.Exec(ctx, b.rebind(
			"INSERT INTO "+b.table+" (TableName, ColumnName, NextValue) VALUES (?, ?, ?)"),
			[]any{table, column, max + int64(count)}, nil); err != nil {
			return 0, err
		}
		first = max + 1
	} else {
		rows := &sqld.Rows{}
		if err := tx.Query(ctx, b.rebind(
			"SELECT NextValue FROM "+b.table+" WHERE TableName = ? AND ColumnName = ?"),
			[]any{table, column}, rows); err != nil {
			return 0, err
		}
		var next int64
		if rows.Next() {
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return 0, err
			}
		}
		if err := rows.Close(); err != nil {
			return 0, err
		}
		first = next - int64(count) + 1
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sequence: commit allocation: %w", err)
	}
	return first, nil
}

func maxInTx(ctx context.Context, tx dialect.Tx, table, column string) (int64, error) {
	rows := &sqld.Rows{}
	if err := tx.Query(ctx, "SELECT MAX("+column+") FROM "+table, []any{}, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	var max sqld.NullInt64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, err
		}
	}
	return max.Int64, rows.Err()
}

// ensureReady probes the backing table and runs the locking self-test once.
// The outcome, pass or fail, is cached for the sequencer's lifetime.
func (b *Backed) ensureReady(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.verified {
		return b.readyErr
	}
	b.readyErr = b.validate(ctx)
	b.verified = true
	return b.readyErr
}

func (b *Backed) validate(ctx context.Context) error {
	if _, err := b.catalog.TableDefinition(ctx, b.table); err != nil {
		if catalog.IsNotFound(err) {
			return &ValidationError{Table: b.table, Reason: "not present in the data source"}
		}
		return err
	}
	return b.verifyLocking(ctx)
}

// verifyLocking reserves a probe row, holds a conflicting update open in one
// transaction, and attempts a second update from another connection. The
// second attempt must block for the probe window or raise a lock-contention
// error; completing immediately proves the backend ignores row locks.
func (b *Backed) verifyLocking(ctx context.Context) error {
	probe := "probe-" + uuid.NewString()
	if err := b.drv.Exec(ctx, b.rebind(
		"INSERT INTO "+b.table+" (TableName, ColumnName, NextValue) VALUES (?, ?, ?)"),
		[]any{probe, "probe", 0}, nil); err != nil {
		return fmt.Errorf("sequence: locking self-test: %w", err)
	}
	defer b.drv.Exec(ctx, b.rebind(
		"DELETE FROM "+b.table+" WHERE TableName = ?"), []any{probe}, nil)

	tx, err := b.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("sequence: locking self-test: %w", err)
	}
	update := b.rebind("UPDATE " + b.table + " SET NextValue = NextValue + 1 WHERE TableName = ?")
	if err := tx.Exec(ctx, update, []any{probe}, nil); err != nil {
		tx.Rollback()
		return fmt.Errorf("sequence: locking self-test: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.probeWindow)
	defer cancel()
	contender := b.drv.Exec(probeCtx, update, []any{probe}, nil)
	tx.Rollback()
	switch {
	case contender == nil:
		return &ValidationError{
			Table:  b.table,
			Reason: "a concurrent update completed while the row was locked; the backend does not honor row locking and could allocate duplicate identities",
		}
	case errors.Is(contender, context.DeadlineExceeded) || sqld.IsLockContentionError(contender):
		return nil
	default:
		return fmt.Errorf("sequence: locking self-test: %w", contender)
	}
}

func (b *Backed) rebind(query string) string {
	return sqld.Rebind(b.drv.Dialect(), query)
}
