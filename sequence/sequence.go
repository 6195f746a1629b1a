package sequence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// Sequencer reserves count consecutive identity values for the column and
// returns the first of the range. A reservation is never re-issued.
type Sequencer interface {
	NextValues(ctx context.Context, table, column string, count int) (int64, error)
}

// Local is an in-process Sequencer. Each (table, column) counter is seeded
// from MAX(column) on first use and advanced under a mutex. It is correct
// only while this process is the sole writer of the column.
type Local struct {
	drv dialect.Driver

	mu   sync.Mutex
	next map[string]int64
}

// NewLocal returns a Local sequencer over the driver.
func NewLocal(drv dialect.Driver) *Local {
	return &Local{drv: drv, next: make(map[string]int64)}
}

// NextValues implements Sequencer.
func (l *Local) NextValues(ctx context.Context, table, column string, count int) (int64, error) {
	if err := validateRequest(table, column, count); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(table) + "." + strings.ToLower(column)
	next, ok := l.next[key]
	if !ok {
		max, err := maxValue(ctx, l.drv, table, column)
		if err != nil {
			return 0, err
		}
		next = max + 1
	}
	l.next[key] = next + int64(count)
	return next, nil
}

// maxValue returns the current maximum of the column, zero for an empty
// table.
func maxValue(ctx context.Context, drv dialect.Driver, table, column string) (int64, error) {
	rows := &sqld.Rows{}
	query := "SELECT MAX(" + column + ") FROM " + table
	if err := drv.Query(ctx, query, []any{}, rows); err != nil {
		return 0, fmt.Errorf("sequence: seeding %s.%s: %w", table, column, err)
	}
	defer rows.Close()
	var max sqld.NullInt64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, fmt.Errorf("sequence: seeding %s.%s: %w", table, column, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sequence: seeding %s.%s: %w", table, column, err)
	}
	return max.Int64, nil
}

func validateRequest(table, column string, count int) error {
	if count < 1 {
		return fmt.Errorf("sequence: count must be positive, got %d", count)
	}
	if !sqld.ValidIdentifier(table) {
		return fmt.Errorf("sequence: invalid table name %q", table)
	}
	if !sqld.ValidIdentifier(column) {
		return fmt.Errorf("sequence: invalid column name %q", column)
	}
	return nil
}
