package recordset

import (
	"context"

	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// ScanRow materializes the current row of the scanner into a Record using
// the scanner's column order. Byte slices become strings; everything else
// passes through as the driver returned it.
func ScanRow(rows sqld.ColumnScanner) (*Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	dests := make([]any, len(columns))
	for i := range values {
		dests[i] = &values[i]
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	record := New()
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			values[i] = string(b)
		}
		record.Set(col, values[i])
	}
	return record, nil
}

// Item is one element of a record stream: a record or a terminal error.
type Item struct {
	Record *Record
	Err    error
}

// Stream materializes rows into records through a bounded channel, so
// statement execution and object materialization proceed as a
// producer/consumer pair instead of buffering the result unboundedly.
// The channel closes when the rows are exhausted, an error occurs, or ctx
// is done; the rows are always closed.
func Stream(ctx context.Context, rows *sqld.Rows, size int) <-chan Item {
	if size <= 0 {
		size = 64
	}
	out := make(chan Item, size)
	go func() {
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			record, err := ScanRow(rows)
			if err != nil {
				out <- Item{Err: err}
				return
			}
			select {
			case out <- Item{Record: record}:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			out <- Item{Err: err}
		}
	}()
	return out
}

// Collect drains a stream into a slice, honoring skip and limit for the
// Programmatic paging mechanism: every row still crosses the wire, but only
// the requested slice is retained. Negative skip or limit means unset.
func Collect(ctx context.Context, items <-chan Item, skip, limit int) ([]*Record, error) {
	var out []*Record
	seen := 0
	for item := range items {
		if item.Err != nil {
			return nil, item.Err
		}
		seen++
		if skip >= 0 && seen <= skip {
			continue
		}
		if limit >= 0 && len(out) >= limit {
			// Keep draining: the producer owns closing the rows.
			continue
		}
		out = append(out, item.Record)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
