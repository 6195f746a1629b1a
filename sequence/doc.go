// Package sequence allocates unique, monotonically increasing identity
// ranges for (table, column) pairs. The process-local strategy serves a
// single process from an in-memory counter; the backed strategy coordinates
// multiple processes through a high-water-mark row in a backing table,
// validating at first use that the backend actually honors row locking.
package sequence
