// Package sql provides the database/sql-backed driver and the statement
// builders of the engine.
//
// The Driver adapts a *sql.DB (or transaction) to the dialect.Driver
// abstraction. The builders assemble SELECT/COUNT/INSERT/UPDATE/DELETE text
// from a table chain, rendered criteria, sort keys and a paging mechanism,
// writing "?" placeholders that are rebound to the dialect's native
// parameter style on finalization. The package also classifies driver
// errors (unique violations, lock contention) by probing the error chain
// for the code interfaces the common drivers implement, with string
// matching only as a last-resort fallback.
package sql
