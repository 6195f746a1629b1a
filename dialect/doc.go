// Package dialect provides the database abstraction the xrepo engine is
// written against.
//
// A backend is represented by a Driver, an opaque connection/statement
// abstraction that executes parameterized SQL and hands back standard
// database/sql results. The engine never talks to a concrete driver
// directly; everything flows through this interface, which keeps the
// SQL-generation layer portable across backends.
//
// # Supported Dialects
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres  = "postgres"
//	dialect.MySQL     = "mysql"
//	dialect.SQLite    = "sqlite"
//	dialect.SQLServer = "sqlserver"
//	dialect.Oracle    = "oracle"
//
// The dialect name selects provider-specific strategies (primary-key
// discovery, placeholder style) at configuration time. Behavioral
// capabilities that vary within a dialect version, such as the paging
// idiom, are probed once per data source instead.
//
// # Sub-packages
//
//   - dialect/sql: database/sql-backed Driver, statement builders and
//     instrumentation.
package dialect
