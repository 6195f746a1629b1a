// Package catalog introspects and caches backend schema metadata for one
// data source: table definitions, ordered column lists, primary keys and
// the paging mechanism.
//
// A Catalog is created once per data source and shared by every repository
// call against it. Lookups are case-insensitive, read-heavy and cached for
// the process lifetime; first-time probes are single-flighted so concurrent
// callers never duplicate backend round trips. The introspection strategy
// is chosen by an explicit provider identifier resolved at configuration
// time, never by inspecting error text.
package catalog
