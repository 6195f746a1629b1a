package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// Provider identifies the introspection strategy for a backend family.
// The provider is resolved once at configuration time from the dialect
// name (or set explicitly); selection never falls back by pattern-matching
// error messages.
type Provider string

const (
	// ProviderANSI introspects through the ANSI information_schema views.
	// Default for Postgres, MySQL and SQL Server.
	ProviderANSI Provider = "ansi"
	// ProviderSQLite introspects through sqlite_master and table_info PRAGMAs.
	ProviderSQLite Provider = "sqlite"
	// ProviderOracle introspects through the ALL_* dictionary views.
	ProviderOracle Provider = "oracle"
)

// ProviderFor resolves the default provider for a dialect name.
func ProviderFor(dialectName string) Provider {
	switch dialectName {
	case dialect.SQLite:
		return ProviderSQLite
	case dialect.Oracle:
		return ProviderOracle
	default:
		return ProviderANSI
	}
}

func (p Provider) tableDefinitions(ctx context.Context, drv dialect.Driver, lowerName string) ([]TableDefinition, error) {
	switch p {
	case ProviderSQLite:
		rows, err := queryStrings(ctx, drv,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND LOWER(name) = ?", lowerName)
		if err != nil {
			return nil, fmt.Errorf("catalog: table lookup %q: %w", lowerName, err)
		}
		defs := make([]TableDefinition, len(rows))
		for i, name := range rows {
			defs[i] = TableDefinition{Name: name}
		}
		return defs, nil
	case ProviderOracle:
		return queryDefinitions(ctx, drv,
			"SELECT owner, table_name FROM all_tables WHERE LOWER(table_name) = ?", lowerName)
	default:
		return queryDefinitions(ctx, drv,
			"SELECT table_schema, table_name FROM information_schema.tables WHERE LOWER(table_name) = ?", lowerName)
	}
}

func (p Provider) columns(ctx context.Context, drv dialect.Driver, lowerTable string) ([]string, error) {
	switch p {
	case ProviderSQLite:
		return sqliteTableInfo(ctx, drv, lowerTable, false)
	case ProviderOracle:
		return queryStrings(ctx, drv,
			"SELECT column_name FROM all_tab_columns WHERE LOWER(table_name) = ? ORDER BY column_id", lowerTable)
	default:
		return queryStrings(ctx, drv,
			"SELECT column_name FROM information_schema.columns WHERE LOWER(table_name) = ? ORDER BY ordinal_position", lowerTable)
	}
}

func (p Provider) primaryKeys(ctx context.Context, drv dialect.Driver, lowerTable string) ([]string, error) {
	switch p {
	case ProviderSQLite:
		return sqliteTableInfo(ctx, drv, lowerTable, true)
	case ProviderOracle:
		return queryStrings(ctx, drv,
			"SELECT cc.column_name FROM all_constraints c JOIN all_cons_columns cc"+
				" ON c.constraint_name = cc.constraint_name AND c.owner = cc.owner"+
				" WHERE c.constraint_type = 'P' AND LOWER(c.table_name) = ? ORDER BY cc.position", lowerTable)
	default:
		return queryStrings(ctx, drv,
			"SELECT kcu.column_name FROM information_schema.table_constraints tc"+
				" JOIN information_schema.key_column_usage kcu"+
				" ON tc.constraint_name = kcu.constraint_name AND tc.table_name = kcu.table_name"+
				" WHERE tc.constraint_type = 'PRIMARY KEY' AND LOWER(tc.table_name) = ?"+
				" ORDER BY kcu.ordinal_position", lowerTable)
	}
}

// sqliteTableInfo reads PRAGMA table_info rows: (cid, name, type, notnull,
// dflt_value, pk). Primary-key columns carry their 1-based key position in
// the pk column.
func sqliteTableInfo(ctx context.Context, drv dialect.Driver, table string, keysOnly bool) ([]string, error) {
	if !sqld.ValidIdentifier(table) {
		return nil, fmt.Errorf("catalog: invalid table name %q", table)
	}
	rows := &sqld.Rows{}
	if err := drv.Query(ctx, "PRAGMA table_info("+table+")", []any{}, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	type keyed struct {
		name string
		pk   int64
	}
	var (
		columns []string
		keys    []keyed
	)
	for rows.Next() {
		var (
			cid, notnull, pk sqld.NullInt64
			name, typ, dflt  sqld.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, name.String)
		if pk.Int64 > 0 {
			keys = append(keys, keyed{name: name.String, pk: pk.Int64})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !keysOnly {
		return columns, nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].pk < keys[j].pk })
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.name
	}
	return names, nil
}

func queryStrings(ctx context.Context, drv dialect.Driver, query string, args ...any) ([]string, error) {
	rows := &sqld.Rows{}
	if err := drv.Query(ctx, rebindFor(drv, query), args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s sqld.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s.String)
	}
	return out, rows.Err()
}

func queryDefinitions(ctx context.Context, drv dialect.Driver, query string, args ...any) ([]TableDefinition, error) {
	rows := &sqld.Rows{}
	if err := drv.Query(ctx, rebindFor(drv, query), args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []TableDefinition
	for rows.Next() {
		var schema, name sqld.NullString
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		defs = append(defs, TableDefinition{Schema: schema.String, Name: name.String})
	}
	return defs, rows.Err()
}

// rebindFor converts "?" placeholders to the driver dialect's native style.
func rebindFor(drv dialect.Driver, query string) string {
	return sqld.Rebind(drv.Dialect(), query)
}
