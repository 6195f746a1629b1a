package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// TableDefinition is the resolved, possibly schema-qualified name backing a
// mapped table.
type TableDefinition struct {
	Schema string
	Name   string
}

// FullName returns "schema.table", or just "table" when no schema applies.
func (d TableDefinition) FullName() string {
	if d.Schema == "" {
		return d.Name
	}
	return d.Schema + "." + d.Name
}

// Catalog introspects and caches table existence, columns, primary keys and
// the backend's paging capability for one data source. It is created once
// per data source and lives for the process. All lookups are keyed
// case-insensitively, cached forever, and populated single-flight:
// concurrent first-time probes for the same key do the work once.
type Catalog struct {
	drv      dialect.Driver
	provider Provider

	mu      sync.RWMutex
	tables  map[string][]TableDefinition
	columns map[string][]string
	keys    map[string][]string
	paging  *sqld.PagingMechanism

	group singleflight.Group
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithProvider overrides the introspection provider. By default the provider
// is resolved from the driver's dialect name at construction time; it is
// never inferred from error text at runtime.
func WithProvider(p Provider) Option {
	return func(c *Catalog) {
		c.provider = p
	}
}

// New returns a Catalog over the given driver.
func New(drv dialect.Driver, opts ...Option) *Catalog {
	c := &Catalog{
		drv:      drv,
		provider: ProviderFor(drv.Dialect()),
		tables:   make(map[string][]TableDefinition),
		columns:  make(map[string][]string),
		keys:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the active introspection provider.
func (c *Catalog) Provider() Provider { return c.provider }

// TableDefinition resolves a table name against the backend catalog.
// A name matching tables in more than one schema is a fatal ambiguity; the
// error names every matching schema. A name matching nothing returns a
// *TableNotFoundError.
func (c *Catalog) TableDefinition(ctx context.Context, name string) (TableDefinition, error) {
	key := strings.ToLower(name)
	c.mu.RLock()
	defs, ok := c.tables[key]
	c.mu.RUnlock()
	if !ok {
		v, err, _ := c.group.Do("table:"+key, func() (any, error) {
			// Re-check under the flight: a caller that raced a completed
			// flight must not probe again.
			c.mu.RLock()
			cached, ok := c.tables[key]
			c.mu.RUnlock()
			if ok {
				return cached, nil
			}
			found, err := c.provider.tableDefinitions(ctx, c.drv, key)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.tables[key] = found
			c.mu.Unlock()
			return found, nil
		})
		if err != nil {
			return TableDefinition{}, err
		}
		defs = v.([]TableDefinition)
	}
	switch len(defs) {
	case 0:
		return TableDefinition{}, &TableNotFoundError{Name: name}
	case 1:
		return defs[0], nil
	default:
		schemas := make([]string, len(defs))
		for i, d := range defs {
			schemas[i] = d.Schema
		}
		return TableDefinition{}, &AmbiguityError{Name: name, Schemas: schemas}
	}
}

// Columns returns the ordered column names of the table. Column order
// defines the default SELECT order and the paging tie-break.
func (c *Catalog) Columns(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)
	c.mu.RLock()
	cols, ok := c.columns[key]
	c.mu.RUnlock()
	if ok {
		return cols, nil
	}
	v, err, _ := c.group.Do("columns:"+key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.columns[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		cols, err := c.provider.columns(ctx, c.drv, key)
		if err != nil {
			return nil, fmt.Errorf("catalog: columns of %q: %w", table, err)
		}
		c.mu.Lock()
		c.columns[key] = cols
		c.mu.Unlock()
		return cols, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// PrimaryKeys returns the ordered primary-key column names of the table.
// Discovery is backend-specific and selected by the configured provider.
func (c *Catalog) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)
	c.mu.RLock()
	keys, ok := c.keys[key]
	c.mu.RUnlock()
	if ok {
		return keys, nil
	}
	v, err, _ := c.group.Do("keys:"+key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.keys[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		keys, err := c.provider.primaryKeys(ctx, c.drv, key)
		if err != nil {
			return nil, fmt.Errorf("catalog: primary keys of %q: %w", table, err)
		}
		c.mu.Lock()
		c.keys[key] = keys
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// HasColumn reports if the table owns the named column, case-insensitively.
func (c *Catalog) HasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, col := range cols {
		if strings.EqualFold(col, column) {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops every cached introspection result. The next lookup
// re-probes the backend. Paging capability is retained: it is a backend
// property that does not change with schema edits.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[string][]TableDefinition)
	c.columns = make(map[string][]string)
	c.keys = make(map[string][]string)
}
