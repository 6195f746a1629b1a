package mapping

import (
	"context"
	"strings"
	"sync"

	"github.com/xanotech/xrepo/catalog"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// Field is one declared field of a descriptor, with explicit accessors.
// Descriptors replace runtime reflection: every get and set goes through
// these functions, built once at registration.
type Field struct {
	// Name is the declared field name.
	Name string
	// Ref names the descriptor of the referenced mapped type when the
	// field holds a mapped object (to-one) or a collection of mapped
	// objects (to-many). Empty for plain scalar fields.
	Ref string
	// List marks a collection field.
	List bool
	// Get reads the field from an instance.
	Get func(obj any) any
	// Set writes the field on an instance; nil for read-only fields.
	Set func(obj any, value any)
}

// Descriptor declares how one domain type maps to tables and columns.
// It is plain registration data; the Registry validates and resolves it.
type Descriptor struct {
	// Name is the type name. It doubles as the default table name.
	Name string
	// Base names the declared base descriptor, empty at the hierarchy root.
	Base string
	// Table is an explicit table-mapping override. A type with an override
	// is mapped even when no table matches its name, and still inherits
	// its ancestors' tables.
	Table string
	// Columns maps field names to column names where they differ.
	Columns map[string]string
	// Fields enumerates the declared (non-inherited) fields.
	Fields []Field
	// New allocates a fresh instance of the type.
	New func() any
}

// Type is a registered, validated type: its descriptor plus the resolved
// table chain and key metadata. Types are immutable after registration.
type Type struct {
	desc    *Descriptor
	base    *Type
	tables  []catalog.TableDefinition // root-to-leaf
	columns map[string][]string       // full table name -> ordered columns
	keys    []string                  // shared primary-key columns, in order
	idField string                    // settable field backing the single key, if any
}

// Name returns the type name.
func (t *Type) Name() string { return t.desc.Name }

// Base returns the declared base type, or nil at the hierarchy root.
func (t *Type) Base() *Type { return t.base }

// New allocates a fresh instance.
func (t *Type) New() any { return t.desc.New() }

// TableNames returns the full names of the backing tables, root-to-leaf.
func (t *Type) TableNames() []string {
	names := make([]string, len(t.tables))
	for i, d := range t.tables {
		names[i] = d.FullName()
	}
	return names
}

// Keys returns the shared primary-key columns of the chain, in order.
func (t *Type) Keys() []string { return t.keys }

// Chain returns the builder table chain for the type.
func (t *Type) Chain() sqld.TableChain {
	chain := sqld.TableChain{Keys: t.keys}
	for _, d := range t.tables {
		full := d.FullName()
		chain.Tables = append(chain.Tables, sqld.ChainTable{Name: full, Columns: t.columns[full]})
	}
	return chain
}

// Column resolves a field name to its column name, applying overrides
// declared anywhere on the ancestor chain.
func (t *Type) Column(field string) string {
	for cur := t; cur != nil; cur = cur.base {
		for f, col := range cur.desc.Columns {
			if strings.EqualFold(f, field) {
				return col
			}
		}
	}
	return field
}

// IDField returns the settable field backing the type's single primary-key
// column. It is valid only when the chain has exactly one key column and a
// declared field matches it; otherwise the second result is false.
func (t *Type) IDField() (string, bool) {
	if t.idField == "" {
		return "", false
	}
	return t.idField, true
}

// Fields enumerates declared fields root-to-leaf, base fields first.
func (t *Type) Fields() []Field {
	var out []Field
	if t.base != nil {
		out = t.base.Fields()
	}
	return append(out, t.desc.Fields...)
}

// FieldByName finds a declared or inherited field, case-insensitively.
func (t *Type) FieldByName(name string) (Field, bool) {
	for cur := t; cur != nil; cur = cur.base {
		for _, f := range cur.desc.Fields {
			if strings.EqualFold(f.Name, name) {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Get reads a field from an instance through its descriptor accessor.
func (t *Type) Get(obj any, field string) (any, bool) {
	f, ok := t.FieldByName(field)
	if !ok || f.Get == nil {
		return nil, false
	}
	return f.Get(obj), true
}

// Set writes a field on an instance through its descriptor accessor.
func (t *Type) Set(obj any, field string, value any) bool {
	f, ok := t.FieldByName(field)
	if !ok || f.Set == nil {
		return false
	}
	f.Set(obj, value)
	return true
}

// Registry maps domain types to their backing tables for one data source.
// Registration is explicit and validated eagerly: table-chain key mismatches
// and column-override typos fail at registration, before any statement runs.
type Registry struct {
	catalog *catalog.Catalog

	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry returns an empty Registry over the given catalog.
func NewRegistry(c *catalog.Catalog) *Registry {
	return &Registry{catalog: c, types: make(map[string]*Type)}
}

// Catalog returns the registry's schema catalog.
func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }

// Lookup returns the registered type by name, case-insensitively.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[strings.ToLower(name)]
	return t, ok
}

// Types returns every registered type.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	return out
}

// Register validates the descriptor against the live catalog and adds it to
// the registry. The descriptor's base, if any, must already be registered.
func (r *Registry) Register(ctx context.Context, desc *Descriptor) (*Type, error) {
	if desc.Name == "" {
		return nil, &RegistrationError{Op: "register", Reason: "descriptor has no type name"}
	}
	var base *Type
	if desc.Base != "" {
		var ok bool
		base, ok = r.Lookup(desc.Base)
		if !ok {
			return nil, &RegistrationError{
				TypeName: desc.Name, Op: "register",
				Reason: "base type " + desc.Base + " is not registered",
			}
		}
	}
	t := &Type{desc: desc, base: base, columns: make(map[string][]string)}
	if err := r.resolveTables(ctx, t); err != nil {
		return nil, err
	}
	if err := r.resolveKeys(ctx, t); err != nil {
		return nil, err
	}
	if err := r.validateOverrides(t); err != nil {
		return nil, err
	}
	r.resolveIDField(t)
	r.mu.Lock()
	r.types[strings.ToLower(desc.Name)] = t
	r.mu.Unlock()
	return t, nil
}

// resolveTables walks the ancestor chain root-to-leaf, collecting one table
// per ancestor with a matching catalog definition. Zero collected tables is
// fatal unless the type declares an explicit table override.
func (r *Registry) resolveTables(ctx context.Context, t *Type) error {
	// Ancestors root-first.
	var lineage []*Descriptor
	for cur := t; cur != nil; cur = cur.base {
		lineage = append([]*Descriptor{cur.desc}, lineage...)
	}
	for _, desc := range lineage {
		name := desc.Name
		if desc.Table != "" {
			name = desc.Table
		}
		def, err := r.catalog.TableDefinition(ctx, name)
		if err != nil {
			if catalog.IsNotFound(err) {
				continue
			}
			return err
		}
		cols, err := r.catalog.Columns(ctx, def.Name)
		if err != nil {
			return err
		}
		t.tables = append(t.tables, def)
		t.columns[def.FullName()] = cols
	}
	if len(t.tables) == 0 {
		return &UnmappedTypeError{TypeName: t.desc.Name}
	}
	return nil
}

// resolveKeys loads each chain table's primary keys and enforces the chain
// invariant: identical key column sets, same order, end-to-end.
func (r *Registry) resolveKeys(ctx context.Context, t *Type) error {
	for i, def := range t.tables {
		keys, err := r.catalog.PrimaryKeys(ctx, def.Name)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return &KeyMismatchError{
				TypeName: t.desc.Name, Table: def.FullName(),
				Reason: "table has no primary key",
			}
		}
		if i == 0 {
			t.keys = keys
			continue
		}
		if !equalFoldSlices(t.keys, keys) {
			return &KeyMismatchError{
				TypeName: t.desc.Name, Table: def.FullName(),
				Reason: "primary keys (" + strings.Join(keys, ", ") +
					") differ from chain root keys (" + strings.Join(t.keys, ", ") + ")",
			}
		}
	}
	return nil
}

// validateOverrides checks every column override against the real column
// sets of the chain, failing fast on typos.
func (r *Registry) validateOverrides(typ *Type) error {
	for field, column := range typ.desc.Columns {
		found := false
		for _, cols := range typ.columns {
			for _, c := range cols {
				if strings.EqualFold(c, column) {
					found = true
					break
				}
			}
		}
		if !found {
			return &ColumnOverrideError{
				TypeName: typ.desc.Name, Field: field, Column: column,
				Tables: typ.TableNames(),
			}
		}
	}
	return nil
}

// resolveIDField records the settable field backing the single key column,
// when the chain has exactly one key and such a field exists.
func (r *Registry) resolveIDField(t *Type) {
	if len(t.keys) != 1 {
		return
	}
	key := t.keys[0]
	for _, f := range t.Fields() {
		if f.Set == nil {
			continue
		}
		if strings.EqualFold(t.Column(f.Name), key) {
			t.idField = f.Name
			return
		}
	}
}

func equalFoldSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
