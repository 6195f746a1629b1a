package sql

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xanotech/xrepo/criteria"
	"github.com/xanotech/xrepo/dialect"
)

// PagingMechanism is the backend idiom used to skip and limit rows.
// It is probed once per data source and cached; paging capability is a
// property of the backend, not of any one table.
type PagingMechanism int

const (
	// PagingLimitOffset pages with the LIMIT n [OFFSET m] clause.
	PagingLimitOffset PagingMechanism = iota
	// PagingOffsetFetch pages with ORDER BY ... OFFSET m ROWS
	// [FETCH FIRST n ROWS ONLY].
	PagingOffsetFetch
	// PagingProgrammatic emits no paging clause; the materialization stage
	// counts rows as they stream and retains only the requested slice.
	PagingProgrammatic
)

// String returns the mechanism name.
func (m PagingMechanism) String() string {
	switch m {
	case PagingLimitOffset:
		return "LimitOffset"
	case PagingOffsetFetch:
		return "OffsetFetch"
	case PagingProgrammatic:
		return "Programmatic"
	default:
		return "PagingMechanism(" + strconv.Itoa(int(m)) + ")"
	}
}

// ChainTable is one physical table inside a type's table chain, together
// with its column order. Column order defines the default SELECT order and
// the paging tie-break column.
type ChainTable struct {
	Name    string
	Columns []string
}

// resolves reports if the table owns the named column, case-insensitively.
func (t ChainTable) resolves(column string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// TableChain is the ordered root-to-leaf list of tables backing a mapped
// type, joined on primary-key equality. The chain invariant (identical
// primary-key column sets, same order, end-to-end) is validated by the
// type mapper before a chain reaches a builder.
type TableChain struct {
	Tables []ChainTable
	Keys   []string
}

// Single returns a chain over one table.
func Single(name string, columns, keys []string) TableChain {
	return TableChain{Tables: []ChainTable{{Name: name, Columns: columns}}, Keys: keys}
}

// Owner resolves the column against the chain and returns the qualified
// column name owned by the first matching table.
func (tc TableChain) Owner(column string) (string, bool) {
	for _, t := range tc.Tables {
		if t.resolves(column) {
			if len(tc.Tables) == 1 {
				return column, true
			}
			return t.Name + "." + column, true
		}
	}
	return "", false
}

// UnresolvablePolicy decides how a criterion whose column does not resolve
// against any chain table is rendered.
type UnresolvablePolicy int

const (
	// PolicyAlwaysFalse renders an unresolvable criterion as a constant
	// false predicate. This is the default: silently widening a result set
	// is the more dangerous failure.
	PolicyAlwaysFalse UnresolvablePolicy = iota
	// PolicyDrop drops the unresolvable criterion from the statement.
	PolicyDrop
)

// SortKey is a single ORDER BY entry. Direction follows the cursor
// convention: positive ascending, negative descending, zero skipped.
type SortKey struct {
	Column    string
	Direction int
}

// Builder is the shared state of the statement builders: dialect name,
// accumulated text, positional arguments, parameter names and deferred
// errors. Placeholders are written as "?" and rebound to the dialect's
// native style when the statement is finalized.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
	names   []string
	params  *criteria.ParamSet
	errs    []error
}

func newBuilder(dialect string) Builder {
	return Builder{dialect: dialect, params: criteria.NewParamSet()}
}

// Dialect returns the builder's dialect name.
func (b *Builder) Dialect() string { return b.dialect }

// ParamNames returns the bind-parameter names in bind order, for the log sink.
func (b *Builder) ParamNames() []string { return b.names }

// Err returns the first deferred build error, if any.
func (b *Builder) Err() error {
	if len(b.errs) > 0 {
		return b.errs[0]
	}
	return nil
}

func (b *Builder) addError(err error) { b.errs = append(b.errs, err) }

// ident validates and writes an identifier. Identifiers are emitted as-is
// for portability; validation rejects anything that is not a dotted
// alphanumeric name so user input can never splice into statement text.
func (b *Builder) ident(name string) {
	if !ValidIdentifier(name) {
		b.addError(fmt.Errorf("dialect/sql: invalid identifier %q", name))
		return
	}
	b.sb.WriteString(name)
}

func (b *Builder) writeRendered(r criteria.Rendered) {
	b.sb.WriteString(r.SQL)
	for _, p := range r.Params {
		b.args = append(b.args, p.Value)
		b.names = append(b.names, p.Name)
	}
}

// String finalizes the statement text, rebinding placeholders for the dialect.
func (b *Builder) String() string {
	return rebind(b.dialect, b.sb.String())
}

// Args returns the positional bind arguments.
func (b *Builder) Args() []any { return b.args }

// ValidIdentifier reports if the string is a plain or dotted SQL identifier:
// every dot-separated segment starts with a letter or underscore and
// continues with letters, digits or underscores.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			switch {
			case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_':
			case ch >= '0' && ch <= '9':
				if i == 0 {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

// Rebind converts "?" placeholders to the dialect's native parameter style:
// $n for Postgres, :n for Oracle, @pn for SQL Server, unchanged otherwise.
func Rebind(dialect, query string) string {
	return rebind(dialect, query)
}

func rebind(d, query string) string {
	var prefix string
	switch d {
	case dialect.Postgres:
		prefix = "$"
	case dialect.Oracle:
		prefix = ":"
	case dialect.SQLServer:
		prefix = "@p"
	default:
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteString(prefix)
			sb.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// Selector builds SELECT and COUNT statements over a table chain.
type Selector struct {
	Builder
	chain  TableChain
	count  bool
	policy UnresolvablePolicy
	where  []*criteria.Criterion
	sort   []SortKey
	paging PagingMechanism
	limit  *int
	offset *int
}

// NewSelector returns a Selector for the given dialect and table chain.
func NewSelector(dialect string, chain TableChain) *Selector {
	return &Selector{Builder: newBuilder(dialect), chain: chain}
}

// CountAll switches the projection to COUNT(*). Sort and paging clauses are
// not emitted for counts.
func (s *Selector) CountAll() *Selector {
	s.count = true
	return s
}

// Policy sets the unresolvable-column policy.
func (s *Selector) Policy(p UnresolvablePolicy) *Selector {
	s.policy = p
	return s
}

// Where appends criteria to the statement, combined with AND.
func (s *Selector) Where(crits ...*criteria.Criterion) *Selector {
	s.where = append(s.where, crits...)
	return s
}

// OrderBy appends sort keys. Keys whose column does not resolve against the
// chain and keys with a zero direction are skipped at build time.
func (s *Selector) OrderBy(keys ...SortKey) *Selector {
	s.sort = append(s.sort, keys...)
	return s
}

// Paging sets the paging mechanism and the requested window. Nil limit or
// offset means unset.
func (s *Selector) Paging(m PagingMechanism, limit, offset *int) *Selector {
	s.paging, s.limit, s.offset = m, limit, offset
	return s
}

// Query builds the statement and returns the text and bind arguments.
func (s *Selector) Query() (string, []any, error) {
	if s.count {
		s.sb.WriteString("SELECT COUNT(*)")
	} else {
		// Project * for portability; physical column order is taken from
		// the catalog when rows are scanned.
		s.sb.WriteString("SELECT *")
	}
	s.fromClause()
	s.whereClause()
	if !s.count {
		ordered := s.orderByClause()
		s.pagingClause(ordered)
	}
	if err := s.Err(); err != nil {
		return "", nil, err
	}
	return s.String(), s.Args(), nil
}

func (s *Selector) fromClause() {
	s.sb.WriteString(" FROM ")
	for i, t := range s.chain.Tables {
		if i == 0 {
			s.ident(t.Name)
			continue
		}
		prev := s.chain.Tables[i-1]
		s.sb.WriteString(" INNER JOIN ")
		s.ident(t.Name)
		s.sb.WriteString(" ON ")
		for k, key := range s.chain.Keys {
			if k > 0 {
				s.sb.WriteString(" AND ")
			}
			s.ident(prev.Name + "." + key)
			s.sb.WriteString(" = ")
			s.ident(t.Name + "." + key)
		}
	}
}

func (s *Selector) whereClause() {
	first := true
	for _, c := range s.where {
		column, ok := s.chain.Owner(c.Name())
		if !ok && s.policy == PolicyDrop {
			continue
		}
		if first {
			s.sb.WriteString(" WHERE ")
			first = false
		} else {
			s.sb.WriteString(" AND ")
		}
		if !ok {
			s.sb.WriteString(criteria.AlwaysFalse)
			continue
		}
		if !ValidIdentifier(column) {
			s.addError(fmt.Errorf("dialect/sql: invalid identifier %q", column))
			continue
		}
		s.writeRendered(c.Render(column, s.params))
	}
}

// orderByClause emits ORDER BY and reports whether any key was written.
func (s *Selector) orderByClause() bool {
	first := true
	for _, k := range s.sort {
		if k.Direction == 0 {
			continue
		}
		column, ok := s.chain.Owner(k.Column)
		if !ok {
			continue
		}
		if first {
			s.sb.WriteString(" ORDER BY ")
			first = false
		} else {
			s.sb.WriteString(", ")
		}
		s.ident(column)
		if k.Direction < 0 {
			s.sb.WriteString(" DESC")
		}
	}
	return !first
}

func (s *Selector) pagingClause(ordered bool) {
	switch s.paging {
	case PagingLimitOffset:
		skipping := s.offset != nil && *s.offset > 0
		if s.limit != nil {
			s.sb.WriteString(" LIMIT ")
			s.sb.WriteString(strconv.Itoa(*s.limit))
		} else if skipping {
			// OFFSET is only legal after LIMIT on MySQL and SQLite; an
			// unbounded skip pairs it with the largest signed limit.
			s.sb.WriteString(" LIMIT ")
			s.sb.WriteString(strconv.FormatInt(math.MaxInt64, 10))
		}
		if skipping {
			s.sb.WriteString(" OFFSET ")
			s.sb.WriteString(strconv.Itoa(*s.offset))
		}
	case PagingOffsetFetch:
		if s.limit == nil && s.offset == nil {
			return
		}
		// OFFSET/FETCH is only legal after ORDER BY; default to the first
		// physical column as the deterministic tie-break.
		if !ordered {
			s.sb.WriteString(" ORDER BY ")
			if len(s.chain.Tables) > 0 && len(s.chain.Tables[0].Columns) > 0 {
				column := s.chain.Tables[0].Columns[0]
				if len(s.chain.Tables) > 1 {
					column = s.chain.Tables[0].Name + "." + column
				}
				s.ident(column)
			} else {
				s.sb.WriteString("1")
			}
		}
		offset := 0
		if s.offset != nil {
			offset = *s.offset
		}
		s.sb.WriteString(" OFFSET ")
		s.sb.WriteString(strconv.Itoa(offset))
		s.sb.WriteString(" ROWS")
		if s.limit != nil {
			s.sb.WriteString(" FETCH FIRST ")
			s.sb.WriteString(strconv.Itoa(*s.limit))
			s.sb.WriteString(" ROWS ONLY")
		}
	case PagingProgrammatic:
		// The full result executes; the materialization stage bounds the
		// returned object count.
	}
}

// Inserter builds an INSERT statement for one table.
type Inserter struct {
	Builder
	table   string
	columns []string
	values  []any
}

// NewInserter returns an Inserter for the given dialect and table.
func NewInserter(dialect, table string) *Inserter {
	return &Inserter{Builder: newBuilder(dialect), table: table}
}

// Set appends a column/value pair.
func (i *Inserter) Set(column string, value any) *Inserter {
	i.columns = append(i.columns, column)
	i.values = append(i.values, value)
	return i
}

// Query builds the statement and returns the text and bind arguments.
func (i *Inserter) Query() (string, []any, error) {
	i.sb.WriteString("INSERT INTO ")
	i.ident(i.table)
	i.sb.WriteString(" (")
	for n, c := range i.columns {
		if n > 0 {
			i.sb.WriteString(", ")
		}
		i.ident(c)
	}
	i.sb.WriteString(") VALUES (")
	for n, v := range i.values {
		if n > 0 {
			i.sb.WriteString(", ")
		}
		i.sb.WriteString("?")
		i.args = append(i.args, v)
		i.names = append(i.names, i.columns[n])
	}
	i.sb.WriteString(")")
	if err := i.Err(); err != nil {
		return "", nil, err
	}
	return i.String(), i.Args(), nil
}

// Updater builds an UPDATE statement for one table, keyed by primary key.
type Updater struct {
	Builder
	table     string
	columns   []string
	values    []any
	keys      []string
	keyValues []any
}

// NewUpdater returns an Updater for the given dialect and table.
func NewUpdater(dialect, table string) *Updater {
	return &Updater{Builder: newBuilder(dialect), table: table}
}

// Set appends a column/value pair to the SET clause.
func (u *Updater) Set(column string, value any) *Updater {
	u.columns = append(u.columns, column)
	u.values = append(u.values, value)
	return u
}

// Key appends a primary-key column/value pair to the WHERE clause.
// A nil value degrades the predicate to IS NULL.
func (u *Updater) Key(column string, value any) *Updater {
	u.keys = append(u.keys, column)
	u.keyValues = append(u.keyValues, value)
	return u
}

// Query builds the statement and returns the text and bind arguments.
func (u *Updater) Query() (string, []any, error) {
	u.sb.WriteString("UPDATE ")
	u.ident(u.table)
	u.sb.WriteString(" SET ")
	for n, c := range u.columns {
		if n > 0 {
			u.sb.WriteString(", ")
		}
		u.ident(c)
		u.sb.WriteString(" = ?")
		u.args = append(u.args, u.values[n])
		u.names = append(u.names, c)
	}
	keyClause(&u.Builder, u.keys, u.keyValues)
	if err := u.Err(); err != nil {
		return "", nil, err
	}
	return u.String(), u.Args(), nil
}

// Deleter builds a DELETE statement for one table, keyed by primary key.
type Deleter struct {
	Builder
	table     string
	keys      []string
	keyValues []any
}

// NewDeleter returns a Deleter for the given dialect and table.
func NewDeleter(dialect, table string) *Deleter {
	return &Deleter{Builder: newBuilder(dialect), table: table}
}

// Key appends a primary-key column/value pair to the WHERE clause.
// A nil value degrades the predicate to IS NULL.
func (d *Deleter) Key(column string, value any) *Deleter {
	d.keys = append(d.keys, column)
	d.keyValues = append(d.keyValues, value)
	return d
}

// Query builds the statement and returns the text and bind arguments.
func (d *Deleter) Query() (string, []any, error) {
	d.sb.WriteString("DELETE FROM ")
	d.ident(d.table)
	keyClause(&d.Builder, d.keys, d.keyValues)
	if err := d.Err(); err != nil {
		return "", nil, err
	}
	return d.String(), d.Args(), nil
}

// keyClause writes the primary-key WHERE clause shared by Updater and
// Deleter. Null key values render as IS NULL, which also changes the
// statement shape; callers must not reuse such statements as prepared
// statements across objects.
func keyClause(b *Builder, keys []string, values []any) {
	for n, k := range keys {
		if n == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		b.ident(k)
		if values[n] == nil {
			b.sb.WriteString(" IS NULL")
			continue
		}
		b.sb.WriteString(" = ?")
		b.args = append(b.args, values[n])
		b.names = append(b.names, k)
	}
}

// KeyShape returns a signature of the key columns and their null pattern.
// Statements sharing a table and key shape can be prepared once and rebound
// per object; any null key yields a distinct shape that is never prepared.
func KeyShape(table string, keys []string, values []any) (shape string, hasNull bool) {
	var sb strings.Builder
	sb.WriteString(table)
	for n, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		if values[n] == nil {
			sb.WriteString("!")
			hasNull = true
		}
	}
	return sb.String(), hasNull
}
