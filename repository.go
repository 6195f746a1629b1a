package xrepo

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/xanotech/xrepo/catalog"
	"github.com/xanotech/xrepo/config"
	"github.com/xanotech/xrepo/criteria"
	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
	"github.com/xanotech/xrepo/mapping"
	"github.com/xanotech/xrepo/recordset"
	"github.com/xanotech/xrepo/relation"
	"github.com/xanotech/xrepo/sequence"
)

// Repository is the facade over one data source: it orchestrates the schema
// catalog, type registry, criterion rendering, statement building, paging,
// association resolution, identity sequencing and interceptor hooks behind
// Count, Find, Save and Remove.
//
// A Repository is safe for concurrent use. Each top-level call acquires its
// connections lazily and releases them on every exit path; shared state is
// limited to the per-data-source caches.
type Repository struct {
	drv       dialect.Driver
	catalog   *catalog.Catalog
	registry  *mapping.Registry
	resolver  *relation.Resolver
	sequencer sequence.Sequencer
	hooks     []Hook
	cache     Cache
	cacheTTL  time.Duration

	policy       sqld.UnresolvablePolicy
	likeEquality bool
	txless       bool
	provider     catalog.Provider
	cfg          *config.Config
}

// Option configures a Repository.
type Option func(*Repository)

// WithProvider selects the catalog introspection strategy explicitly.
func WithProvider(p catalog.Provider) Option {
	return func(r *Repository) { r.provider = p }
}

// WithSequencer configures identity allocation for objects saved without one.
func WithSequencer(s sequence.Sequencer) Option {
	return func(r *Repository) { r.sequencer = s }
}

// WithHooks appends interceptor hooks, run in registration order.
func WithHooks(hooks ...Hook) Option {
	return func(r *Repository) { r.hooks = append(r.hooks, hooks...) }
}

// WithCache spills fetched record sets through the cache with the given TTL.
// Saves and removes invalidate by table prefix.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Repository) { r.cache = c; r.cacheTTL = ttl }
}

// WithUnresolvablePolicy picks how criteria naming no known column render.
func WithUnresolvablePolicy(p sqld.UnresolvablePolicy) Option {
	return func(r *Repository) { r.policy = p }
}

// WithLikeEquality rewrites EqualTo criteria to Like (and NotEqualTo to
// NotLike) before building statements.
func WithLikeEquality(enabled bool) Option {
	return func(r *Repository) { r.likeEquality = enabled }
}

// WithoutTransactions degrades write batches to autocommit-per-statement,
// for backends without transaction support.
func WithoutTransactions() Option {
	return func(r *Repository) { r.txless = true }
}

// WithConfig applies a loaded configuration: provider, statement policies
// and per-type mapping overrides.
func WithConfig(cfg *config.Config) Option {
	return func(r *Repository) {
		r.cfg = cfg
		r.policy = cfg.Policy()
		r.likeEquality = cfg.LikeEquality
		if cfg.Provider != "" {
			r.provider = cfg.CatalogProvider()
		}
	}
}

// New returns a Repository over the driver.
func New(drv dialect.Driver, opts ...Option) *Repository {
	r := &Repository{drv: drv, policy: sqld.PolicyAlwaysFalse}
	for _, opt := range opts {
		opt(r)
	}
	var copts []catalog.Option
	if r.provider != "" {
		copts = append(copts, catalog.WithProvider(r.provider))
	}
	r.catalog = catalog.New(drv, copts...)
	r.registry = mapping.NewRegistry(r.catalog)
	r.resolver = relation.NewResolver(r.registry, relation.FetcherFunc(r.fetchByKeys))
	return r
}

// Open connects to the configured data source and returns a Repository with
// the configuration applied: statement instrumentation when a slow-query
// threshold is set, and the configured sequencer strategy.
func Open(cfg *config.Config, opts ...Option) (*Repository, error) {
	base, err := sqld.Open(cfg.Provider, cfg.DSN)
	if err != nil {
		return nil, err
	}
	var drv dialect.Driver = base
	if cfg.SlowQueryThreshold > 0 {
		drv = sqld.NewStatsDriver(base,
			sqld.WithSlowThreshold(cfg.SlowQueryThreshold.Std()),
			sqld.WithStatementHook(sqld.SlogStatementHook(nil)))
	}
	r := New(drv, append([]Option{WithConfig(cfg)}, opts...)...)
	switch cfg.Sequencer.Strategy {
	case config.SequencerLocal:
		r.sequencer = sequence.NewLocal(drv)
	case config.SequencerBacked:
		var bopts []sequence.BackedOption
		if cfg.Sequencer.Table != "" {
			bopts = append(bopts, sequence.WithTable(cfg.Sequencer.Table))
		}
		r.sequencer = sequence.NewBacked(drv, r.catalog, bopts...)
	}
	return r, nil
}

// Driver returns the underlying driver.
func (r *Repository) Driver() dialect.Driver { return r.drv }

// Catalog returns the schema catalog.
func (r *Repository) Catalog() *catalog.Catalog { return r.catalog }

// Registry returns the type registry.
func (r *Repository) Registry() *mapping.Registry { return r.registry }

// Register registers a type descriptor, applying any configured mapping
// overrides for the type first.
func (r *Repository) Register(ctx context.Context, desc *mapping.Descriptor) (*mapping.Type, error) {
	if r.cfg != nil {
		if m, ok := r.cfg.Mapping(desc.Name); ok {
			if m.Table != "" {
				desc.Table = m.Table
			}
			if len(m.Columns) > 0 && desc.Columns == nil {
				desc.Columns = make(map[string]string)
			}
			for field, col := range m.Columns {
				desc.Columns[field] = col
			}
		}
	}
	return r.registry.Register(ctx, desc)
}

// Reload applies a re-read configuration: policy flags take effect for
// subsequent calls, the catalog drops its cached schema so the next lookup
// re-introspects, and the result cache is cleared. Registered types keep
// their resolved chains until re-registered.
func (r *Repository) Reload(ctx context.Context, cfg *config.Config) {
	r.cfg = cfg
	r.policy = cfg.Policy()
	r.likeEquality = cfg.LikeEquality
	r.catalog.Invalidate()
	if r.cache != nil {
		r.cache.Clear(ctx)
	}
}

// Count returns the number of rows matching the criteria, ignoring paging.
func (r *Repository) Count(ctx context.Context, typeName string, crit any) (int64, error) {
	typ, ok := r.registry.Lookup(typeName)
	if !ok {
		return 0, &UnknownTypeError{Name: typeName}
	}
	crits, err := r.normalizeCriteria(typ, crit)
	if err != nil {
		return 0, err
	}
	return r.countChain(ctx, typ.Name(), typ.Chain(), crits)
}

// Find returns a Cursor over the objects matching the criteria. The
// criteria are fixed at creation; paging, sorting and join supplies chain
// onto the cursor. Errors from normalization surface at enumeration.
func (r *Repository) Find(typeName string, crit any) *Cursor {
	c := &Cursor{repo: r, skip: -1, limit: -1}
	typ, ok := r.registry.Lookup(typeName)
	if !ok {
		c.err = &UnknownTypeError{Name: typeName}
		return c
	}
	c.typ = typ
	c.criteria, c.err = r.normalizeCriteria(typ, crit)
	return c
}

// FindOne returns the first object matching the criteria, or nil when
// nothing matches.
func (r *Repository) FindOne(ctx context.Context, typeName string, crit any) (any, error) {
	objects, err := r.Find(typeName, crit).Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return objects[0], nil
}

// Save writes each object to every table in its type's chain: rows are
// probed by primary key and inserted or updated accordingly. Objects
// lacking an identity receive one from the configured sequencer first,
// allocated in one batch per root table. The whole batch runs in one
// transaction when the backend supports it.
func (r *Repository) Save(ctx context.Context, typeName string, objects ...any) error {
	if len(objects) == 0 {
		return nil
	}
	typ, ok := r.registry.Lookup(typeName)
	if !ok {
		return &UnknownTypeError{Name: typeName}
	}
	op := newOperation("save", typ.Name(), "", nil)
	if err := r.runMutationHooks(ctx, op, objects, true); err != nil {
		return err
	}
	if err := r.allocateIdentities(ctx, typ, objects); err != nil {
		return err
	}
	tx := r.begin(ctx)
	stmts := make(map[string]string)
	for _, obj := range objects {
		if err := r.saveObject(ctx, tx, typ, obj, stmts); err != nil {
			tx.Rollback()
			if sqld.IsUniqueConstraintError(err) {
				return NewConstraintError(typ.Name(), err)
			}
			return &MutationError{Label: typ.Name(), Op: "save", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &MutationError{Label: typ.Name(), Op: "save", Err: err}
	}
	r.invalidateCache(ctx, typ.TableNames())
	return r.runMutationHooks(ctx, op, objects, false)
}

// Remove deletes each object's rows from every table in its type's chain,
// leaf to root, keyed by primary key. A null-valued key degrades the
// predicate to IS NULL.
func (r *Repository) Remove(ctx context.Context, typeName string, objects ...any) error {
	if len(objects) == 0 {
		return nil
	}
	typ, ok := r.registry.Lookup(typeName)
	if !ok {
		return &UnknownTypeError{Name: typeName}
	}
	op := newOperation("remove", typ.Name(), "", nil)
	if err := r.runMutationHooks(ctx, op, objects, true); err != nil {
		return err
	}
	keys := typ.Keys()
	chain := typ.Chain()
	tx := r.begin(ctx)
	stmts := make(map[string]string)
	for _, obj := range objects {
		keyVals := r.keyValues(typ, obj)
		for i := len(chain.Tables) - 1; i >= 0; i-- {
			if err := r.deleteRow(ctx, tx, chain.Tables[i].Name, keys, keyVals, stmts); err != nil {
				tx.Rollback()
				return &MutationError{Label: typ.Name(), Op: "remove", Err: err}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return &MutationError{Label: typ.Name(), Op: "remove", Err: err}
	}
	r.invalidateCache(ctx, typ.TableNames())
	return r.runMutationHooks(ctx, op, objects, false)
}

// allocateIdentities assigns sequencer values to objects lacking one, in a
// single batched reservation per call.
func (r *Repository) allocateIdentities(ctx context.Context, typ *mapping.Type, objects []any) error {
	if r.sequencer == nil {
		return nil
	}
	idField, ok := typ.IDField()
	if !ok {
		return nil
	}
	var missing []any
	for _, obj := range objects {
		if v, _ := typ.Get(obj, idField); isEmptyValue(v) {
			missing = append(missing, obj)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	first, err := r.sequencer.NextValues(ctx, typ.TableNames()[0], typ.Keys()[0], len(missing))
	if err != nil {
		return &MutationError{Label: typ.Name(), Op: "save", Err: err}
	}
	for i, obj := range missing {
		typ.Set(obj, idField, first+int64(i))
	}
	return nil
}

func (r *Repository) saveObject(ctx context.Context, tx dialect.Tx, typ *mapping.Type, obj any, stmts map[string]string) error {
	keys := typ.Keys()
	keyVals := r.keyValues(typ, obj)
	for _, table := range typ.Chain().Tables {
		exists, err := r.rowExists(ctx, tx, table, keys, keyVals, stmts)
		if err != nil {
			return err
		}
		if exists {
			err = r.updateRow(ctx, tx, typ, obj, table, keys, keyVals, stmts)
		} else {
			err = r.insertRow(ctx, tx, typ, obj, table, stmts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// keyValues reads the object's primary-key values in key-column order.
func (r *Repository) keyValues(typ *mapping.Type, obj any) []any {
	keys := typ.Keys()
	vals := make([]any, len(keys))
	for i, k := range keys {
		if f, ok := fieldForColumn(typ, k); ok {
			vals[i], _ = typ.Get(obj, f.Name)
		}
	}
	return vals
}

// rowExists probes a chain table for the object's key. The probe statement
// is reused across the batch per table and key shape, except when a key is
// null: IS NULL shapes vary per null pattern and are rebuilt each time.
func (r *Repository) rowExists(ctx context.Context, tx dialect.Tx, table sqld.ChainTable, keys []string, keyVals []any, stmts map[string]string) (bool, error) {
	shape, hasNull := sqld.KeyShape(table.Name, keys, keyVals)
	stmtKey := "probe:" + shape
	var query string
	var args []any
	if !hasNull {
		if q, ok := stmts[stmtKey]; ok {
			query, args = q, keyVals
		}
	}
	if query == "" {
		crits := make([]*criteria.Criterion, len(keys))
		for i := range keys {
			crits[i] = criteria.New(keys[i], criteria.EqualTo, keyVals[i])
		}
		q, a, err := sqld.NewSelector(r.drv.Dialect(), sqld.Single(table.Name, table.Columns, keys)).
			CountAll().Where(crits...).Query()
		if err != nil {
			return false, err
		}
		query, args = q, a
		if !hasNull {
			stmts[stmtKey] = q
		}
	}
	rows := &sqld.Rows{}
	if err := tx.Query(ctx, query, args, rows); err != nil {
		return false, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

func (r *Repository) updateRow(ctx context.Context, tx dialect.Tx, typ *mapping.Type, obj any, table sqld.ChainTable, keys []string, keyVals []any, stmts map[string]string) error {
	var setCols []string
	var setVals []any
	for _, col := range table.Columns {
		if containsFold(keys, col) {
			continue
		}
		f, ok := fieldForColumn(typ, col)
		if !ok {
			continue
		}
		v, _ := typ.Get(obj, f.Name)
		setCols = append(setCols, col)
		setVals = append(setVals, v)
	}
	if len(setCols) == 0 {
		return nil
	}
	shape, hasNull := sqld.KeyShape(table.Name, keys, keyVals)
	stmtKey := "update:" + shape
	if !hasNull {
		if q, ok := stmts[stmtKey]; ok {
			return tx.Exec(ctx, q, append(setVals, keyVals...), nil)
		}
	}
	u := sqld.NewUpdater(r.drv.Dialect(), table.Name)
	for i := range setCols {
		u.Set(setCols[i], setVals[i])
	}
	for i := range keys {
		u.Key(keys[i], keyVals[i])
	}
	query, args, err := u.Query()
	if err != nil {
		return err
	}
	if !hasNull {
		stmts[stmtKey] = query
	}
	return tx.Exec(ctx, query, args, nil)
}

func (r *Repository) insertRow(ctx context.Context, tx dialect.Tx, typ *mapping.Type, obj any, table sqld.ChainTable, stmts map[string]string) error {
	var cols []string
	var vals []any
	for _, col := range table.Columns {
		f, ok := fieldForColumn(typ, col)
		if !ok {
			continue
		}
		v, _ := typ.Get(obj, f.Name)
		cols = append(cols, col)
		vals = append(vals, v)
	}
	stmtKey := "insert:" + table.Name
	if q, ok := stmts[stmtKey]; ok {
		return tx.Exec(ctx, q, vals, nil)
	}
	ins := sqld.NewInserter(r.drv.Dialect(), table.Name)
	for i := range cols {
		ins.Set(cols[i], vals[i])
	}
	query, args, err := ins.Query()
	if err != nil {
		return err
	}
	stmts[stmtKey] = query
	return tx.Exec(ctx, query, args, nil)
}

// deleteRow deletes one table's row by key. Delete statements are reused
// per table and key shape; IS NULL shapes are never reused.
func (r *Repository) deleteRow(ctx context.Context, tx dialect.Tx, table string, keys []string, keyVals []any, stmts map[string]string) error {
	shape, hasNull := sqld.KeyShape(table, keys, keyVals)
	stmtKey := "delete:" + shape
	if !hasNull {
		if q, ok := stmts[stmtKey]; ok {
			return tx.Exec(ctx, q, keyVals, nil)
		}
	}
	d := sqld.NewDeleter(r.drv.Dialect(), table)
	for i := range keys {
		d.Key(keys[i], keyVals[i])
	}
	query, args, err := d.Query()
	if err != nil {
		return err
	}
	if !hasNull {
		stmts[stmtKey] = query
	}
	return tx.Exec(ctx, query, args, nil)
}

// selectRecords builds and executes one SELECT over the chain, streaming
// rows into records through a bounded channel. Programmatic paging slices
// during collection; the other mechanisms page in SQL.
func (r *Repository) selectRecords(ctx context.Context, label string, chain sqld.TableChain, crits []*criteria.Criterion, sortKeys []sqld.SortKey, skip, limit int) ([]*recordset.Record, error) {
	mech, err := r.catalog.PagingMechanism(ctx)
	if err != nil {
		return nil, &QueryError{Label: label, Op: "find", Err: err}
	}
	var limitP, skipP *int
	if limit >= 0 {
		limitP = &limit
	}
	if skip >= 0 {
		skipP = &skip
	}
	query, args, err := sqld.NewSelector(r.drv.Dialect(), chain).
		Policy(r.policy).
		Where(crits...).
		OrderBy(sortKeys...).
		Paging(mech, limitP, skipP).
		Query()
	if err != nil {
		return nil, &QueryError{Label: label, Op: "find", Err: err}
	}
	op := newOperation("find", label, query, args)
	if err := r.runPreQuery(ctx, op); err != nil {
		return nil, err
	}

	var key string
	if r.cache != nil {
		key = CacheKey{Table: chain.Tables[0].Name, SQL: query, Args: args}.String()
		if data, cerr := r.cache.Get(ctx, key); cerr == nil && data != nil {
			if records, derr := decodeRecords(data); derr == nil {
				return records, nil
			}
		}
	}

	rows := &sqld.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, &QueryError{Label: label, Op: "find", Err: err}
	}
	collectSkip, collectLimit := -1, -1
	if mech == sqld.PagingProgrammatic {
		collectSkip, collectLimit = skip, limit
	}
	records, err := recordset.Collect(ctx, recordset.Stream(ctx, rows, 0), collectSkip, collectLimit)
	if err != nil {
		return nil, &QueryError{Label: label, Op: "find", Err: err}
	}
	names := make([]string, len(chain.Tables))
	for i, t := range chain.Tables {
		names[i] = t.Name
	}
	for _, rec := range records {
		rec.SetTableNames(names...)
	}
	if err := r.runPostFetch(ctx, op, records); err != nil {
		return nil, err
	}
	if r.cache != nil {
		if data, cerr := encodeRecords(records); cerr == nil {
			r.cache.Set(ctx, key, data, r.cacheTTL)
		}
	}
	return records, nil
}

// countChain issues a COUNT(*) over the chain, ignoring sort and paging.
func (r *Repository) countChain(ctx context.Context, label string, chain sqld.TableChain, crits []*criteria.Criterion) (int64, error) {
	query, args, err := sqld.NewSelector(r.drv.Dialect(), chain).
		CountAll().
		Policy(r.policy).
		Where(crits...).
		Query()
	if err != nil {
		return 0, &QueryError{Label: label, Op: "count", Err: err}
	}
	op := newOperation("count", label, query, args)
	if err := r.runPreQuery(ctx, op); err != nil {
		return 0, err
	}
	rows := &sqld.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return 0, &QueryError{Label: label, Op: "count", Err: err}
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, &QueryError{Label: label, Op: "count", Err: err}
		}
	}
	return n, rows.Err()
}

// fetchByKeys is the relation.Fetcher: one batched IN query for a
// referenced type. Association resolution of the fetched objects is left to
// the resolver's breadth-first loop.
func (r *Repository) fetchByKeys(ctx context.Context, typ *mapping.Type, column string, values []any) ([]any, error) {
	crit := criteria.NewList(column, criteria.EqualTo, values...)
	records, err := r.selectRecords(ctx, typ.Name(), typ.Chain(), []*criteria.Criterion{crit}, nil, -1, -1)
	if err != nil {
		return nil, err
	}
	objects := make([]any, len(records))
	for i, rec := range records {
		objects[i] = materialize(typ, rec)
	}
	return objects, nil
}

// normalizeCriteria turns shorthand criteria into a Criterion list: nil
// means everything, a Criterion or slice passes through, a map becomes one
// EqualTo criterion per entry (field names resolved to columns), and any
// other value matches the type's single identity column.
func (r *Repository) normalizeCriteria(typ *mapping.Type, crit any) ([]*criteria.Criterion, error) {
	var crits []*criteria.Criterion
	switch c := crit.(type) {
	case nil:
	case *criteria.Criterion:
		crits = []*criteria.Criterion{c}
	case []*criteria.Criterion:
		crits = c
	case map[string]any:
		names := make([]string, 0, len(c))
		for name := range c {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			crits = append(crits, criteria.New(typ.Column(name), criteria.EqualTo, c[name]))
		}
	default:
		keys := typ.Keys()
		if len(keys) != 1 {
			return nil, &QueryError{Label: typ.Name(), Op: "criteria",
				Err: &NotSingularError{label: typ.Name() + " identity column", count: len(keys)}}
		}
		crits = []*criteria.Criterion{criteria.New(keys[0], criteria.EqualTo, c)}
	}
	if r.likeEquality {
		criteria.RewriteLikeEquality(crits)
	}
	return crits, nil
}

func (r *Repository) invalidateCache(ctx context.Context, tables []string) {
	if r.cache == nil {
		return
	}
	for _, t := range tables {
		r.cache.DeletePrefix(ctx, t+":")
	}
}

// begin starts the per-call transaction, silently degrading to
// autocommit-per-statement when the backend cannot start one.
func (r *Repository) begin(ctx context.Context) dialect.Tx {
	if r.txless {
		return dialect.NopTx(r.drv)
	}
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return dialect.NopTx(r.drv)
	}
	return tx
}

// materialize builds one object from a record through the type's field
// accessors. Reference fields and null values are left at their zero value.
func materialize(typ *mapping.Type, rec *recordset.Record) any {
	obj := typ.New()
	for _, f := range typ.Fields() {
		if f.Ref != "" || f.Set == nil {
			continue
		}
		v, ok := rec.Get(typ.Column(f.Name))
		if !ok || v == nil {
			continue
		}
		typ.Set(obj, f.Name, v)
	}
	return obj
}

// fieldForColumn finds the scalar field backing a column.
func fieldForColumn(typ *mapping.Type, column string) (mapping.Field, bool) {
	for _, f := range typ.Fields() {
		if f.Ref != "" {
			continue
		}
		if strings.EqualFold(typ.Column(f.Name), column) {
			return f, true
		}
	}
	return mapping.Field{}, false
}

// isEmptyValue reports whether an identity value counts as absent.
func isEmptyValue(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case int:
		return v == 0
	case int8:
		return v == 0
	case int16:
		return v == 0
	case int32:
		return v == 0
	case int64:
		return v == 0
	case uint:
		return v == 0
	case uint8:
		return v == 0
	case uint16:
		return v == 0
	case uint32:
		return v == 0
	case uint64:
		return v == 0
	case string:
		return v == ""
	default:
		return false
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
