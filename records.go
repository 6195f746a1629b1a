package xrepo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/xanotech/xrepo/catalog"
	"github.com/xanotech/xrepo/criteria"
	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
	"github.com/xanotech/xrepo/recordset"
)

// The record contract: Count, Fetch, Save and Remove over ordered records
// instead of registered types. Table names are passed explicitly on reads
// and carried in each record's reserved _tableNames entry on writes, so
// callers without descriptors (scripting layers, generic admin surfaces)
// still get chain joins, paging and identity allocation.

// CountRecords returns the number of rows matching the criteria across the
// joined tables.
func (r *Repository) CountRecords(ctx context.Context, tables []string, crit any) (int64, error) {
	label := strings.Join(tables, "+")
	chain, err := r.chainFor(ctx, tables)
	if err != nil {
		return 0, &QueryError{Label: label, Op: "count", Err: err}
	}
	crits, err := r.recordCriteria(chain, crit)
	if err != nil {
		return 0, err
	}
	return r.countChain(ctx, label, chain, crits)
}

// FetchRecords retrieves matching rows as ordered records. Each returned
// record carries the table names it was fetched from under the reserved
// key, so it can round-trip straight into SaveRecords or RemoveRecords.
func (r *Repository) FetchRecords(ctx context.Context, tables []string, crit any, sortKeys []sqld.SortKey, skip, limit int) ([]*recordset.Record, error) {
	label := strings.Join(tables, "+")
	chain, err := r.chainFor(ctx, tables)
	if err != nil {
		return nil, &QueryError{Label: label, Op: "find", Err: err}
	}
	crits, err := r.recordCriteria(chain, crit)
	if err != nil {
		return nil, err
	}
	return r.selectRecords(ctx, label, chain, crits, sortKeys, skip, limit)
}

// SaveRecords writes each record to every table named by its _tableNames
// entry. Records with a single-column key and no value for it receive one
// from the sequencer, batched per table chain. The result is parallel to
// the input: a record carrying only the assigned identity where one was
// allocated, nil elsewhere.
func (r *Repository) SaveRecords(ctx context.Context, records ...*recordset.Record) ([]*recordset.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	chains, labels, err := r.recordChains(ctx, records)
	if err != nil {
		return nil, err
	}
	objects := recordObjects(records)
	op := newOperation("save", labels, "", nil)
	if err := r.runMutationHooks(ctx, op, objects, true); err != nil {
		return nil, err
	}
	results, err := r.allocateRecordIdentities(ctx, records, chains)
	if err != nil {
		return nil, err
	}
	tx := r.begin(ctx)
	stmts := make(map[string]string)
	for i, rec := range records {
		if err := r.saveRecord(ctx, tx, chains[i], rec, stmts); err != nil {
			tx.Rollback()
			if sqld.IsUniqueConstraintError(err) {
				return nil, NewConstraintError(labels, err)
			}
			return nil, &MutationError{Label: labels, Op: "save", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &MutationError{Label: labels, Op: "save", Err: err}
	}
	r.invalidateChains(ctx, chains)
	if err := r.runMutationHooks(ctx, op, objects, false); err != nil {
		return nil, err
	}
	return results, nil
}

// RemoveRecords deletes each record's rows from every table named by its
// _tableNames entry, leaf to root, keyed by primary key.
func (r *Repository) RemoveRecords(ctx context.Context, records ...*recordset.Record) error {
	if len(records) == 0 {
		return nil
	}
	chains, labels, err := r.recordChains(ctx, records)
	if err != nil {
		return err
	}
	objects := recordObjects(records)
	op := newOperation("remove", labels, "", nil)
	if err := r.runMutationHooks(ctx, op, objects, true); err != nil {
		return err
	}
	tx := r.begin(ctx)
	stmts := make(map[string]string)
	for i, rec := range records {
		chain := chains[i]
		keyVals := recordKeyValues(rec, chain.Keys)
		for t := len(chain.Tables) - 1; t >= 0; t-- {
			if err := r.deleteRow(ctx, tx, chain.Tables[t].Name, chain.Keys, keyVals, stmts); err != nil {
				tx.Rollback()
				return &MutationError{Label: labels, Op: "remove", Err: err}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return &MutationError{Label: labels, Op: "remove", Err: err}
	}
	r.invalidateChains(ctx, chains)
	return r.runMutationHooks(ctx, op, objects, false)
}

// TableDefinition resolves a bare table name against the catalog.
func (r *Repository) TableDefinition(ctx context.Context, name string) (catalog.TableDefinition, error) {
	return r.catalog.TableDefinition(ctx, name)
}

// Columns returns a table's columns in physical order.
func (r *Repository) Columns(ctx context.Context, table string) ([]string, error) {
	return r.catalog.Columns(ctx, table)
}

// PrimaryKeys returns a table's primary-key columns in key order.
func (r *Repository) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	return r.catalog.PrimaryKeys(ctx, table)
}

// chainFor builds a table chain from explicit table names, enforcing the
// chain invariant the registry enforces for mapped types.
func (r *Repository) chainFor(ctx context.Context, tables []string) (sqld.TableChain, error) {
	var chain sqld.TableChain
	if len(tables) == 0 {
		return chain, errors.New("xrepo: no table names given")
	}
	for i, name := range tables {
		def, err := r.catalog.TableDefinition(ctx, name)
		if err != nil {
			return chain, err
		}
		cols, err := r.catalog.Columns(ctx, def.Name)
		if err != nil {
			return chain, err
		}
		keys, err := r.catalog.PrimaryKeys(ctx, def.Name)
		if err != nil {
			return chain, err
		}
		if i == 0 {
			chain.Keys = keys
		} else if !equalFold(chain.Keys, keys) {
			return chain, errors.New("xrepo: tables " + strings.Join(tables, ", ") + " have mismatched primary keys")
		}
		chain.Tables = append(chain.Tables, sqld.ChainTable{Name: def.FullName(), Columns: cols})
	}
	return chain, nil
}

// recordChains resolves each record's _tableNames into a chain, reusing
// resolution across records naming the same tables.
func (r *Repository) recordChains(ctx context.Context, records []*recordset.Record) ([]sqld.TableChain, string, error) {
	chains := make([]sqld.TableChain, len(records))
	byNames := make(map[string]sqld.TableChain)
	seen := make(map[string]bool)
	var labels []string
	for i, rec := range records {
		tables := rec.TableNames()
		if len(tables) == 0 {
			return nil, "", &MutationError{Label: "records", Op: "save",
				Err: errors.New("record " + strconv.Itoa(i) + " carries no table names")}
		}
		key := strings.ToLower(strings.Join(tables, "|"))
		chain, ok := byNames[key]
		if !ok {
			var err error
			chain, err = r.chainFor(ctx, tables)
			if err != nil {
				return nil, "", &MutationError{Label: strings.Join(tables, "+"), Op: "save", Err: err}
			}
			byNames[key] = chain
		}
		chains[i] = chain
		label := strings.Join(tables, "+")
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return chains, strings.Join(labels, ","), nil
}

// allocateRecordIdentities assigns sequencer values to records whose
// single key column is absent or empty, one batched reservation per chain.
func (r *Repository) allocateRecordIdentities(ctx context.Context, records []*recordset.Record, chains []sqld.TableChain) ([]*recordset.Record, error) {
	results := make([]*recordset.Record, len(records))
	if r.sequencer == nil {
		return results, nil
	}
	groups := make(map[string][]int)
	for i, rec := range records {
		chain := chains[i]
		if len(chain.Keys) != 1 {
			continue
		}
		if v, ok := rec.Get(chain.Keys[0]); ok && !isEmptyValue(v) {
			continue
		}
		key := strings.ToLower(chain.Tables[0].Name)
		groups[key] = append(groups[key], i)
	}
	for _, indices := range groups {
		chain := chains[indices[0]]
		keyCol := chain.Keys[0]
		first, err := r.sequencer.NextValues(ctx, chain.Tables[0].Name, keyCol, len(indices))
		if err != nil {
			return nil, &MutationError{Label: chain.Tables[0].Name, Op: "save", Err: err}
		}
		for n, i := range indices {
			id := first + int64(n)
			records[i].Set(keyCol, id)
			results[i] = recordset.New().Set(keyCol, id)
		}
	}
	return results, nil
}

// saveRecord writes one record across its chain: probe by key, then insert
// or update the columns the record actually carries.
func (r *Repository) saveRecord(ctx context.Context, tx dialect.Tx, chain sqld.TableChain, rec *recordset.Record, stmts map[string]string) error {
	keyVals := recordKeyValues(rec, chain.Keys)
	for _, table := range chain.Tables {
		exists, err := r.rowExists(ctx, tx, table, chain.Keys, keyVals, stmts)
		if err != nil {
			return err
		}
		if exists {
			err = r.updateRecordRow(ctx, tx, table, chain.Keys, keyVals, rec)
		} else {
			err = r.insertRecordRow(ctx, tx, table, rec)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// updateRecordRow sets only the columns present in the record. The column
// set varies per record, so these statements are built fresh each time.
func (r *Repository) updateRecordRow(ctx context.Context, tx dialect.Tx, table sqld.ChainTable, keys []string, keyVals []any, rec *recordset.Record) error {
	u := sqld.NewUpdater(r.drv.Dialect(), table.Name)
	sets := 0
	for _, col := range table.Columns {
		if containsFold(keys, col) {
			continue
		}
		v, ok := rec.Get(col)
		if !ok {
			continue
		}
		u.Set(col, v)
		sets++
	}
	if sets == 0 {
		return nil
	}
	for i := range keys {
		u.Key(keys[i], keyVals[i])
	}
	query, args, err := u.Query()
	if err != nil {
		return err
	}
	return tx.Exec(ctx, query, args, nil)
}

func (r *Repository) insertRecordRow(ctx context.Context, tx dialect.Tx, table sqld.ChainTable, rec *recordset.Record) error {
	ins := sqld.NewInserter(r.drv.Dialect(), table.Name)
	for _, col := range table.Columns {
		v, ok := rec.Get(col)
		if !ok {
			continue
		}
		ins.Set(col, v)
	}
	query, args, err := ins.Query()
	if err != nil {
		return err
	}
	return tx.Exec(ctx, query, args, nil)
}

// recordCriteria normalizes shorthand criteria against a bare chain: the
// map form uses column names directly, and a bare value matches the single
// key column.
func (r *Repository) recordCriteria(chain sqld.TableChain, crit any) ([]*criteria.Criterion, error) {
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
			crits = append(crits, criteria.New(name, criteria.EqualTo, c[name]))
		}
	default:
		if len(chain.Keys) != 1 {
			return nil, &QueryError{Label: chain.Tables[0].Name, Op: "criteria",
				Err: &NotSingularError{label: "identity column", count: len(chain.Keys)}}
		}
		crits = []*criteria.Criterion{criteria.New(chain.Keys[0], criteria.EqualTo, c)}
	}
	if r.likeEquality {
		criteria.RewriteLikeEquality(crits)
	}
	return crits, nil
}

func (r *Repository) invalidateChains(ctx context.Context, chains []sqld.TableChain) {
	if r.cache == nil {
		return
	}
	seen := make(map[string]bool)
	for _, chain := range chains {
		for _, t := range chain.Tables {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			r.cache.DeletePrefix(ctx, t.Name+":")
		}
	}
}

func recordKeyValues(rec *recordset.Record, keys []string) []any {
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i], _ = rec.Get(k)
	}
	return vals
}

func recordObjects(records []*recordset.Record) []any {
	objects := make([]any, len(records))
	for i, rec := range records {
		objects[i] = rec
	}
	return objects
}

func equalFold(a, b []string) bool {
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
