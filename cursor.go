package xrepo

import (
	"context"

	"github.com/xanotech/xrepo/criteria"
	sqld "github.com/xanotech/xrepo/dialect/sql"
	"github.com/xanotech/xrepo/mapping"
	"github.com/xanotech/xrepo/relation"
)

// Cursor is a lazy, memoized view over the objects matching a Find. The
// criteria are fixed at creation; Limit, Skip, Sort and Join chain onto the
// cursor and invalidate any memoized result, so the next enumeration hits
// the data source again.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	repo     *Repository
	typ      *mapping.Type
	criteria []*criteria.Criterion
	sort     []sqld.SortKey
	skip     int // -1 when unset
	limit    int // -1 when unset
	joins    map[string][]any
	err      error

	memo      []any
	memoValid bool
}

// Limit caps the number of objects returned.
func (c *Cursor) Limit(n int) *Cursor {
	c.limit = n
	c.invalidate()
	return c
}

// Skip drops the first n matching objects.
func (c *Cursor) Skip(n int) *Cursor {
	c.skip = n
	c.invalidate()
	return c
}

// Sort appends a sort key. Positive direction sorts ascending, negative
// descending; zero is skipped.
func (c *Cursor) Sort(column string, direction int) *Cursor {
	c.sort = append(c.sort, sqld.SortKey{Column: column, Direction: direction})
	c.invalidate()
	return c
}

// Join supplies already-fetched objects of the named type. During
// association resolution they satisfy references in place of a fetch, so a
// caller holding both sides of a relationship pays no extra queries.
func (c *Cursor) Join(typeName string, objects []any) *Cursor {
	if c.joins == nil {
		c.joins = make(map[string][]any)
	}
	c.joins[typeName] = objects
	c.invalidate()
	return c
}

// Err returns the cursor's deferred construction error, if any.
func (c *Cursor) Err() error { return c.err }

// All fetches, materializes and resolves the matching objects. The result
// is memoized: repeated calls return the same slice until a modifier
// invalidates it.
func (c *Cursor) All(ctx context.Context) ([]any, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.memoValid {
		return c.memo, nil
	}
	records, err := c.repo.selectRecords(ctx, c.typ.Name(), c.typ.Chain(), c.criteria, c.sort, c.skip, c.limit)
	if err != nil {
		return nil, err
	}
	objects := make([]any, len(records))
	for i, rec := range records {
		objects[i] = materialize(c.typ, rec)
	}
	opts := c.joinOptions()
	if err := c.repo.resolver.Resolve(ctx, c.typ, objects, opts...); err != nil {
		return nil, &QueryError{Label: c.typ.Name(), Op: "resolve", Err: err}
	}
	c.memo, c.memoValid = objects, true
	return objects, nil
}

// One returns the single matching object. Zero matches yield a
// NotFoundError, more than one a NotSingularError.
func (c *Cursor) One(ctx context.Context) (any, error) {
	objects, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(objects) {
	case 0:
		return nil, NewNotFoundError(c.typ.Name())
	case 1:
		return objects[0], nil
	default:
		return nil, NewNotSingularError(c.typ.Name(), len(objects))
	}
}

// Count returns the number of matching rows. With applyPaging the count
// honors Skip and Limit and so equals len(All); without it the count is
// issued as COUNT(*) over the bare criteria, ignoring paging.
func (c *Cursor) Count(ctx context.Context, applyPaging bool) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if applyPaging {
		objects, err := c.All(ctx)
		if err != nil {
			return 0, err
		}
		return int64(len(objects)), nil
	}
	return c.repo.countChain(ctx, c.typ.Name(), c.typ.Chain(), c.criteria)
}

// Size is shorthand for Count with paging applied.
func (c *Cursor) Size(ctx context.Context) (int64, error) {
	return c.Count(ctx, true)
}

func (c *Cursor) joinOptions() []relation.Option {
	var opts []relation.Option
	for name, objs := range c.joins {
		opts = append(opts, relation.WithPrefetched(name, objs))
	}
	return opts
}

func (c *Cursor) invalidate() {
	c.memo = nil
	c.memoValid = false
}
