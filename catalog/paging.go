package catalog

import (
	"context"

	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// Paging probe statements, attempted in order. The first that executes
// without error decides the mechanism; if both fail, paging silently
// degrades to Programmatic.
const (
	probeLimitOffset = "SELECT 1 LIMIT 1 OFFSET 0"
	probeOffsetFetch = "SELECT 1 AS paging_probe ORDER BY paging_probe OFFSET 0 ROWS FETCH FIRST 1 ROWS ONLY"
)

// PagingMechanism returns the backend's paging idiom, probing it on first
// call and caching the result for the data source's lifetime. Paging
// capability is a backend property, not a per-table one.
func (c *Catalog) PagingMechanism(ctx context.Context) (sqld.PagingMechanism, error) {
	c.mu.RLock()
	cached := c.paging
	c.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	v, err, _ := c.group.Do("paging", func() (any, error) {
		c.mu.RLock()
		cached := c.paging
		c.mu.RUnlock()
		if cached != nil {
			return *cached, nil
		}
		m := c.probePaging(ctx)
		c.mu.Lock()
		c.paging = &m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return sqld.PagingProgrammatic, err
	}
	return v.(sqld.PagingMechanism), nil
}

func (c *Catalog) probePaging(ctx context.Context) sqld.PagingMechanism {
	if c.probe(ctx, probeLimitOffset) {
		return sqld.PagingLimitOffset
	}
	if c.probe(ctx, probeOffsetFetch) {
		return sqld.PagingOffsetFetch
	}
	return sqld.PagingProgrammatic
}

func (c *Catalog) probe(ctx context.Context, query string) bool {
	rows := &sqld.Rows{}
	if err := c.drv.Query(ctx, query, []any{}, rows); err != nil {
		return false
	}
	rows.Close()
	return true
}
