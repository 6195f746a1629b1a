package relation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xanotech/xrepo/mapping"
)

// Fetcher executes one batched lookup for a referenced type: every object
// whose column value appears in values. The resolver guarantees it is
// called at most once per referenced type per batch level.
type Fetcher interface {
	FetchByKeys(ctx context.Context, typ *mapping.Type, column string, values []any) ([]any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, typ *mapping.Type, column string, values []any) ([]any, error)

// FetchByKeys calls f.
func (f FetcherFunc) FetchByKeys(ctx context.Context, typ *mapping.Type, column string, values []any) ([]any, error) {
	return f(ctx, typ, column, values)
}

// Collection is a to-many association value. It is either resolved up
// front from a prefetched set or loads itself with a single scoped query
// on first access.
type Collection struct {
	mu    sync.Mutex
	done  bool
	items []any
	err   error
	load  func(context.Context) ([]any, error)
}

// Resolved returns a collection already holding its items.
func Resolved(items []any) *Collection {
	return &Collection{done: true, items: items}
}

// Load returns the collection's items, running the scoped query on first
// access. The result, success or failure, is memoized.
func (c *Collection) Load(ctx context.Context) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.items, c.err = c.load(ctx)
		c.done = true
	}
	return c.items, c.err
}

// IsResolved reports whether the items are already materialized.
func (c *Collection) IsResolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Resolver discovers references between registered types and resolves them
// per fetched batch. Discovery runs once per type and is cached for the
// resolver's lifetime.
type Resolver struct {
	registry *mapping.Registry
	fetcher  Fetcher

	mu   sync.RWMutex
	refs map[string][]Reference
}

// NewResolver returns a Resolver over the registry, using the fetcher for
// batched lookups.
func NewResolver(registry *mapping.Registry, fetcher Fetcher) *Resolver {
	return &Resolver{
		registry: registry,
		fetcher:  fetcher,
		refs:     make(map[string][]Reference),
	}
}

// References returns the type's discovered references, computing and
// caching them on first call.
func (r *Resolver) References(typ *mapping.Type) []Reference {
	key := strings.ToLower(typ.Name())
	r.mu.RLock()
	refs, ok := r.refs[key]
	r.mu.RUnlock()
	if ok {
		return refs
	}
	refs = discover(r.registry, typ)
	r.mu.Lock()
	r.refs[key] = refs
	r.mu.Unlock()
	return refs
}

// Option configures one Resolve call.
type Option func(*resolveOptions)

type resolveOptions struct {
	prefetched map[string][]any
}

// WithPrefetched supplies an already-fetched collection for the named type.
// References targeting it resolve from the supplied objects with no query
// at all: to-one through the identity cache, to-many through a multimap
// keyed by the reference's foreign key.
func WithPrefetched(typeName string, objects []any) Option {
	return func(o *resolveOptions) {
		if o.prefetched == nil {
			o.prefetched = make(map[string][]any)
		}
		o.prefetched[strings.ToLower(typeName)] = objects
	}
}

type pendingAssign struct {
	typ *mapping.Type
	obj any
	ref Reference
	key any
}

type levelEntry struct {
	typ *mapping.Type
	obj any
}

// Resolve resolves the references of a fetched batch. To-one foreign keys
// are gathered across the whole batch and satisfied with one batched query
// per referenced type, never one per object. To-many fields receive a
// Collection, resolved from prefetched objects when supplied and lazy
// otherwise. Resolution proceeds breadth-first level by level, and an
// identity cache shared across the call keeps cyclic and self-referential
// graphs from fetching the same row twice.
func (r *Resolver) Resolve(ctx context.Context, typ *mapping.Type, objects []any, opts ...Option) error {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	cache := make(map[string]map[any]any)
	for name, prefetched := range o.prefetched {
		referenced, ok := r.registry.Lookup(name)
		if !ok {
			continue
		}
		for _, obj := range prefetched {
			r.index(cache, referenced, obj)
		}
	}
	level := make([]levelEntry, 0, len(objects))
	for _, obj := range objects {
		r.index(cache, typ, obj)
		level = append(level, levelEntry{typ: typ, obj: obj})
	}
	multimaps := make(map[string]map[any][]any)

	for len(level) > 0 {
		wantTypes := make(map[string]*mapping.Type)
		wantValues := make(map[string]map[any]struct{})
		var pending []pendingAssign

		for _, entry := range level {
			for _, ref := range r.References(entry.typ) {
				switch ref.Kind {
				case ToOne:
					raw, ok := entry.typ.Get(entry.obj, ref.KeyField)
					if !ok || raw == nil {
						continue
					}
					key := normalizeKey(raw)
					pending = append(pending, pendingAssign{typ: entry.typ, obj: entry.obj, ref: ref, key: key})
					lower := strings.ToLower(ref.Type.Name())
					if _, cached := cache[lower][key]; cached {
						continue
					}
					if wantValues[lower] == nil {
						wantTypes[lower] = ref.Type
						wantValues[lower] = make(map[any]struct{})
					}
					wantValues[lower][key] = struct{}{}
				case ToMany:
					r.assignCollection(entry, ref, &o, multimaps)
				}
			}
		}

		var next []levelEntry
		for lower, values := range wantValues {
			referenced := wantTypes[lower]
			keys := make([]any, 0, len(values))
			for v := range values {
				keys = append(keys, v)
			}
			column := referenced.Column(referenced.Keys()[0])
			fetched, err := r.fetcher.FetchByKeys(ctx, referenced, column, keys)
			if err != nil {
				return fmt.Errorf("relation: resolving %s: %w", referenced.Name(), err)
			}
			for _, obj := range fetched {
				if r.index(cache, referenced, obj) {
					next = append(next, levelEntry{typ: referenced, obj: obj})
				}
			}
		}

		for _, p := range pending {
			lower := strings.ToLower(p.ref.Type.Name())
			if target, ok := cache[lower][p.key]; ok {
				p.typ.Set(p.obj, p.ref.Field, target)
			}
		}
		level = next
	}
	return nil
}

// assignCollection sets the to-many field: a resolved collection built from
// a prefetched multimap when the caller supplied one, a lazy collection
// otherwise.
func (r *Resolver) assignCollection(entry levelEntry, ref Reference, o *resolveOptions, multimaps map[string]map[any][]any) {
	keys := entry.typ.Keys()
	if len(keys) != 1 {
		return
	}
	raw, ok := entry.typ.Get(entry.obj, keys[0])
	if !ok || raw == nil {
		return
	}
	own := normalizeKey(raw)

	lower := strings.ToLower(ref.Type.Name())
	if prefetched, ok := o.prefetched[lower]; ok {
		mmKey := lower + "\x00" + strings.ToLower(ref.KeyField)
		mm, built := multimaps[mmKey]
		if !built {
			mm = make(map[any][]any)
			for _, obj := range prefetched {
				if fk, ok := ref.Type.Get(obj, ref.KeyField); ok && fk != nil {
					k := normalizeKey(fk)
					mm[k] = append(mm[k], obj)
				}
			}
			multimaps[mmKey] = mm
		}
		entry.typ.Set(entry.obj, ref.Field, Resolved(mm[own]))
		return
	}

	referenced, column := ref.Type, ref.Type.Column(ref.KeyField)
	entry.typ.Set(entry.obj, ref.Field, &Collection{
		load: func(ctx context.Context) ([]any, error) {
			return r.fetcher.FetchByKeys(ctx, referenced, column, []any{raw})
		},
	})
}

// index adds an object to the identity cache under its key value and
// reports whether it was newly added.
func (r *Resolver) index(cache map[string]map[any]any, typ *mapping.Type, obj any) bool {
	keys := typ.Keys()
	if len(keys) != 1 {
		return false
	}
	raw, ok := typ.Get(obj, keys[0])
	if !ok || raw == nil {
		return false
	}
	key := normalizeKey(raw)
	lower := strings.ToLower(typ.Name())
	if cache[lower] == nil {
		cache[lower] = make(map[any]any)
	}
	if _, exists := cache[lower][key]; exists {
		return false
	}
	cache[lower][key] = obj
	return true
}

// normalizeKey widens integer key values and converts byte slices so that
// equal identities compare equal as map keys regardless of the driver's
// scan type.
func normalizeKey(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case []byte:
		return string(v)
	default:
		return v
	}
}
