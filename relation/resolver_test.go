package relation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xanotech/xrepo/catalog"
	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
	"github.com/xanotech/xrepo/mapping"
)

type person struct {
	ID       int64
	Name     string
	Children *Collection
}

type child struct {
	ID       int64
	PersonID any
	Parent   *person
}

type employee struct {
	ID     int64
	Name   string
	BossID any
	Boss   *employee
}

func newRegistry(t *testing.T) (*mapping.Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mapping.NewRegistry(catalog.New(sqld.OpenDB(dialect.MySQL, db))), mock
}

func expectTable(mock sqlmock.Sqlmock, lower, name string, columns, keys []string) {
	mock.ExpectQuery("information_schema.tables").
		WithArgs(lower).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).AddRow("", name))
	colRows := sqlmock.NewRows([]string{"column_name"})
	for _, c := range columns {
		colRows.AddRow(c)
	}
	mock.ExpectQuery("information_schema.columns").WithArgs(lower).WillReturnRows(colRows)
	keyRows := sqlmock.NewRows([]string{"column_name"})
	for _, k := range keys {
		keyRows.AddRow(k)
	}
	mock.ExpectQuery("key_column_usage").WithArgs(lower).WillReturnRows(keyRows)
}

func registerFamily(t *testing.T) *mapping.Registry {
	t.Helper()
	r, mock := newRegistry(t)
	ctx := context.Background()

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	_, err := r.Register(ctx, &mapping.Descriptor{
		Name: "Person",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*person).ID },
				Set:  func(obj any, v any) { obj.(*person).ID = v.(int64) },
			},
			{
				Name: "Name",
				Get:  func(obj any) any { return obj.(*person).Name },
				Set:  func(obj any, v any) { obj.(*person).Name = v.(string) },
			},
			{
				Name: "Children",
				Ref:  "Child",
				List: true,
				Get:  func(obj any) any { return obj.(*person).Children },
				Set:  func(obj any, v any) { obj.(*person).Children = v.(*Collection) },
			},
		},
		New: func() any { return &person{} },
	})
	require.NoError(t, err)

	expectTable(mock, "child", "Child", []string{"Id", "PersonId"}, []string{"Id"})
	_, err = r.Register(ctx, &mapping.Descriptor{
		Name: "Child",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*child).ID },
				Set:  func(obj any, v any) { obj.(*child).ID = v.(int64) },
			},
			{
				Name: "PersonId",
				Get:  func(obj any) any { return obj.(*child).PersonID },
				Set:  func(obj any, v any) { obj.(*child).PersonID = v },
			},
			{
				Name: "Person",
				Ref:  "Person",
				Get:  func(obj any) any { return obj.(*child).Parent },
				Set:  func(obj any, v any) { obj.(*child).Parent = v.(*person) },
			},
		},
		New: func() any { return &child{} },
	})
	require.NoError(t, err)

	expectTable(mock, "employee", "Employee", []string{"Id", "Name", "BossId"}, []string{"Id"})
	_, err = r.Register(ctx, &mapping.Descriptor{
		Name: "Employee",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*employee).ID },
				Set:  func(obj any, v any) { obj.(*employee).ID = v.(int64) },
			},
			{
				Name: "BossId",
				Get:  func(obj any) any { return obj.(*employee).BossID },
				Set:  func(obj any, v any) { obj.(*employee).BossID = v },
			},
			{
				Name: "Boss",
				Ref:  "Employee",
				Get:  func(obj any) any { return obj.(*employee).Boss },
				Set:  func(obj any, v any) { obj.(*employee).Boss = v.(*employee) },
			},
		},
		New: func() any { return &employee{} },
	})
	require.NoError(t, err)
	return r
}

type fetchCall struct {
	typeName string
	column   string
	values   []any
}

type stubFetcher struct {
	calls []fetchCall
	fn    func(typ *mapping.Type, column string, values []any) []any
}

func (s *stubFetcher) FetchByKeys(_ context.Context, typ *mapping.Type, column string, values []any) ([]any, error) {
	s.calls = append(s.calls, fetchCall{typeName: typ.Name(), column: column, values: values})
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(typ, column, values), nil
}

func TestDiscoverToOne(t *testing.T) {
	r := registerFamily(t)
	resolver := NewResolver(r, &stubFetcher{})
	typ, _ := r.Lookup("Employee")

	refs := resolver.References(typ)
	require.Len(t, refs, 1)
	assert.Equal(t, ToOne, refs[0].Kind)
	assert.Equal(t, "Boss", refs[0].Field)
	assert.Equal(t, "BossId", refs[0].KeyField)
	assert.Equal(t, "Employee", refs[0].Type.Name())
}

func TestDiscoverToMany(t *testing.T) {
	r := registerFamily(t)
	resolver := NewResolver(r, &stubFetcher{})
	typ, _ := r.Lookup("Person")

	refs := resolver.References(typ)
	require.Len(t, refs, 1)
	assert.Equal(t, ToMany, refs[0].Kind)
	assert.Equal(t, "Children", refs[0].Field)
	assert.Equal(t, "PersonId", refs[0].KeyField)
	assert.Equal(t, "Child", refs[0].Type.Name())
}

func TestDiscoverToOneLiteralKeyFallback(t *testing.T) {
	r, mock := newRegistry(t)
	ctx := context.Background()

	type profile struct{ ProfileID int64 }
	type account struct {
		ID        int64
		ProfileID any
		Profile   *profile
	}
	expectTable(mock, "profile", "Profile", []string{"ProfileId", "Bio"}, []string{"ProfileId"})
	_, err := r.Register(ctx, &mapping.Descriptor{
		Name: "Profile",
		Fields: []mapping.Field{
			{
				Name: "ProfileId",
				Get:  func(obj any) any { return obj.(*profile).ProfileID },
				Set:  func(obj any, v any) { obj.(*profile).ProfileID = v.(int64) },
			},
		},
		New: func() any { return &profile{} },
	})
	require.NoError(t, err)

	expectTable(mock, "account", "Account", []string{"Id", "ProfileId"}, []string{"Id"})
	typ, err := r.Register(ctx, &mapping.Descriptor{
		Name: "Account",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*account).ID },
				Set:  func(obj any, v any) { obj.(*account).ID = v.(int64) },
			},
			{
				Name: "ProfileId",
				Get:  func(obj any) any { return obj.(*account).ProfileID },
				Set:  func(obj any, v any) { obj.(*account).ProfileID = v },
			},
			{
				Name: "Profile",
				Ref:  "Profile",
				Get:  func(obj any) any { return obj.(*account).Profile },
				Set:  func(obj any, v any) { obj.(*account).Profile = v.(*profile) },
			},
		},
		New: func() any { return &account{} },
	})
	require.NoError(t, err)

	refs := NewResolver(r, &stubFetcher{}).References(typ)
	require.Len(t, refs, 1)
	assert.Equal(t, "ProfileId", refs[0].KeyField)
}

func TestDiscoverToManySingularizedField(t *testing.T) {
	r, mock := newRegistry(t)
	ctx := context.Background()

	type division struct {
		ID           int64
		SubsidiaryID any
	}
	type company struct {
		ID           int64
		Subsidiaries *Collection
	}
	expectTable(mock, "division", "Division", []string{"Id", "SubsidiaryId"}, []string{"Id"})
	_, err := r.Register(ctx, &mapping.Descriptor{
		Name: "Division",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*division).ID },
				Set:  func(obj any, v any) { obj.(*division).ID = v.(int64) },
			},
			{
				Name: "SubsidiaryId",
				Get:  func(obj any) any { return obj.(*division).SubsidiaryID },
				Set:  func(obj any, v any) { obj.(*division).SubsidiaryID = v },
			},
		},
		New: func() any { return &division{} },
	})
	require.NoError(t, err)

	expectTable(mock, "company", "Company", []string{"Id"}, []string{"Id"})
	typ, err := r.Register(ctx, &mapping.Descriptor{
		Name: "Company",
		Fields: []mapping.Field{
			{
				Name: "Id",
				Get:  func(obj any) any { return obj.(*company).ID },
				Set:  func(obj any, v any) { obj.(*company).ID = v.(int64) },
			},
			{
				Name: "Subsidiaries",
				Ref:  "Division",
				List: true,
				Get:  func(obj any) any { return obj.(*company).Subsidiaries },
				Set:  func(obj any, v any) { obj.(*company).Subsidiaries = v.(*Collection) },
			},
		},
		New: func() any { return &company{} },
	})
	require.NoError(t, err)

	refs := NewResolver(r, &stubFetcher{}).References(typ)
	require.Len(t, refs, 1)
	assert.Equal(t, ToMany, refs[0].Kind)
	assert.Equal(t, "SubsidiaryId", refs[0].KeyField)
}

func TestResolveBatchesToOneLookups(t *testing.T) {
	r := registerFamily(t)
	fetcher := &stubFetcher{
		fn: func(typ *mapping.Type, _ string, values []any) []any {
			out := make([]any, 0, len(values))
			for _, v := range values {
				out = append(out, &person{ID: v.(int64)})
			}
			return out
		},
	}
	resolver := NewResolver(r, fetcher)
	typ, _ := r.Lookup("Child")

	// 50 roots pointing at only 3 distinct parents.
	batch := make([]any, 50)
	for i := range batch {
		batch[i] = &child{ID: int64(i + 1), PersonID: int64(i%3 + 1)}
	}
	require.NoError(t, resolver.Resolve(context.Background(), typ, batch))

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, "Person", fetcher.calls[0].typeName)
	assert.Equal(t, "Id", fetcher.calls[0].column)
	assert.Len(t, fetcher.calls[0].values, 3)

	// Objects sharing a foreign key share the identical resolved instance.
	first := batch[0].(*child)
	fourth := batch[3].(*child)
	require.NotNil(t, first.Parent)
	assert.Same(t, first.Parent, fourth.Parent)
	assert.Equal(t, int64(1), first.Parent.ID)
}

func TestResolveUsesBatchIdentityCache(t *testing.T) {
	r := registerFamily(t)
	fetcher := &stubFetcher{}
	resolver := NewResolver(r, fetcher)
	typ, _ := r.Lookup("Employee")

	boss := &employee{ID: 1}
	e2 := &employee{ID: 2, BossID: int64(1)}
	e3 := &employee{ID: 3, BossID: int64(1)}
	require.NoError(t, resolver.Resolve(context.Background(), typ, []any{boss, e2, e3}))

	// Every reference target was already in the batch, so nothing was fetched.
	assert.Empty(t, fetcher.calls)
	assert.Same(t, boss, e2.Boss)
	assert.Same(t, boss, e3.Boss)
}

func TestResolvePrefetchedToMany(t *testing.T) {
	r := registerFamily(t)
	fetcher := &stubFetcher{}
	resolver := NewResolver(r, fetcher)
	typ, _ := r.Lookup("Person")

	p1 := &person{ID: 1}
	p2 := &person{ID: 2}
	prefetched := []any{
		&child{ID: 10, PersonID: int64(1)},
		&child{ID: 11, PersonID: int64(1)},
		&child{ID: 12, PersonID: int64(2)},
	}
	require.NoError(t, resolver.Resolve(context.Background(), typ, []any{p1, p2},
		WithPrefetched("Child", prefetched)))

	assert.Empty(t, fetcher.calls)
	require.NotNil(t, p1.Children)
	assert.True(t, p1.Children.IsResolved())
	items, err := p1.Children.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	items, err = p2.Children.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestResolvePrefetchedToOne(t *testing.T) {
	r := registerFamily(t)
	fetcher := &stubFetcher{}
	resolver := NewResolver(r, fetcher)
	typ, _ := r.Lookup("Child")

	parent := &person{ID: 1}
	c1 := &child{ID: 10, PersonID: int64(1)}
	c2 := &child{ID: 11, PersonID: int64(1)}
	require.NoError(t, resolver.Resolve(context.Background(), typ, []any{c1, c2},
		WithPrefetched("Person", []any{parent})))

	assert.Empty(t, fetcher.calls)
	assert.Same(t, parent, c1.Parent)
	assert.Same(t, parent, c2.Parent)
}

func TestLazyCollectionLoadsOnce(t *testing.T) {
	r := registerFamily(t)
	fetcher := &stubFetcher{
		fn: func(_ *mapping.Type, _ string, _ []any) []any {
			return []any{&child{ID: 10, PersonID: int64(1)}}
		},
	}
	resolver := NewResolver(r, fetcher)
	typ, _ := r.Lookup("Person")

	p := &person{ID: 1}
	require.NoError(t, resolver.Resolve(context.Background(), typ, []any{p}))
	require.NotNil(t, p.Children)
	assert.False(t, p.Children.IsResolved())
	assert.Empty(t, fetcher.calls)

	items, err := p.Children.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, err = p.Children.Load(context.Background())
	require.NoError(t, err)

	// The scoped query ran exactly once, filtered by the foreign key.
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, "Child", fetcher.calls[0].typeName)
	assert.Equal(t, "PersonId", fetcher.calls[0].column)
	assert.Equal(t, []any{int64(1)}, fetcher.calls[0].values)
}
