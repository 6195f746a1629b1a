package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

func mockCatalog(t *testing.T, dialectName string, opts ...Option) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqld.OpenDB(dialectName, db), opts...), mock
}

func TestTableDefinitionSingleMatch(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	mock.ExpectQuery("information_schema.tables").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).AddRow("app", "Person"))

	def, err := c.TableDefinition(context.Background(), "Person")
	require.NoError(t, err)
	assert.Equal(t, "app", def.Schema)
	assert.Equal(t, "Person", def.Name)
	assert.Equal(t, "app.Person", def.FullName())

	// Second lookup is served from cache: no further expectations.
	def2, err := c.TableDefinition(context.Background(), "PERSON")
	require.NoError(t, err)
	assert.Equal(t, def, def2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableDefinitionAmbiguous(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	mock.ExpectQuery("information_schema.tables").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("app", "Person").
			AddRow("legacy", "Person"))

	_, err := c.TableDefinition(context.Background(), "Person")
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
	assert.Contains(t, err.Error(), "app")
	assert.Contains(t, err.Error(), "legacy")
	assert.Contains(t, err.Error(), "explicit schema-qualified name")
}

func TestTableDefinitionNotFound(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	mock.ExpectQuery("information_schema.tables").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}))

	_, err := c.TableDefinition(context.Background(), "Ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAmbiguous(err))
}

func TestColumnsOrdered(t *testing.T) {
	c, mock := mockCatalog(t, dialect.Postgres)
	mock.ExpectQuery("information_schema.columns").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("Id").AddRow("Name").AddRow("BirthDate"))

	cols, err := c.Columns(context.Background(), "Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"Id", "Name", "BirthDate"}, cols)

	ok, err := c.HasColumn(context.Background(), "Person", "name")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrimaryKeysANSI(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	mock.ExpectQuery("key_column_usage").
		WithArgs("orderitem").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("OrderId").AddRow("LineNo"))

	keys, err := c.PrimaryKeys(context.Background(), "OrderItem")
	require.NoError(t, err)
	assert.Equal(t, []string{"OrderId", "LineNo"}, keys)
}

func TestSQLiteProviderPragma(t *testing.T) {
	c, mock := mockCatalog(t, dialect.SQLite)
	assert.Equal(t, ProviderSQLite, c.Provider())
	info := sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
		AddRow(0, "LineNo", "INTEGER", 1, nil, 2).
		AddRow(1, "OrderId", "INTEGER", 1, nil, 1).
		AddRow(2, "Qty", "INTEGER", 0, nil, 0)
	mock.ExpectQuery("PRAGMA table_info").WillReturnRows(info)

	keys, err := c.PrimaryKeys(context.Background(), "orderitem")
	require.NoError(t, err)
	// PRAGMA pk ordinals define the key order, not the physical order.
	assert.Equal(t, []string{"OrderId", "LineNo"}, keys)
}

func TestProviderOverride(t *testing.T) {
	c, _ := mockCatalog(t, dialect.MySQL, WithProvider(ProviderOracle))
	assert.Equal(t, ProviderOracle, c.Provider())
}

func TestPagingProbeOrder(t *testing.T) {
	t.Run("limit offset wins", func(t *testing.T) {
		c, mock := mockCatalog(t, dialect.SQLite)
		mock.ExpectQuery("SELECT 1 LIMIT 1 OFFSET 0").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		m, err := c.PagingMechanism(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sqld.PagingLimitOffset, m)

		// Cached: second call issues no probe.
		m, err = c.PagingMechanism(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sqld.PagingLimitOffset, m)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("offset fetch fallback", func(t *testing.T) {
		c, mock := mockCatalog(t, dialect.SQLServer)
		mock.ExpectQuery("SELECT 1 LIMIT 1 OFFSET 0").
			WillReturnError(assert.AnError)
		mock.ExpectQuery("FETCH FIRST 1 ROWS ONLY").
			WillReturnRows(sqlmock.NewRows([]string{"paging_probe"}).AddRow(1))

		m, err := c.PagingMechanism(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sqld.PagingOffsetFetch, m)
	})
	t.Run("programmatic degradation", func(t *testing.T) {
		c, mock := mockCatalog(t, dialect.Oracle)
		mock.ExpectQuery("SELECT 1 LIMIT 1 OFFSET 0").WillReturnError(assert.AnError)
		mock.ExpectQuery("FETCH FIRST 1 ROWS ONLY").WillReturnError(assert.AnError)

		m, err := c.PagingMechanism(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sqld.PagingProgrammatic, m)
	})
}

func TestConcurrentSingleFlight(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	// One backend query serves every concurrent first-time lookup.
	mock.ExpectQuery("information_schema.columns").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("Id").AddRow("Name"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cols, err := c.Columns(context.Background(), "Person")
			assert.NoError(t, err)
			assert.Len(t, cols, 2)
		}()
	}
	wg.Wait()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateDropsSchemaNotPaging(t *testing.T) {
	c, mock := mockCatalog(t, dialect.MySQL)
	mock.ExpectQuery("SELECT 1 LIMIT 1 OFFSET 0").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("information_schema.columns").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("Id"))

	_, err := c.PagingMechanism(context.Background())
	require.NoError(t, err)
	_, err = c.Columns(context.Background(), "Person")
	require.NoError(t, err)

	c.Invalidate()

	// Columns re-probe; paging is retained.
	mock.ExpectQuery("information_schema.columns").
		WithArgs("person").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("Id"))
	_, err = c.Columns(context.Background(), "Person")
	require.NoError(t, err)
	m, err := c.PagingMechanism(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sqld.PagingLimitOffset, m)
	require.NoError(t, mock.ExpectationsWereMet())
}
