package xrepo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xanotech/xrepo/recordset"
)

func TestFetchRecordsCarriesTableNames(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	expectPagingProbe(mock)
	mock.ExpectQuery(`SELECT \* FROM Person`).
		WillReturnRows(personRows(1, "Ada", 2, "Grace"))

	records, err := r.FetchRecords(context.Background(), []string{"Person"}, nil, nil, -1, -1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"Person"}, records[0].TableNames())
	v, _ := records[0].Get("Name")
	assert.Equal(t, "Ada", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRecords(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM Person WHERE Id = \?`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := r.CountRecords(context.Background(), []string{"Person"}, int64(9))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveRecordsAllocatesIdentity(t *testing.T) {
	seq := &stubSequencer{next: 500}
	r, mock := newRepo(t, WithSequencer(seq))

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM Person WHERE Id = \?`).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO Person \(Id, Name\) VALUES \(\?, \?\)`).
		WithArgs(int64(500), "Ada").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := recordset.New().Set("Name", "Ada").SetTableNames("Person")
	results, err := r.SaveRecords(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The parallel result carries only the assigned identity.
	require.NotNil(t, results[0])
	id, ok := results[0].Get("Id")
	require.True(t, ok)
	assert.Equal(t, int64(500), id)
	assert.Equal(t, []string{"Id"}, results[0].Keys())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsUpdatesPresentColumnsOnly(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name", "Email"}, []string{"Id"})
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM Person WHERE Id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	// Email is absent from the record and stays untouched.
	mock.ExpectExec(`UPDATE Person SET Name = \? WHERE Id = \?`).
		WithArgs("Grace", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := recordset.New().Set("Id", int64(7)).Set("Name", "Grace").SetTableNames("Person")
	results, err := r.SaveRecords(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, results[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsRejectsMissingTableNames(t *testing.T) {
	r, mock := newRepo(t)

	_, err := r.SaveRecords(context.Background(), recordset.New().Set("Id", int64(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table names")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveRecords(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM Person WHERE Id = \?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := recordset.New().Set("Id", int64(7)).SetTableNames("Person")
	require.NoError(t, r.RemoveRecords(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveRecordsNullKeyDegradesToIsNull(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM Person WHERE Id IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := recordset.New().Set("Id", nil).SetTableNames("Person")
	require.NoError(t, r.RemoveRecords(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordsAcrossTableChain(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id", "Name"}, []string{"Id"})
	expectTable(mock, "employee", "Employee", []string{"Id", "Salary"}, []string{"Id"})
	expectPagingProbe(mock)
	mock.ExpectQuery(`SELECT \* FROM Person INNER JOIN Employee ON Person\.Id = Employee\.Id`).
		WillReturnRows(sqlmock.NewRows([]string{"Id", "Name", "Salary"}).AddRow(1, "Ada", 90000))

	records, err := r.FetchRecords(context.Background(), []string{"Person", "Employee"}, nil, nil, -1, -1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"Person", "Employee"}, records[0].TableNames())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChainForRejectsKeyMismatch(t *testing.T) {
	r, mock := newRepo(t)

	expectTable(mock, "person", "Person", []string{"Id"}, []string{"Id"})
	expectTable(mock, "note", "Note", []string{"NoteId"}, []string{"NoteId"})

	_, err := r.FetchRecords(context.Background(), []string{"Person", "Note"}, nil, nil, -1, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched primary keys")
}
