package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/testutil"
)

func newMockStore(t *testing.T, driver string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewWithDB(db, driver,
		WithClock(testutil.NewStepClock().Now),
		WithIDGenerator(ir.NewSequenceGenerator("row")),
	)
	return s, mock
}

func TestEmit_LedgerWriteFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), 0) + 1 FROM canonical_events")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canonical_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM program_health_ledger WHERE canonical_event_id = $1")).
		WithArgs("row-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO program_health_ledger")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := s.Emit(context.Background(), testutil.Emission("prog-1", ir.H1, "hash-1"))
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeStorageUnavailable))
	assert.Contains(t, err.Error(), "disk I/O error")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmit_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := s.Emit(context.Background(), testutil.Emission("prog-1", ir.H1, "hash-1"))
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeStorageUnavailable))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmit_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), 0) + 1")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canonical_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM program_health_ledger")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO program_health_ledger")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO program_health_snapshots")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := s.Emit(context.Background(), testutil.Emission("prog-1", ir.H1, "hash-1"))
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeStorageUnavailable))
	assert.Contains(t, err.Error(), "commit")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_PostgresTakesAdvisoryLock(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(emitLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(*Tx) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CallbackErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectBegin()
	mock.ExpectRollback()

	want := ir.InvalidArgument("test", "nope")
	err := s.WithTx(context.Background(), func(*Tx) error { return want })
	assert.Same(t, want, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRows_PostgresMissingTable(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "m3_impacts"`)).
		WillReturnError(&pqUndefinedTable)

	_, err := s.CountRows(context.Background(), "m3_impacts", "")
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.ErrCodeMissingSchemaObject))
	require.NoError(t, mock.ExpectationsWereMet())
}
