package executor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockExecutor(t *testing.T) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLExecutorFromDB(db, zap.NewNop()), mock
}

func TestExplainOnly(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^EXPLAIN SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow("Seq Scan"))

	err := exec.ExplainOnly(context.Background(), "SELECT 1 LIMIT 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExplainOnlyPlannerError(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^EXPLAIN SELECT`).WillReturnError(assert.AnError)

	err := exec.ExplainOnly(context.Background(), "SELECT bogus LIMIT 1")
	assert.Error(t, err)
}

func TestExecuteReturnsRows(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"REGION", "COUNT_ALL"}).
			AddRow("emea", int64(42)).
			AddRow("apac", int64(17)))

	result, err := exec.Execute(context.Background(), "SELECT REGION, COUNT(*) AS COUNT_ALL FROM T GROUP BY REGION LIMIT 10", 5*time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, result.QueryID)
	assert.Equal(t, []string{"REGION", "COUNT_ALL"}, result.Columns)
	assert.Equal(t, int64(2), result.RowCount)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "emea", result.Rows[0][0])
	assert.Equal(t, int64(42), result.Rows[0][1])
}

func TestExecuteNormalizesByteColumns(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"NAME"}).AddRow([]byte("widget")))

	result, err := exec.Execute(context.Background(), "SELECT NAME FROM T LIMIT 1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "widget", result.Rows[0][0])
}

func TestExecuteQueryError(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^SELECT`).WillReturnError(assert.AnError)

	_, err := exec.Execute(context.Background(), "SELECT 1 LIMIT 1", 5*time.Second)
	assert.Error(t, err)
}

func TestExecuteTimeout(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^SELECT`).
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"X"}).AddRow(1))

	_, err := exec.Execute(context.Background(), "SELECT pg_sleep(10) LIMIT 1", 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteEmptyResult(t *testing.T) {
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`^SELECT`).WillReturnRows(sqlmock.NewRows([]string{"X"}))

	result, err := exec.Execute(context.Background(), "SELECT X FROM T WHERE 1=0 LIMIT 1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowCount)
	assert.Empty(t, result.Rows)
}
