package relational

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestExecute_ReadsRowsAndHints(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "id", "name" FROM "users" WHERE "id" = $1 LIMIT 10`
	mock.ExpectQuery(stmt).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "alice"))

	raw, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, Params: []any{int64(1)}, MaxRows: 10}, Dialect{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, raw.ColumnNames())
	assert.Equal(t, [][]any{{int64(1), "alice"}}, raw.Rows)
	assert.False(t, raw.Truncated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_AppliesScanHook(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "payload" FROM "blobs" LIMIT 1`
	mock.ExpectQuery(stmt).WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("raw")))

	d := Dialect{ScanValue: func(v any, _ string) any {
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}}
	raw, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, MaxRows: 1}, d)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"raw"}}, raw.Rows)
}

func TestExecute_StopsAtMaxRows(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "id" FROM "users" LIMIT 3`
	mock.ExpectQuery(stmt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	raw, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, MaxRows: 2}, Dialect{})
	require.NoError(t, err)
	assert.Len(t, raw.Rows, 2)
	assert.True(t, raw.Truncated)
}

func TestExecute_ExactlyFullPageIsNotTruncated(t *testing.T) {
	intent := &models.QueryIntent{Entity: "users", Limit: 2, Projection: []models.Projection{{Field: ref("users", "id")}}}
	q, err := NewBuilder(dollarDialect, nil).Build(validate(t, dollarDialect, intent))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(q.Statement, " LIMIT 3"), q.Statement)
	assert.Equal(t, 2, q.MaxRows)

	db, mock := newMockDB(t)
	mock.ExpectQuery(q.Statement).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	raw, err := Execute(context.Background(), db, q, Dialect{})
	require.NoError(t, err)
	assert.False(t, raw.Truncated)

	res, err := datasource.NewNormalizer(0).Normalize(raw, q.MaxRows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.False(t, res.HasMore)
}

func TestExecute_LookAheadRowMarksTruncation(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "id" FROM "users" LIMIT 3`
	mock.ExpectQuery(stmt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))

	raw, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, MaxRows: 2}, Dialect{})
	require.NoError(t, err)
	res, err := datasource.NewNormalizer(0).Normalize(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.HasMore)
}

func TestExecute_CancellationStopsSlowQuery(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "id" FROM "events" LIMIT 100`
	mock.ExpectQuery(stmt).
		WillDelayFor(5 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	_, err := Execute(ctx, db, &models.NativeQuery{Statement: stmt, MaxRows: 100}, Dialect{})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
}

func TestExecute_DeadlineBecomesTimeout(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "id" FROM "events" LIMIT 100`
	mock.ExpectQuery(stmt).WillDelayFor(time.Second).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Execute(ctx, db, &models.NativeQuery{Statement: stmt, MaxRows: 100}, Dialect{})
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}

func TestExecute_ClassifiesErrors(t *testing.T) {
	permission := errors.New("permission denied for table salaries")
	classify := func(err error) (apperrors.Kind, bool) {
		if strings.Contains(err.Error(), "permission denied") {
			return apperrors.KindPermission, true
		}
		return "", false
	}

	tests := []struct {
		name     string
		err      error
		expected apperrors.Kind
	}{
		{"permission", permission, apperrors.KindPermission},
		{"syntax", errors.New(`column "nme" does not exist`), apperrors.KindExecution},
		{"network", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), apperrors.KindConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			stmt := `SELECT "salary" FROM "salaries" LIMIT 1`
			mock.ExpectQuery(stmt).WillReturnError(tt.err)

			_, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, MaxRows: 1}, Dialect{Classify: classify})
			ce, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.expected, ce.Kind)
			assert.Equal(t, apperrors.StageExecute, ce.Stage)
		})
	}
}

func TestExecute_ExecutionErrorKeepsNativeMessage(t *testing.T) {
	db, mock := newMockDB(t)
	stmt := `SELECT "nme" FROM "users" LIMIT 1`
	mock.ExpectQuery(stmt).WillReturnError(errors.New(`column "nme" does not exist`))

	_, err := Execute(context.Background(), db, &models.NativeQuery{Statement: stmt, MaxRows: 1}, Dialect{})
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, ce.Message, `column "nme" does not exist`)
}
