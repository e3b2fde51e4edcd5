package relational

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

func testDeps(t *testing.T) datasource.Deps {
	return datasource.Deps{
		Engine: config.DefaultEngineConfig(),
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return fixedNow },
	}
}

func TestAdapter_ListUsersEndToEnd(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT "id", "name", "email", "created_at" FROM "users" LIMIT 101`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "created_at"}).
			AddRow(int64(1), "Alice", "alice@example.com", time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)).
			AddRow(int64(2), "Bob", nil, time.Date(2024, 5, 31, 9, 0, 0, 0, time.UTC)))

	a := NewWithDB(dollarDialect, db, "conn-1", testDeps(t))
	inv := datasource.NewInvocation(a, safety.NewValidator(safety.Policy{MaxLimit: 1000, MaxPredicateDepth: 10}))

	result, err := inv.Run(context.Background(), validate(t, dollarDialect, listUsersIntent()))
	require.NoError(t, err)
	assert.Equal(t, datasource.StateDone, inv.State())
	assert.Equal(t, []string{"id", "name", "email", "created_at"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.HasMore)

	raw, err := json.Marshal(result.Rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id":1,"name":"Alice","email":"alice@example.com","created_at":"2024-05-30T08:00:00Z"},
		{"id":2,"name":"Bob","email":null,"created_at":"2024-05-31T09:00:00Z"}
	]`, string(raw))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_RecentOrdersBindsWindow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT "orders"."id" AS "id", "orders"."user_id" AS "user_id", "orders"."total" AS "total", "users"."name" AS "user_name"` +
		` FROM "orders" JOIN "users" ON "orders"."user_id" = "users"."id" WHERE "users"."created_at" >= $1 LIMIT 101`).
		WithArgs(fixedNow.Add(-7 * 24 * time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "total", "user_name"}).
			AddRow(int64(10), int64(1), "19.90", "Alice"))

	a := NewWithDB(dollarDialect, db, "conn-1", testDeps(t))
	inv := datasource.NewInvocation(a, safety.NewValidator(safety.Policy{MaxLimit: 1000, MaxPredicateDepth: 10}))

	result, err := inv.Run(context.Background(), validate(t, dollarDialect, recentOrdersIntent()))
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	name, _ := result.Rows[0].Get("user_name")
	assert.Equal(t, "Alice", name)
}

func TestAdapter_HasMoreOnlyWhenBackendHadMoreRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		count   int
		hasMore bool
	}{
		{"fewer than limit", 1, 1, false},
		{"exactly the limit", 2, 2, false},
		{"more than limit", 3, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			rows := sqlmock.NewRows([]string{"id"})
			for i := 1; i <= tt.rows; i++ {
				rows.AddRow(int64(i))
			}
			mock.ExpectQuery(`SELECT "id" FROM "users" LIMIT 3`).WillReturnRows(rows)

			a := NewWithDB(dollarDialect, db, "conn-1", testDeps(t))
			inv := datasource.NewInvocation(a, safety.NewValidator(safety.Policy{MaxLimit: 1000, MaxPredicateDepth: 10}))
			intent := &models.QueryIntent{Entity: "users", Projection: []models.Projection{{Field: ref("users", "id")}}, Limit: 2}

			result, err := inv.Run(context.Background(), validate(t, dollarDialect, intent))
			require.NoError(t, err)
			assert.Equal(t, tt.count, result.RowCount)
			assert.Equal(t, tt.hasMore, result.HasMore)
		})
	}
}

func TestAdapter_ManagedConnectionIsReusedAndRemovedOnClose(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	deps := testDeps(t)
	deps.Conns = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{TTLMinutes: 5, MaxConnections: 4}, deps.Logger)
	t.Cleanup(func() { _ = deps.Conns.Close() })

	opens := 0
	a := New(Config{
		Dialect:      dollarDialect,
		ConnectionID: "conn-1",
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			opens++
			return datasource.NewSQLPoolWrapper(db, "pgtest"), nil
		},
	})

	require.NoError(t, a.Ping(context.Background()))
	require.NoError(t, a.Ping(context.Background()))
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, deps.Conns.GetStats().TotalConnections)

	require.NoError(t, a.Close())
	assert.Equal(t, 0, deps.Conns.GetStats().TotalConnections)
}

func TestAdapter_DialectTag(t *testing.T) {
	db, _ := newMockDB(t)
	a := NewWithDB(topDialect, db, "conn-1", testDeps(t))
	assert.Equal(t, "mstest", a.Dialect().Name)
	assert.False(t, a.Dialect().IsPipeline())
}
