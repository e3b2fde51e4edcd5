package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// seedShop writes a small users/orders database and returns its path.
func seedShop(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, created_at DATETIME NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users(id), total DECIMAL(10,2) NOT NULL)`,
		`INSERT INTO users VALUES (1, 'Alice', 'alice@example.com', '2024-05-30 08:00:00'), (2, 'Bob', NULL, '2024-05-31 09:00:00'), (3, 'Al_bert', NULL, '2024-05-31 10:00:00')`,
		`INSERT INTO orders VALUES (10, 1, 19.90), (11, 2, 5.00)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func newTestAdapter(t *testing.T, path string) datasource.Adapter {
	t.Helper()
	a, err := NewAdapter(context.Background(), &models.ConnectionDescriptor{
		ID: "conn-sqlite", Type: "sqlite", Credentials: models.Credentials{FilePath: path},
	}, datasource.Deps{
		Engine: config.DefaultEngineConfig(),
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter_IntrospectsCatalog(t *testing.T) {
	a := newTestAdapter(t, seedShop(t))

	schema, err := a.Introspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, schema.EntityNames())

	users, _ := schema.Entity("users")
	id, ok := users.Field("id")
	require.True(t, ok)
	assert.True(t, id.IsKey)
	assert.False(t, id.Nullable)
	created, _ := users.Field("created_at")
	assert.Equal(t, models.TypeTimestamp, created.Type)
	email, _ := users.Field("email")
	assert.True(t, email.Nullable)

	orders, _ := schema.Entity("orders")
	total, _ := orders.Field("total")
	assert.Equal(t, models.TypeDecimal, total.Type)

	require.NotEmpty(t, schema.Relationships)
	assert.Equal(t, models.RelationshipHint{
		FromEntity: "orders", FromField: "user_id", ToEntity: "users", ToField: "id",
		Source: models.RelationshipConstraint,
	}, schema.Relationships[0])
}

func TestAdapter_ContainsEscapesWildcards(t *testing.T) {
	a := newTestAdapter(t, seedShop(t))
	intent := &models.QueryIntent{
		ID:        "underscore-names",
		Operation: models.OperationRead,
		Entity:    "users",
		Projection: []models.Projection{
			{Field: models.FieldRef{Entity: "users", Field: "name"}},
		},
		Filter: &models.Predicate{Field: models.FieldRef{Entity: "users", Field: "name"}, Op: models.OpContains, Value: "_"},
		Limit:  10,
	}
	validator := safety.NewValidator(safety.Policy{MaxLimit: 1000, MaxPredicateDepth: 10})
	v, err := validator.Validate(intent, a.Dialect())
	require.NoError(t, err)

	result, err := datasource.NewInvocation(a, validator).Run(context.Background(), v)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	name, _ := result.Rows[0].Get("name")
	assert.Equal(t, "Al_bert", name)
}

func TestAdapter_IsReadOnly(t *testing.T) {
	path := seedShop(t)
	a := newTestAdapter(t, path)
	require.NoError(t, a.Ping(context.Background()))

	_, err := a.Execute(context.Background(), &models.NativeQuery{
		Dialect:   "sqlite",
		Statement: `DELETE FROM users`,
	})
	ce, ok := apperrors.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperrors.KindPermission, ce.Kind)
}

func TestAdapter_MissingFileIsConnectionError(t *testing.T) {
	a := newTestAdapter(t, filepath.Join(t.TempDir(), "missing.db"))
	err := a.Ping(context.Background())
	ce, ok := apperrors.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperrors.KindConnection, ce.Kind)
}

func TestFromCredentials(t *testing.T) {
	cfg, err := FromCredentials(models.Credentials{FilePath: "/data/shop.db"})
	require.NoError(t, err)
	assert.Equal(t, "file:/data/shop.db?mode=ro&_query_only=true&_busy_timeout=5000", cfg.DSN())

	cfg, err = FromCredentials(models.Credentials{Database: "file:local.db"})
	require.NoError(t, err)
	assert.Equal(t, "local.db", cfg.Path)

	_, err = FromCredentials(models.Credentials{})
	assert.ErrorContains(t, err, "file_path is required")
	_, err = FromCredentials(models.Credentials{FilePath: "x.db?mode=rwc"})
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	kind, ok := classifyError(sqlite3.Error{Code: sqlite3.ErrReadonly})
	assert.True(t, ok)
	assert.Equal(t, apperrors.KindPermission, kind)

	kind, ok = classifyError(sqlite3.Error{Code: sqlite3.ErrCantOpen})
	assert.True(t, ok)
	assert.Equal(t, apperrors.KindConnection, kind)

	_, ok = classifyError(sqlite3.Error{Code: sqlite3.ErrError})
	assert.False(t, ok)
	_, ok = classifyError(errors.New("boom"))
	assert.False(t, ok)
}

func TestRegistration(t *testing.T) {
	reg, ok := datasource.Lookup("sqlite3")
	require.True(t, ok)
	assert.Equal(t, "sqlite", reg.Info.Type)
}
