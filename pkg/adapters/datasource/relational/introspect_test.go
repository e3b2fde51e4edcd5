package relational

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

var catalogDialect = Dialect{
	Name:         "cattest",
	Quote:        QuoteDouble,
	Placeholder:  DollarPlaceholder,
	LikeOperator: "LIKE",
	Catalog:      Catalog{Columns: "SELECT columns", ForeignKeys: "SELECT foreign_keys"},
}

var columnHeader = []string{"table_name", "column_name", "data_type", "is_nullable", "is_key"}

func TestIntrospect_UsersAndOrders(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT columns").WillReturnRows(sqlmock.NewRows(columnHeader).
		AddRow("orders", "id", "integer", "NO", int64(1)).
		AddRow("orders", "user_id", "integer", "NO", int64(0)).
		AddRow("orders", "total", "numeric", "NO", int64(0)).
		AddRow("users", "id", "integer", "NO", int64(1)).
		AddRow("users", "name", "character varying", "NO", int64(0)).
		AddRow("users", "email", "character varying", "YES", int64(0)).
		AddRow("users", "created_at", "timestamp with time zone", "NO", int64(0)))
	mock.ExpectQuery("SELECT foreign_keys").WillReturnRows(
		sqlmock.NewRows([]string{"from_table", "from_column", "to_table", "to_column"}).
			AddRow("orders", "user_id", "users", "id").
			AddRow("orders", "user_id", "users", "id").
			AddRow("orders", "region_id", "regions", "id"))

	schema, err := Introspect(context.Background(), db, catalogDialect, "conn-1", fixedNow)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "conn-1", schema.ConnectionID)
	assert.Equal(t, models.FamilyRelational, schema.Family)
	assert.Equal(t, []string{"orders", "users"}, schema.EntityNames())

	users, ok := schema.Entity("users")
	require.True(t, ok)
	assert.Equal(t, models.EntityTable, users.Kind)
	assert.True(t, users.FieldsKnown)

	created, ok := users.Field("created_at")
	require.True(t, ok)
	assert.Equal(t, models.TypeTimestamp, created.Type)
	assert.Equal(t, "timestamp with time zone", created.NativeType)
	email, _ := users.Field("email")
	assert.True(t, email.Nullable)
	id, _ := users.Field("id")
	assert.True(t, id.IsKey)

	orders, _ := schema.Entity("orders")
	total, _ := orders.Field("total")
	assert.Equal(t, models.TypeDecimal, total.Type)

	require.Len(t, schema.Relationships, 1, "duplicate and dangling constraints are dropped, naming adds nothing new")
	assert.Equal(t, models.RelationshipHint{
		FromEntity: "orders", FromField: "user_id", ToEntity: "users", ToField: "id", Source: models.RelationshipConstraint,
	}, schema.Relationships[0])
}

func TestIntrospect_NamingHintsWithoutConstraints(t *testing.T) {
	db, mock := newMockDB(t)
	d := catalogDialect
	d.Catalog.ForeignKeys = ""

	mock.ExpectQuery("SELECT columns").WillReturnRows(sqlmock.NewRows(columnHeader).
		AddRow("orders", "id", "INTEGER", "NO", int64(1)).
		AddRow("orders", "user_id", "INTEGER", "YES", int64(0)).
		AddRow("users", "id", "INTEGER", "NO", int64(1)))

	schema, err := Introspect(context.Background(), db, d, "conn-1", fixedNow)
	require.NoError(t, err)

	hint, ok := schema.RelationshipBetween("orders", "users")
	require.True(t, ok)
	assert.Equal(t, models.RelationshipNaming, hint.Source)
	assert.Equal(t, "user_id", hint.FromField)
}

func TestIntrospect_PermissionDenied(t *testing.T) {
	db, mock := newMockDB(t)
	d := catalogDialect
	d.Classify = func(err error) (apperrors.Kind, bool) { return apperrors.KindPermission, true }
	mock.ExpectQuery("SELECT columns").WillReturnError(errors.New("permission denied for schema public"))

	_, err := Introspect(context.Background(), db, d, "conn-1", fixedNow)
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindPermission, ce.Kind)
	assert.Equal(t, apperrors.StageIntrospect, ce.Stage)
}

func TestIntrospect_EmptyDatabase(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT columns").WillReturnRows(sqlmock.NewRows(columnHeader))
	mock.ExpectQuery("SELECT foreign_keys").WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}))

	schema, err := Introspect(context.Background(), db, catalogDialect, "conn-1", fixedNow)
	require.NoError(t, err)
	assert.Empty(t, schema.Entities)
	assert.Empty(t, schema.Relationships)
}

func TestMapType(t *testing.T) {
	tests := map[string]string{
		"integer":                     models.TypeInteger,
		"BIGINT":                      models.TypeInteger,
		"bigserial":                   models.TypeInteger,
		"tinyint(1)":                  models.TypeInteger,
		"numeric(10,2)":               models.TypeDecimal,
		"money":                       models.TypeDecimal,
		"double precision":            models.TypeNumber,
		"REAL":                        models.TypeNumber,
		"boolean":                     models.TypeBoolean,
		"bit":                         models.TypeBoolean,
		"timestamp without time zone": models.TypeTimestamp,
		"DATETIME2":                   models.TypeTimestamp,
		"date":                        models.TypeDate,
		"time with time zone":         models.TypeString,
		"interval":                    models.TypeString,
		"uuid":                        models.TypeUUID,
		"UNIQUEIDENTIFIER":            models.TypeUUID,
		"jsonb":                       models.TypeJSON,
		"bytea":                       models.TypeBinary,
		"varbinary(16)":               models.TypeBinary,
		"character varying":           models.TypeString,
		"nvarchar":                    models.TypeString,
		"_int4":                       models.TypeArray,
		"INTEGER[]":                   models.TypeArray,
		"geometry":                    models.TypeUnknown,
		"":                            models.TypeUnknown,
	}
	for native, expected := range tests {
		assert.Equal(t, expected, MapType(native), native)
	}
}
