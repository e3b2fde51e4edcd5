package cassandra

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// protocolError mimics a server error frame.
type protocolError struct {
	code int
	msg  string
}

func (e protocolError) Code() int       { return e.code }
func (e protocolError) Message() string { return e.msg }
func (e protocolError) Error() string   { return e.msg }

func native(t gocql.Type) gocql.TypeInfo { return gocql.NewNativeType(4, t, "") }

func column(name string, t gocql.Type) *gocql.ColumnMetadata {
	return &gocql.ColumnMetadata{Keyspace: "shop", Table: "events", Name: name, Type: native(t)}
}

func TestEntityFromTable(t *testing.T) {
	tenant, day := column("tenant_id", gocql.TypeUUID), column("day", gocql.TypeDate)
	created := column("created_at", gocql.TypeTimestamp)
	table := &gocql.TableMetadata{
		Keyspace:          "shop",
		Name:              "events",
		PartitionKey:      []*gocql.ColumnMetadata{tenant, day},
		ClusteringColumns: []*gocql.ColumnMetadata{created},
		Columns: map[string]*gocql.ColumnMetadata{
			"tenant_id":  tenant,
			"day":        day,
			"created_at": created,
			"amount":     column("amount", gocql.TypeDecimal),
			"kind":       column("kind", gocql.TypeText),
			"tags":       {Name: "tags", Type: gocql.CollectionType{NativeType: native(gocql.TypeSet).(gocql.NativeType), Elem: native(gocql.TypeText)}},
		},
	}

	e := EntityFromTable(table)
	assert.Equal(t, models.EntityTable, e.Kind)
	assert.Equal(t, []string{"tenant_id", "day"}, e.PartitionKey)
	assert.Equal(t, []string{"created_at"}, e.ClusteringKey)

	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"tenant_id", "day", "created_at", "amount", "kind", "tags"}, names)

	assert.True(t, e.Fields[0].IsKey)
	assert.Equal(t, models.TypeUUID, e.Fields[0].Type)
	assert.Equal(t, "uuid", e.Fields[0].NativeType)
	assert.Equal(t, models.TypeDecimal, e.Fields[3].Type)
	assert.True(t, e.Fields[3].Nullable)
	assert.Equal(t, models.TypeArray, e.Fields[5].Type)

	schema := SchemaFromKeyspace(&gocql.KeyspaceMetadata{Name: "shop", Tables: map[string]*gocql.TableMetadata{"events": table}}, "conn-1", fixedNow)
	require.NoError(t, schema.Validate())
	assert.Equal(t, models.FamilyWideColumn, schema.Family)
}

func TestMapType(t *testing.T) {
	tests := map[gocql.Type]string{
		gocql.TypeVarchar:   models.TypeString,
		gocql.TypeBigInt:    models.TypeInteger,
		gocql.TypeCounter:   models.TypeInteger,
		gocql.TypeDouble:    models.TypeNumber,
		gocql.TypeDecimal:   models.TypeDecimal,
		gocql.TypeBoolean:   models.TypeBoolean,
		gocql.TypeTimestamp: models.TypeTimestamp,
		gocql.TypeDate:      models.TypeDate,
		gocql.TypeTimeUUID:  models.TypeUUID,
		gocql.TypeBlob:      models.TypeBinary,
		gocql.TypeMap:       models.TypeObject,
	}
	for typ, want := range tests {
		assert.Equal(t, want, mapType(native(typ)), typ.String())
	}
	assert.Equal(t, models.TypeUnknown, mapType(nil))
}

type decString string

func (d decString) String() string { return string(d) }

func TestToGo(t *testing.T) {
	id := gocql.TimeUUID()
	assert.Equal(t, uuid.UUID(id), toGo(id, "timeuuid"))
	assert.Equal(t, "1h30m0s", toGo(90*time.Minute, "time"))
	assert.Equal(t, "1mo2d3ns", toGo(gocql.Duration{Months: 1, Days: 2, Nanoseconds: 3}, "duration"))

	d, ok := toGo(decString("12.340"), "decimal").(decimal.Decimal)
	require.True(t, ok)
	assert.Equal(t, "12.340", d.StringFixed(3))

	assert.Equal(t, decString("x"), toGo(decString("x"), "varchar"))
	assert.Nil(t, deref(new(*decimal.Decimal)))
	assert.Equal(t, "a", deref(ptr("a")))
}

func ptr[T any](v T) *T { return &v }

func TestFromCredentials(t *testing.T) {
	cfg, err := FromCredentials(models.Credentials{ConnectionString: "10.0.0.1, 10.0.0.2", Keyspace: "shop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Hosts)
	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, gocql.LocalOne, cfg.Consistency)

	cfg, err = FromCredentials(models.Credentials{Host: "cass", Database: "shop", Options: map[string]string{"consistency": "LOCAL_QUORUM", "local_dc": "dc1"}})
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Keyspace)
	assert.Equal(t, gocql.LocalQuorum, cfg.Consistency)

	cluster := cfg.Cluster(4)
	assert.Equal(t, "shop", cluster.Keyspace)
	assert.Equal(t, 4, cluster.NumConns)
	assert.Equal(t, &gocql.SimpleRetryPolicy{NumRetries: 0}, cluster.RetryPolicy)

	_, err = FromCredentials(models.Credentials{Keyspace: "shop"})
	assert.ErrorContains(t, err, "host")
	_, err = FromCredentials(models.Credentials{Host: "cass"})
	assert.ErrorContains(t, err, "keyspace is required")
	_, err = FromCredentials(models.Credentials{Host: "cass", Keyspace: "shop", Options: map[string]string{"consistency": "MOST"}})
	assert.ErrorContains(t, err, "consistency")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  apperrors.Kind
		known bool
	}{
		{"unauthorized", protocolError{gocql.ErrCodeUnauthorized, "User reader has no SELECT permission on <table shop.salaries>"}, apperrors.KindPermission, true},
		{"bad credentials", protocolError{gocql.ErrCodeCredentials, "Provided username and/or password are incorrect"}, apperrors.KindConnection, true},
		{"unavailable", fmt.Errorf("query: %w", protocolError{gocql.ErrCodeUnavailable, "Cannot achieve consistency level"}), apperrors.KindConnection, true},
		{"read timeout", protocolError{gocql.ErrCodeReadTimeout, "Operation timed out"}, apperrors.KindTimeout, true},
		{"no connections", gocql.ErrNoConnections, apperrors.KindConnection, true},
		{"missing keyspace", gocql.ErrKeyspaceDoesNotExist, apperrors.KindConnection, true},
		{"invalid", protocolError{gocql.ErrCodeInvalid, "Undefined column name kind"}, "", false},
		{"plain", errors.New("boom"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := classifyError(tt.err)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestRegistration(t *testing.T) {
	for _, name := range []string{"cassandra", "ScyllaDB"} {
		reg, ok := datasource.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "cassandra", reg.Info.Type)
		assert.Equal(t, models.FamilyWideColumn, reg.Info.Family)
	}
}

func TestAdapter_MaterializeNeedsIntrospection(t *testing.T) {
	a := newAdapter("c1", datasource.Deps{Clock: func() time.Time { return fixedNow }}, datasource.NewOwnedHandle(nil))
	intent := &models.QueryIntent{Entity: "events", Filter: partition(), Limit: 10, Operation: models.OperationRead}
	v, err := safetyValidate(intent)
	require.NoError(t, err)

	_, err = a.Materialize(v)
	assert.Equal(t, apperrors.KindUnsupported, apperrors.KindOf(err))

	a.schema.Store(&models.SchemaModel{Entities: []models.EntityDescriptor{eventsTable}})
	q, err := a.Materialize(v)
	require.NoError(t, err)
	assert.Contains(t, q.Statement, `WHERE "tenant_id" = ? AND "day" = ?`)
}
