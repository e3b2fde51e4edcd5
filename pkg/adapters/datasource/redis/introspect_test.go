package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestIntrospect_GroupsKeysByPrefix(t *testing.T) {
	schema, err := Introspect(context.Background(), shop(), ":", 3, "conn-1", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.FamilyKeyValue, schema.Family)
	assert.Equal(t, []string{"queue", "session", "user"}, schema.EntityNames(), "keys without a separator are skipped")

	user, ok := schema.Entity("user")
	require.True(t, ok)
	assert.Equal(t, models.EntityKeyspace, user.Kind)
	assert.True(t, user.FieldsKnown)

	key, _ := user.Field(KeyField)
	assert.True(t, key.IsKey)
	assert.Equal(t, TypeHash, key.NativeType)

	age, _ := user.Field("age")
	assert.Equal(t, "integer|string", age.Type)
	assert.False(t, age.Nullable)

	email, _ := user.Field("email")
	assert.True(t, email.Nullable, "missing from user:2")

	session, _ := schema.Entity("session")
	value, ok := session.Field(ValueField)
	require.True(t, ok)
	assert.Equal(t, models.TypeInteger, value.Type)

	queue, _ := schema.Entity("queue")
	value, _ = queue.Field(ValueField)
	assert.Equal(t, models.TypeArray, value.Type)
}

func TestIntrospect_EmptyKeyspace(t *testing.T) {
	schema, err := Introspect(context.Background(), newFakeStore(), ":", 100, "conn-1", fixedNow)
	require.NoError(t, err)
	assert.Empty(t, schema.Entities)
	assert.Equal(t, fixedNow, schema.IntrospectedAt)
}

func TestScalarType(t *testing.T) {
	assert.Equal(t, models.TypeInteger, scalarType("42"))
	assert.Equal(t, models.TypeNumber, scalarType("4.2"))
	assert.Equal(t, models.TypeBoolean, scalarType("true"))
	assert.Equal(t, models.TypeTimestamp, scalarType("2024-05-30T08:00:00Z"))
	assert.Equal(t, models.TypeString, scalarType("Alice"))
}
