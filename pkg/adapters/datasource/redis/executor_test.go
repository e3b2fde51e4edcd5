package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func kvQuery(cmd *Command) *models.NativeQuery {
	return &models.NativeQuery{Dialect: "redis", Family: models.FamilyKeyValue, Document: cmd, Target: cmd.Prefix, MaxRows: cmd.Limit}
}

func TestExecute_ScanHashesUnionsFields(t *testing.T) {
	store := shop()
	result, err := Execute(context.Background(), store, kvQuery(&Command{
		Name: "SCAN", Prefix: "user:", Match: "user:*", Count: 2, ValueType: TypeHash, Limit: 10,
	}))
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Equal(t, []string{"key", "age", "email", "name"}, result.ColumnNames())
	assert.Equal(t, [][]any{
		{"1", "31", "alice@example.com", "Alice"},
		{"2", "unknown", nil, "Bob"},
		{"3", "27", "carol@example.com", "Carol"},
	}, result.Rows)
	assert.Greater(t, store.scans, 1, "small COUNT needs several SCAN rounds")
}

func TestExecute_ScanTruncatesAtLimit(t *testing.T) {
	result, err := Execute(context.Background(), shop(), kvQuery(&Command{
		Name: "SCAN", Prefix: "user:", Match: "user:*", Count: 100, ValueType: TypeHash,
		Columns: []string{"key", "name"}, Limit: 2, SortDesc: true,
	}))
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, [][]any{{"3", "Carol"}, {"2", "Bob"}}, result.Rows)
}

func TestExecute_PointLookupsSkipMissingKeys(t *testing.T) {
	store := shop()
	result, err := Execute(context.Background(), store, kvQuery(&Command{
		Name: "MGET", Prefix: "session:", Keys: []string{"session:abc", "session:zzz", "session:def"},
		ValueType: TypeString, Limit: 10,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "value"}, result.ColumnNames())
	assert.Equal(t, [][]any{{"abc", "1"}, {"def", "2"}}, result.Rows)
	assert.Equal(t, []string{"MGET"}, store.commands)
}

func TestExecute_HMGETProjection(t *testing.T) {
	store := shop()
	result, err := Execute(context.Background(), store, kvQuery(&Command{
		Name: "HMGET", Prefix: "user:", Keys: []string{"user:2"}, ValueType: TypeHash,
		Fields: []string{"email", "name"}, Limit: 10,
		Columns: []string{"id", "email", "name"}, Sources: []string{KeyField, "email", "name"},
	}))
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []string{"id", "email", "name"}, result.ColumnNames())
	assert.Equal(t, []any{"2", nil, "Bob"}, result.Rows[0])
	assert.Equal(t, []string{"HMGET"}, store.commands)
}

func TestExecute_ProbesUnknownTypes(t *testing.T) {
	store := shop()
	result, err := Execute(context.Background(), store, kvQuery(&Command{
		Name: "GET", Prefix: "queue:", Keys: []string{"queue:jobs"}, Limit: 10,
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"jobs", []string{"a", "b", "c"}}}, result.Rows)
	assert.Equal(t, []string{"TYPE", "LRANGE"}, store.commands)
}

func TestExecute_ScanErrorIsClassified(t *testing.T) {
	store := shop()
	store.scanErr = errors.New("ERR unknown command 'SCAN'")
	_, err := Execute(context.Background(), store, kvQuery(&Command{Name: "SCAN", Prefix: "user:", Match: "user:*", Limit: 10}))
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindExecution, ce.Kind)
	assert.Contains(t, ce.Message, "unknown command")
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, shop(), kvQuery(&Command{Name: "SCAN", Prefix: "user:", Match: "user:*", Limit: 10}))
	ce, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCancelled, ce.Kind)
}
