package models

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_MarshalPreservesOrder(t *testing.T) {
	row := Row{{"id", 1}, {"name", "Ada"}, {"email", nil}, {"created_at", "2026-01-01T00:00:00Z"}}

	raw, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"name":"Ada","email":null,"created_at":"2026-01-01T00:00:00Z"}`, string(raw))

	var decoded Row
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []string{"id", "name", "email", "created_at"}, decoded.Names())
	v, ok := decoded.Get("id")
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), v)
}

func TestResultEnvelope_WireFormat(t *testing.T) {
	env := ResultEnvelope{
		Query:           &NativeQuery{Dialect: "postgres", Statement: `SELECT "id" FROM "users" LIMIT 100`},
		Columns:         []string{"id"},
		Rows:            []Row{{{"id", 1}}},
		RowCount:        1,
		ExecutionTimeMs: 2.5,
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))

	query := generic["query"].(map[string]any)
	assert.Equal(t, "postgres", query["dialect"])
	assert.Equal(t, `SELECT "id" FROM "users" LIMIT 100`, query["native"])
	assert.Equal(t, float64(1), generic["rowCount"])
	assert.Equal(t, 2.5, generic["executionTimeMs"])
	assert.Contains(t, generic, "error")
	assert.Nil(t, generic["error"])
}

func TestResultEnvelope_ErrorHasEmptyRows(t *testing.T) {
	env := ResultEnvelope{Error: &EnvelopeError{Kind: "NoMatchError", Message: "no entity", Stage: "plan"}}

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rows":[]`)
	assert.Contains(t, string(raw), `"query":null`)
	assert.Contains(t, string(raw), `"error":{"kind":"NoMatchError","message":"no entity","stage":"plan"}`)
}

func TestNativeQuery_StructuredRoundTrip(t *testing.T) {
	q := NativeQuery{
		Dialect:  "mongodb",
		Family:   FamilyDocument,
		Target:   "orders",
		Document: []any{map[string]any{"$limit": 10}},
	}

	raw, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dialect":"mongodb","family":"document","native":[{"$limit":10}],"target":"orders"}`, string(raw))

	var back NativeQuery
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.IsStructured())
	assert.Equal(t, "orders", back.Target)
	assert.Equal(t, fmt.Sprint([]any{map[string]any{"$limit": json.Number("10")}}), fmt.Sprint(back.Document))

	var text NativeQuery
	require.NoError(t, json.Unmarshal([]byte(`{"dialect":"sqlite","native":"SELECT 1","params":[1]}`), &text))
	assert.Equal(t, "SELECT 1", text.Statement)
	assert.False(t, text.IsStructured())
}

func TestAddNote_Deduplicates(t *testing.T) {
	var env ResultEnvelope
	n := Note{Column: "total", Kind: NotePrecisionTruncated}
	env.AddNote(n)
	env.AddNote(n)
	assert.Len(t, env.Notes, 1)
}
