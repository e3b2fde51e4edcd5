package tools

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestTrimString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"whitespace only", "   ", ""},
		{"both sides whitespace", "  test  ", "test"},
		{"mixed whitespace", " \t\ntest\n\t ", "test"},
		{"no whitespace", "test", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trimString(tt.input))
		})
	}
}

func TestGetOptionalInt(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr string
	}{
		{"absent", map[string]any{}, 0, ""},
		{"null", map[string]any{"limit": nil}, 0, ""},
		{"whole number", map[string]any{"limit": float64(25)}, 25, ""},
		{"fractional", map[string]any{"limit": 2.5}, 0, "must be an integer"},
		{"negative", map[string]any{"limit": float64(-1)}, 0, "must not be negative"},
		{"string", map[string]any{"limit": "10"}, 0, "must be an integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := getOptionalInt(request(tt.args), "limit")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	req := request(map[string]any{"recent": []any{" orders ", "", 7, "users"}})
	assert.Equal(t, []string{"orders", "users"}, getStringSlice(req, "recent"))
	assert.Empty(t, getStringSlice(request(nil), "recent"))
}

func TestGetOptionalBoolAndString(t *testing.T) {
	req := request(map[string]any{"refresh": true, "id": "  conn-1 "})

	v, ok := getOptionalBool(req, "refresh")
	assert.True(t, ok)
	assert.True(t, v)

	_, ok = getOptionalBool(req, "missing")
	assert.False(t, ok)

	assert.Equal(t, "conn-1", getOptionalString(req, "id"))
	assert.Empty(t, getOptionalString(req, "missing"))
}

func TestDecodeArgument(t *testing.T) {
	req := request(map[string]any{
		"query": map[string]any{"dialect": "postgres", "native": "SELECT 1", "max_rows": float64(5)},
	})

	var q models.NativeQuery
	require.NoError(t, decodeArgument(req, "query", &q))
	assert.Equal(t, "postgres", q.Dialect)
	assert.Equal(t, "SELECT 1", q.Statement)
	assert.Equal(t, 5, q.MaxRows)

	err := decodeArgument(req, "missing", &q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing is required")
}
