package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func recentOrdersEnvelope() *models.ResultEnvelope {
	return &models.ResultEnvelope{
		Question: "find recent orders",
		Query:    &models.NativeQuery{Dialect: "postgres", Statement: `SELECT ... FROM "orders"`},
		Columns:  []string{"id", "user_name"},
		Rows: []models.Row{
			{{Name: "id", Value: 1}, {Name: "user_name", Value: "Alice"}},
			{{Name: "id", Value: 2}, {Name: "user_name", Value: "Bob"}},
		},
		RowCount:        2,
		ExecutionTimeMs: 12.4,
		Intent: &models.QueryIntent{
			Entity: "orders",
			Projection: []models.Projection{
				{Field: ref("orders", "id")},
				{Field: ref("users", "name"), Alias: "user_name"},
			},
			Filter: &models.Predicate{Field: ref("users", "created_at"), Op: models.OpWithin, Value: "7d"},
			Sort:   []models.SortSpec{{Field: ref("users", "created_at"), Descending: true}},
		},
	}
}

func TestTemplateExplainer_Success(t *testing.T) {
	got, err := NewTemplateExplainer().Explain(context.Background(), recentOrdersEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "Found 2 orders. Filtered on users.created_at within the last 7d."+
		" Includes user_name from users. Sorted by users.created_at descending. The query took 12 ms.", got)
}

func TestTemplateExplainer_Variants(t *testing.T) {
	one := recentOrdersEnvelope()
	one.Rows = one.Rows[:1]
	one.RowCount = 1
	one.HasMore = true
	got, err := NewTemplateExplainer().Explain(context.Background(), one)
	require.NoError(t, err)
	assert.Contains(t, got, "Found 1 order.")
	assert.Contains(t, got, "More results exist beyond the limit")

	empty := recentOrdersEnvelope()
	empty.Rows, empty.RowCount = nil, 0
	got, err = NewTemplateExplainer().Explain(context.Background(), empty)
	require.NoError(t, err)
	assert.Contains(t, got, "No orders matched.")

	count := &models.ResultEnvelope{
		Rows:     []models.Row{{{Name: "count", Value: int64(42)}}},
		RowCount: 1,
		Intent: &models.QueryIntent{
			Entity:       "orders",
			Aggregations: []models.Aggregation{{Func: models.AggCount, Alias: "count"}},
		},
	}
	got, err = NewTemplateExplainer().Explain(context.Background(), count)
	require.NoError(t, err)
	assert.Contains(t, got, "There are 42 orders.")

	grouped := &models.ResultEnvelope{
		RowCount: 3,
		Intent: &models.QueryIntent{
			Entity:       "orders",
			GroupBy:      []models.FieldRef{ref("orders", "status")},
			Aggregations: []models.Aggregation{{Func: models.AggCount, Alias: "count"}},
		},
	}
	got, err = NewTemplateExplainer().Explain(context.Background(), grouped)
	require.NoError(t, err)
	assert.Contains(t, got, "Found 3 groups grouped by status.")
}

func TestTemplateExplainer_Failure(t *testing.T) {
	env := &models.ResultEnvelope{
		Query: &models.NativeQuery{Dialect: "postgres", Statement: `SELECT * FROM "orders" LIMIT 100`},
		Error: &models.EnvelopeError{
			Kind:      "TimeoutError",
			Stage:     "execute",
			Message:   "query exceeded its time budget",
			Retryable: true,
		},
	}
	got, err := NewTemplateExplainer().Explain(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "The question could not be answered: TimeoutError during execute. query exceeded its time budget."+
		` Running it again may succeed. The postgres query was: SELECT * FROM "orders" LIMIT 100`, got)

	_, err = NewTemplateExplainer().Explain(context.Background(), nil)
	assert.Error(t, err)
}

func TestLLMExplainer(t *testing.T) {
	client := llm.NewMockReply("  Two orders were placed this week, by Alice and Bob.  ")
	got, err := NewLLMExplainer(client, zaptest.NewLogger(t)).Explain(context.Background(), recentOrdersEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "Two orders were placed this week, by Alice and Bob.", got)
	require.Len(t, client.Prompts(), 1)
	assert.Contains(t, client.Prompts()[0], `"user_name":"Alice"`)

	failing := llm.NewMockLLMClient()
	failing.GenerateResponseFunc = func(context.Context, string, string, float64) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("endpoint unreachable")
	}
	got, err = NewLLMExplainer(failing, zaptest.NewLogger(t)).Explain(context.Background(), recentOrdersEnvelope())
	require.NoError(t, err)
	assert.Contains(t, got, "Found 2 orders.")
}
