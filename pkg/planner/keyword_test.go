package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func infer(t *testing.T, schema *models.SchemaModel, question string, recent ...string) *Inference {
	t.Helper()
	inf, err := NewKeywordInferrer().Infer(context.Background(), InferRequest{
		Schema:         schema,
		Question:       question,
		RecentEntities: recent,
	})
	require.NoError(t, err)
	return inf
}

func TestKeyword_EntityMatching(t *testing.T) {
	tests := []struct {
		question   string
		entity     string
		confidence float64
	}{
		{"show me all users", "users", exactEntityConfidence},
		{"list every user", "users", inflectedEntityConfidence},
		{"ORDERS please", "orders", exactEntityConfidence},
		{"orders placed by users", "orders", exactEntityConfidence},
		{"users who placed orders", "users", exactEntityConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			inf := infer(t, shopSchema(), tt.question)
			require.NotNil(t, inf.Intent)
			assert.Equal(t, tt.entity, inf.Intent.Entity)
			if tt.entity == "users" {
				assert.InDelta(t, tt.confidence, inf.Confidence, 1e-9)
			}
		})
	}
}

func TestKeyword_UnderscoredEntityNames(t *testing.T) {
	schema := &models.SchemaModel{
		Family: models.FamilyRelational,
		Entities: []models.EntityDescriptor{{
			Name: "order_items", Kind: models.EntityTable, FieldsKnown: true,
			Fields: []models.FieldDescriptor{{Name: "sku", Type: models.TypeString}},
		}},
	}
	inf := infer(t, schema, "list the order items")
	require.NotNil(t, inf.Intent)
	assert.Equal(t, "order_items", inf.Intent.Entity)
}

func TestKeyword_NoEntity(t *testing.T) {
	inf := infer(t, shopSchema(), "what is the weather")
	assert.Nil(t, inf.Intent)
	assert.Zero(t, inf.Confidence)
}

func TestKeyword_Filters(t *testing.T) {
	inf := infer(t, shopSchema(), `orders where status is "shipped" and total over 100`)
	require.NotNil(t, inf.Intent)

	leaves := inf.Intent.Filter.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, models.Predicate{Field: ref("orders", "status"), Op: models.OpEq, Value: "shipped"}, leaves[0])
	assert.Equal(t, models.Predicate{Field: ref("orders", "total"), Op: models.OpGt, Value: int64(100)}, leaves[1])
	assert.InDelta(t, exactEntityConfidence+2*clauseConfidence, inf.Confidence, 1e-9)
}

func TestKeyword_FilterOperators(t *testing.T) {
	tests := []struct {
		question string
		op       models.Comparison
		value    any
	}{
		{"orders with status is not cancelled", models.OpNe, "cancelled"},
		{"orders with total less than 20.5", models.OpLt, 20.5},
		{"orders where total >= 10", models.OpGte, int64(10)},
		{"orders where total is above 10", models.OpGt, int64(10)},
		{"orders where status starts with 'ship'", models.OpStartsWith, "ship"},
		{"orders where status is null", models.OpIsNull, nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			inf := infer(t, shopSchema(), tt.question)
			require.NotNil(t, inf.Intent.Filter)
			leaves := inf.Intent.Filter.Leaves()
			require.Len(t, leaves, 1)
			assert.Equal(t, tt.op, leaves[0].Op)
			assert.Equal(t, tt.value, leaves[0].Value)
		})
	}
}

func TestKeyword_WordOperatorNeedsBoundary(t *testing.T) {
	inf := infer(t, shopSchema(), "users with name isabel")
	require.NotNil(t, inf.Intent)
	assert.Nil(t, inf.Intent.Filter)
}

func TestKeyword_Windows(t *testing.T) {
	tests := []struct {
		question string
		window   string
	}{
		{"recent users", "7d"},
		{"users created today", "24h"},
		{"users from last month", "30d"},
		{"users who joined last week", "7d"},
		{"new users", "7d"},
		{"show me the new user", "7d"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			inf := infer(t, shopSchema(), tt.question)
			require.NotNil(t, inf.Intent.Filter)
			assert.Equal(t, models.Predicate{Field: ref("users", "created_at"), Op: models.OpWithin, Value: tt.window}, *inf.Intent.Filter)
			assert.Empty(t, inf.Intent.Joins)
		})
	}
}

func TestKeyword_NewIsOnlyAWindowBeforeTheEntity(t *testing.T) {
	for _, question := range []string{"users in new york", "users with a new email", "list users named new"} {
		t.Run(question, func(t *testing.T) {
			inf := infer(t, shopSchema(), question)
			require.NotNil(t, inf.Intent)
			for _, leaf := range inf.Intent.Filter.Leaves() {
				assert.NotEqual(t, models.OpWithin, leaf.Op)
			}
		})
	}
}

func TestKeyword_WindowWithoutTemporalFieldOrRelation(t *testing.T) {
	schema := shopSchema()
	schema.Relationships = nil
	inf := infer(t, schema, "recent orders")
	require.NotNil(t, inf.Intent)
	assert.Nil(t, inf.Intent.Filter)
	assert.Empty(t, inf.Intent.Joins)
}

func TestKeyword_Aggregates(t *testing.T) {
	inf := infer(t, shopSchema(), "average total of orders by status")
	require.NotNil(t, inf.Intent)
	total := ref("orders", "total")
	assert.Equal(t, []models.Aggregation{{Func: models.AggAvg, Field: &total, Alias: "avg_total"}}, inf.Intent.Aggregations)
	assert.Equal(t, []models.FieldRef{ref("orders", "status")}, inf.Intent.GroupBy)
	assert.Empty(t, inf.Intent.Projection)

	// Non-numeric fields are not summed.
	inf = infer(t, shopSchema(), "sum of status in orders")
	assert.Empty(t, inf.Intent.Aggregations)
}

func TestKeyword_Sorting(t *testing.T) {
	inf := infer(t, shopSchema(), "orders sorted by total desc")
	assert.Equal(t, []models.SortSpec{{Field: ref("orders", "total"), Descending: true}}, inf.Intent.Sort)

	inf = infer(t, shopSchema(), "orders with the highest total")
	assert.Equal(t, []models.SortSpec{{Field: ref("orders", "total"), Descending: true}}, inf.Intent.Sort)

	inf = infer(t, shopSchema(), "oldest users")
	assert.Equal(t, []models.SortSpec{{Field: ref("users", "created_at")}}, inf.Intent.Sort)

	inf = infer(t, shopSchema(), "count orders by status sorted by count desc")
	assert.Equal(t, []models.SortSpec{{Field: models.FieldRef{Field: "count"}, Descending: true}}, inf.Intent.Sort)
}

func TestKeyword_EnrichmentOnlyForJoinableFamilies(t *testing.T) {
	inf := infer(t, shopSchema(), "list orders")
	require.Len(t, inf.Intent.Joins, 1)
	last := inf.Intent.Projection[len(inf.Intent.Projection)-1]
	assert.Equal(t, models.Projection{Field: ref("users", "name"), Alias: "user_name"}, last)

	schema := shopSchema()
	schema.Family = models.FamilyKeyValue
	inf = infer(t, schema, "list orders")
	assert.Empty(t, inf.Intent.Joins)
	assert.Empty(t, inf.Intent.Projection)
}

func TestKeyword_TieBreakUsesRecentEntities(t *testing.T) {
	field := []models.FieldDescriptor{{Name: "id", Type: models.TypeInteger}}
	schema := &models.SchemaModel{
		Family: models.FamilyDocument,
		Entities: []models.EntityDescriptor{
			{Name: "person", Kind: models.EntityCollection, FieldsKnown: true, Fields: field},
			{Name: "people", Kind: models.EntityCollection, FieldsKnown: true, Fields: field},
		},
	}

	inf := infer(t, schema, "list people")
	assert.Equal(t, "people", inf.Intent.Entity)
	assert.InDelta(t, exactEntityConfidence, inf.Confidence, 1e-9)

	inf = infer(t, schema, "list people", "person")
	assert.Equal(t, "person", inf.Intent.Entity)
	assert.InDelta(t, inflectedEntityConfidence, inf.Confidence, 1e-9)
}

func TestKeyword_ConfidenceIsCapped(t *testing.T) {
	inf := infer(t, shopSchema(),
		`top 3 orders where status is "paid" and total over 5 and id > 1 and user_id < 9 sorted by total desc from last week`)
	assert.InDelta(t, maxKeywordConfidence, inf.Confidence, 1e-9)
}

func TestKeyword_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywordInferrer().Infer(ctx, InferRequest{Schema: shopSchema(), Question: "users"})
	assert.ErrorIs(t, err, context.Canceled)
}
