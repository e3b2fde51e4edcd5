package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

func testSchema() *models.SchemaModel {
	return &models.SchemaModel{
		Family: models.FamilyWideColumn,
		Entities: []models.EntityDescriptor{
			{
				Name: "events", Kind: models.EntityTable, FieldsKnown: true,
				PartitionKey:  []string{"tenant_id"},
				ClusteringKey: []string{"created_at"},
				Fields: []models.FieldDescriptor{
					{Name: "tenant_id", Type: models.TypeUUID, IsKey: true},
					{Name: "created_at", Type: models.TypeTimestamp, IsKey: true},
					{Name: "payload", Type: models.TypeJSON, Nullable: true},
				},
			},
			{Name: "sessions", Kind: models.EntityKeyspace},
		},
	}
}

func TestBuildIntentPrompt(t *testing.T) {
	prompt := BuildIntentPrompt(testSchema(), "events for tenant 42 today", []string{"sessions"})

	assert.Contains(t, prompt, "## Schema (widecolumn)")
	assert.Contains(t, prompt, "### events (table)")
	assert.Contains(t, prompt, "Partition key: tenant_id")
	assert.Contains(t, prompt, "Clustering key: created_at")
	assert.Contains(t, prompt, "- tenant_id (uuid) [key]")
	assert.Contains(t, prompt, "- payload (json) (nullable)")
	assert.Contains(t, prompt, "### sessions (keyspace)\nFields: not known")
	assert.Contains(t, prompt, "Recently discussed (most recent first): sessions")
	assert.Contains(t, prompt, "## Question\n\nevents for tenant 42 today")
	assert.NotContains(t, prompt, "## Relationships")
	assert.True(t, strings.HasSuffix(prompt, "Return ONLY the JSON, no additional text.\n"))
}

func TestBuildIntentPrompt_NoContext(t *testing.T) {
	schema := testSchema()
	schema.Relationships = []models.RelationshipHint{{FromEntity: "events", FromField: "tenant_id", ToEntity: "sessions", ToField: "id"}}
	prompt := BuildIntentPrompt(schema, "q", nil)
	assert.NotContains(t, prompt, "Conversation Context")
	assert.Contains(t, prompt, "- events.tenant_id → sessions.id")
}

func TestBuildIntentSystemMessage(t *testing.T) {
	assert.Contains(t, BuildIntentSystemMessage(models.FamilyDocument), "document data store")
}

func TestBuildExplainPrompt(t *testing.T) {
	env := &models.ResultEnvelope{
		Question: "how many orders",
		Query:    &models.NativeQuery{Dialect: "mysql", Statement: "SELECT COUNT(*) AS `count` FROM `orders` LIMIT 100"},
		Columns:  []string{"count"},
		Rows:     []models.Row{{{Name: "count", Value: 3}}},
		RowCount: 1,
	}
	prompt := BuildExplainPrompt(env)
	assert.Contains(t, prompt, "Question: how many orders")
	assert.Contains(t, prompt, "## Query (mysql)")
	assert.Contains(t, prompt, `- Row 1: {"count":3}`)

	env.Error = &models.EnvelopeError{Kind: "PermissionError", Stage: "execute", Message: "denied", Suggestion: "ask an admin"}
	prompt = BuildExplainPrompt(env)
	assert.Contains(t, prompt, "- Kind: PermissionError")
	assert.Contains(t, prompt, "- Suggestion: ask an admin")
	assert.NotContains(t, prompt, "## Result")
}
