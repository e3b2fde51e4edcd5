package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// BuildIntentPrompt creates the prompt that asks a model to translate
// question into the intent JSON understood by the planner.
func BuildIntentPrompt(schema *models.SchemaModel, question string, recentEntities []string) string {
	var prompt strings.Builder

	prompt.WriteString("# Question Translation\n\n")
	prompt.WriteString("Translate the user's question into a read-only query intent over the schema below.\n\n")

	writeSchema(&prompt, schema)

	if len(recentEntities) > 0 {
		prompt.WriteString("## Conversation Context\n\n")
		prompt.WriteString(fmt.Sprintf("Recently discussed (most recent first): %s\n", strings.Join(recentEntities, ", ")))
		prompt.WriteString("Prefer these when a field name is ambiguous.\n\n")
	}

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(question)
	prompt.WriteString("\n\n")

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Only use entities and fields listed above. Never invent names.\n")
	prompt.WriteString("- Reference fields as `entity.field`.\n")
	prompt.WriteString("- Only join along a listed relationship.\n")
	prompt.WriteString("- \"Recent\" means a `within` filter of `7d` on the most relevant timestamp.\n")
	prompt.WriteString("- If nothing in the schema matches, set `entity` to `\"none\"`.\n")
	prompt.WriteString("- The operation is always `read`.\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with:\n")
	prompt.WriteString("- `entity`: The primary table, collection or keyspace\n")
	prompt.WriteString("- `projection`: Fields to return, as strings or `{\"field\", \"alias\"}` objects (may be empty for all fields)\n")
	prompt.WriteString("- `joins`: `{\"entity\", \"kind\": \"inner\"|\"left\", \"from\", \"to\"}`\n")
	prompt.WriteString("- `filter`: Either a leaf `{\"field\", \"op\", \"value\"}` or a branch `{\"logic\": \"and\"|\"or\"|\"not\", \"children\": [...]}`\n")
	prompt.WriteString("  - `op`: eq, ne, gt, gte, lt, lte, in, contains, starts_with, is_null, not_null, within\n")
	prompt.WriteString("- `group_by`: Fields to group by\n")
	prompt.WriteString("- `aggregations`: `{\"func\": \"count\"|\"sum\"|\"avg\"|\"min\"|\"max\", \"field\", \"alias\"}`; omit field for count(*)\n")
	prompt.WriteString("- `sort`: `{\"field\", \"descending\"}`\n")
	prompt.WriteString("- `limit`: Maximum rows, or 0 for the default\n")
	prompt.WriteString("- `confidence`: 0.0-1.0 (how sure you are the intent answers the question)\n")
	prompt.WriteString("- `rationale`: Brief explanation (1 sentence)\n\n")

	prompt.WriteString("Example:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{
  "entity": "orders",
  "projection": ["orders.id", "orders.total", {"field": "users.name", "alias": "user_name"}],
  "joins": [{"entity": "users", "kind": "inner", "from": "orders.user_id", "to": "users.id"}],
  "filter": {"field": "users.created_at", "op": "within", "value": "7d"},
  "sort": [{"field": "users.created_at", "descending": true}],
  "limit": 0,
  "confidence": 0.85,
  "rationale": "Recent orders with the ordering user's name."
}
`)
	prompt.WriteString("```\n\n")

	prompt.WriteString("Return ONLY the JSON, no additional text.\n")
	return prompt.String()
}

// BuildIntentSystemMessage returns the system message for question translation.
func BuildIntentSystemMessage(family models.BackendFamily) string {
	return fmt.Sprintf(`You are a careful data analyst. You translate questions into read-only query intents for a %s data store. You never produce writes, and you only reference names that exist in the provided schema.`, family)
}

func writeSchema(prompt *strings.Builder, schema *models.SchemaModel) {
	prompt.WriteString(fmt.Sprintf("## Schema (%s)\n\n", schema.Family))
	for _, e := range schema.Entities {
		prompt.WriteString(fmt.Sprintf("### %s (%s)\n", e.Name, e.Kind))
		if len(e.PartitionKey) > 0 {
			prompt.WriteString(fmt.Sprintf("Partition key: %s\n", strings.Join(e.PartitionKey, ", ")))
		}
		if len(e.ClusteringKey) > 0 {
			prompt.WriteString(fmt.Sprintf("Clustering key: %s\n", strings.Join(e.ClusteringKey, ", ")))
		}
		if !e.FieldsKnown {
			prompt.WriteString("Fields: not known\n\n")
			continue
		}
		prompt.WriteString("Fields:\n")
		for _, f := range e.Fields {
			flags := ""
			if f.IsKey {
				flags += " [key]"
			}
			if f.Nullable {
				flags += " (nullable)"
			}
			prompt.WriteString(fmt.Sprintf("- %s (%s)%s\n", f.Name, f.Type, flags))
		}
		prompt.WriteString("\n")
	}

	if len(schema.Relationships) > 0 {
		prompt.WriteString("## Relationships\n\n")
		for _, r := range schema.Relationships {
			prompt.WriteString(fmt.Sprintf("- %s.%s → %s.%s\n", r.FromEntity, r.FromField, r.ToEntity, r.ToField))
		}
		prompt.WriteString("\n")
	}
}
