package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// explainSampleRows bounds how many rows are shown to the model.
const explainSampleRows = 5

// BuildExplainPrompt creates the prompt for a plain-language summary of env.
func BuildExplainPrompt(env *models.ResultEnvelope) string {
	var prompt strings.Builder

	prompt.WriteString("# Result Summary\n\n")
	if env.Question != "" {
		prompt.WriteString(fmt.Sprintf("Question: %s\n\n", env.Question))
	}
	if env.Query != nil {
		prompt.WriteString(fmt.Sprintf("## Query (%s)\n\n", env.Query.Dialect))
		prompt.WriteString("```\n")
		prompt.WriteString(env.Query.String())
		prompt.WriteString("\n```\n\n")
	}

	if env.Error != nil {
		prompt.WriteString("## Error\n\n")
		prompt.WriteString(fmt.Sprintf("- Kind: %s\n- Stage: %s\n- Message: %s\n", env.Error.Kind, env.Error.Stage, env.Error.Message))
		if env.Error.Suggestion != "" {
			prompt.WriteString(fmt.Sprintf("- Suggestion: %s\n", env.Error.Suggestion))
		}
		prompt.WriteString("\nExplain what went wrong and what the user can try next.\n")
		return prompt.String()
	}

	prompt.WriteString("## Result\n\n")
	prompt.WriteString(fmt.Sprintf("- Rows: %d", env.RowCount))
	if env.HasMore {
		prompt.WriteString(" (more rows exist beyond the limit)")
	}
	prompt.WriteString("\n")
	prompt.WriteString(fmt.Sprintf("- Columns: %s\n", strings.Join(env.Columns, ", ")))
	for i, row := range env.Rows {
		if i == explainSampleRows {
			break
		}
		raw, err := json.Marshal(row)
		if err != nil {
			continue
		}
		prompt.WriteString(fmt.Sprintf("- Row %d: %s\n", i+1, raw))
	}
	prompt.WriteString("\nSummarize the result in two or three sentences for a non-technical reader. Do not invent values that are not shown.\n")
	return prompt.String()
}

// BuildExplainSystemMessage returns the system message for result summaries.
func BuildExplainSystemMessage() string {
	return `You are a helpful data analyst who explains query results in plain language.`
}
