package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/prompts"
)

// Explainer summarizes a result envelope in plain language.
type Explainer interface {
	Explain(ctx context.Context, env *models.ResultEnvelope) (string, error)
}

// TemplateExplainer builds summaries from the envelope alone.
type TemplateExplainer struct{}

// NewTemplateExplainer creates a template explainer.
func NewTemplateExplainer() *TemplateExplainer { return &TemplateExplainer{} }

func (TemplateExplainer) Explain(_ context.Context, env *models.ResultEnvelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("nothing to explain")
	}
	if env.Error != nil {
		return explainFailure(env), nil
	}

	var parts []string
	entity := "rows"
	if env.Intent != nil && env.Intent.Entity != "" {
		entity = env.Intent.Entity
	}

	switch {
	case env.Intent != nil && env.Intent.IsAggregate():
		parts = append(parts, explainAggregate(env, entity))
	case env.RowCount == 0:
		parts = append(parts, fmt.Sprintf("No %s matched.", entity))
	default:
		parts = append(parts, fmt.Sprintf("Found %d %s.", env.RowCount, countNoun(entity, env.RowCount)))
	}

	if env.Intent != nil {
		if f := describeFilter(env.Intent.Filter); f != "" {
			parts = append(parts, "Filtered on "+f+".")
		}
		for _, p := range env.Intent.Projection {
			if p.Alias != "" && p.Field.Entity != "" && p.Field.Entity != env.Intent.Entity {
				parts = append(parts, fmt.Sprintf("Includes %s from %s.", p.Alias, p.Field.Entity))
			}
		}
		if len(env.Intent.Sort) > 0 {
			keys := make([]string, len(env.Intent.Sort))
			for i, s := range env.Intent.Sort {
				dir := "ascending"
				if s.Descending {
					dir = "descending"
				}
				keys[i] = fmt.Sprintf("%s %s", s.Field, dir)
			}
			parts = append(parts, "Sorted by "+strings.Join(keys, ", ")+".")
		}
	}
	if env.HasMore {
		parts = append(parts, "More results exist beyond the limit; ask for fewer or narrower results to see the rest.")
	}
	parts = append(parts, fmt.Sprintf("The query took %.0f ms.", env.ExecutionTimeMs))
	return strings.Join(parts, " "), nil
}

func explainAggregate(env *models.ResultEnvelope, entity string) string {
	intent := env.Intent
	if len(intent.GroupBy) == 0 && env.RowCount == 1 && len(intent.Aggregations) == 1 {
		a := intent.Aggregations[0]
		if v, ok := env.Rows[0].Get(a.Alias); ok {
			if a.Func == models.AggCount {
				return fmt.Sprintf("There are %v %s.", v, entity)
			}
			return fmt.Sprintf("The %s of %s is %v.", a.Func, a.Field, v)
		}
	}
	if len(intent.GroupBy) > 0 {
		groups := make([]string, len(intent.GroupBy))
		for i, g := range intent.GroupBy {
			groups[i] = g.Field
		}
		return fmt.Sprintf("Found %d %s grouped by %s.", env.RowCount, countNoun("group", env.RowCount), strings.Join(groups, ", "))
	}
	return fmt.Sprintf("Computed %d %s over %s.", len(intent.Aggregations), countNoun("aggregate", len(intent.Aggregations)), entity)
}

func explainFailure(env *models.ResultEnvelope) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The question could not be answered: %s during %s. %s", env.Error.Kind, env.Error.Stage, env.Error.Message)
	if !strings.HasSuffix(env.Error.Message, ".") {
		sb.WriteString(".")
	}
	if env.Error.Suggestion != "" {
		sb.WriteString(" " + env.Error.Suggestion)
	}
	if env.Error.Retryable {
		sb.WriteString(" Running it again may succeed.")
	}
	if env.Query != nil {
		fmt.Fprintf(&sb, " The %s query was: %s", env.Query.Dialect, env.Query.String())
	}
	return sb.String()
}

// countNoun inflects noun to agree with n.
func countNoun(noun string, n int) string {
	if n == 1 {
		return inflection.Singular(noun)
	}
	return inflection.Plural(noun)
}

func describeFilter(p *models.Predicate) string {
	if p == nil {
		return ""
	}
	if p.IsLeaf() {
		switch p.Op {
		case models.OpWithin:
			return fmt.Sprintf("%s within the last %v", p.Field, p.Value)
		case models.OpIsNull:
			return fmt.Sprintf("%s being empty", p.Field)
		case models.OpNotNull:
			return fmt.Sprintf("%s being present", p.Field)
		}
		return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
	}
	parts := make([]string, 0, len(p.Children))
	for i := range p.Children {
		parts = append(parts, describeFilter(&p.Children[i]))
	}
	if p.Logic == models.LogicNot {
		return "not (" + strings.Join(parts, " and ") + ")"
	}
	return strings.Join(parts, " "+string(p.Logic)+" ")
}

// LLMExplainer asks a model for the summary and falls back to the template
// when the model is unavailable.
type LLMExplainer struct {
	client   llm.LLMClient
	fallback Explainer
	logger   *zap.Logger
}

// NewLLMExplainer creates a model-backed explainer.
func NewLLMExplainer(client llm.LLMClient, logger *zap.Logger) *LLMExplainer {
	return &LLMExplainer{client: client, fallback: NewTemplateExplainer(), logger: logger.Named("llm-explainer")}
}

func (e *LLMExplainer) Explain(ctx context.Context, env *models.ResultEnvelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("nothing to explain")
	}
	result, err := e.client.GenerateResponse(ctx, prompts.BuildExplainPrompt(env), prompts.BuildExplainSystemMessage(), 0.2)
	if err == nil && strings.TrimSpace(result.Content) != "" {
		return strings.TrimSpace(result.Content), nil
	}
	if err != nil {
		e.logger.Warn("Model explanation failed, using template", zap.Error(err))
	}
	return e.fallback.Explain(ctx, env)
}
