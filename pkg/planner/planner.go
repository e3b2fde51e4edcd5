package planner

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// repairPenalty scales confidence down once per reference the planner had to
// drop or rewrite.
const repairPenalty = 0.9

const rephraseSuggestion = "Try rephrasing the question using table, collection or field names from the schema."

// Policy holds the planner's defaults and thresholds.
type Policy struct {
	DefaultLimit        int
	MaxLimit            int
	MaxPredicateDepth   int
	ConfidenceThreshold float64
}

// PolicyFromConfig extracts planner policy from engine configuration.
func PolicyFromConfig(cfg config.EngineConfig) Policy {
	return Policy{
		DefaultLimit:        cfg.DefaultLimit,
		MaxLimit:            cfg.MaxLimit,
		MaxPredicateDepth:   cfg.MaxPredicateDepth,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}
}

// Options are per-question planning inputs.
type Options struct {
	// RecentEntities are entities referenced earlier in the conversation,
	// most recent first. They break ties between ambiguous fields.
	RecentEntities []string
	// ResultLimit lowers the limit for this question; it never raises it
	// above the configured maximum.
	ResultLimit int
}

// Planner produces intents from questions.
type Planner struct {
	inferrer Inferrer
	policy   Policy
	logger   *zap.Logger
	newID    func() string
}

// New creates a planner.
func New(inferrer Inferrer, policy Policy, logger *zap.Logger) *Planner {
	return &Planner{
		inferrer: inferrer,
		policy:   policy,
		logger:   logger.Named("planner"),
		newID:    func() string { return uuid.New().String() },
	}
}

// Policy returns the planner's policy.
func (p *Planner) Policy() Policy { return p.policy }

// Plan infers an intent for question over schema and repairs it against the
// schema. It fails with NoMatchError when nothing in the schema matches and
// with LowConfidenceError, carrying the repaired intent, when the confidence
// is below the threshold. Filters nested deeper than the policy allows, after
// same-logic groups are flattened, fail with NoMatchError carrying the intent.
func (p *Planner) Plan(ctx context.Context, schema *models.SchemaModel, question string, opts Options) (*models.QueryIntent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, noMatch("the question is empty")
	}
	if schema == nil || len(schema.Entities) == 0 {
		return nil, noMatch("the connection exposes no tables, collections or keyspaces to query")
	}

	id := p.newID()
	inf, err := p.inferrer.Infer(ctx, InferRequest{
		RequestID:      id,
		Schema:         schema,
		Question:       question,
		RecentEntities: opts.RecentEntities,
	})
	if err != nil {
		if ce := apperrors.FromContext(ctx, apperrors.StagePlan); ce != nil {
			return nil, ce
		}
		if ce, ok := apperrors.As(err); ok {
			return nil, apperrors.EnsureStage(ce, apperrors.StagePlan)
		}
		p.logger.Error("Inference failed", zap.Error(err))
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StagePlan, err, "question inference failed: %v", err)
	}
	if inf == nil || inf.Intent == nil || strings.TrimSpace(inf.Intent.Entity) == "" {
		ce := noMatch("no table, collection or keyspace matches %q", question)
		ce.Suggestion = "Available: " + strings.Join(schema.EntityNames(), ", ")
		return nil, ce
	}

	r := newResolver(schema, opts.RecentEntities)
	intent, err := r.repair(inf.Intent.Clone())
	if err != nil {
		return nil, err
	}

	p.applyLimit(intent, opts.ResultLimit)
	applySortPolicy(intent)

	intent.ID = id
	intent.Question = question
	intent.Operation = strings.ToLower(strings.TrimSpace(intent.Operation))
	if intent.Operation == "" {
		intent.Operation = models.OperationRead
	}
	intent.Confidence = clamp01(inf.Confidence)
	for i := 0; i < r.repairs; i++ {
		intent.Confidence *= repairPenalty
	}

	p.logger.Debug("Planned intent",
		zap.String("intent_id", intent.ID),
		zap.String("entity", intent.Entity),
		zap.Int("joins", len(intent.Joins)),
		zap.Int("repairs", r.repairs),
		zap.Float64("confidence", intent.Confidence))

	if maxDepth := p.policy.MaxPredicateDepth; maxDepth > 0 && intent.Filter.Depth() > maxDepth {
		ce := noMatch("the filter nests %d levels deep, the maximum is %d", intent.Filter.Depth(), maxDepth)
		ce.Suggestion = "Try asking with fewer nested conditions."
		ce.Intent = intent
		return nil, ce
	}

	if intent.Confidence < p.policy.ConfidenceThreshold {
		return nil, &apperrors.CoreError{
			Kind:       apperrors.KindLowConfidence,
			Stage:      apperrors.StagePlan,
			Message:    lowConfidenceMessage(intent.Confidence, p.policy.ConfidenceThreshold),
			Suggestion: rephraseSuggestion,
			Intent:     intent,
		}
	}
	return intent, nil
}

// applyLimit defaults a missing limit and clamps it to the maximum and to the
// caller's result limit.
func (p *Planner) applyLimit(intent *models.QueryIntent, resultLimit int) {
	if intent.Limit <= 0 {
		intent.Limit = p.policy.DefaultLimit
	}
	if resultLimit > 0 && resultLimit < intent.Limit {
		intent.Limit = resultLimit
	}
	if p.policy.MaxLimit > 0 && intent.Limit > p.policy.MaxLimit {
		intent.Limit = p.policy.MaxLimit
	}
}

// applySortPolicy orders windowed questions newest first when no order was asked for.
func applySortPolicy(intent *models.QueryIntent) {
	if len(intent.Sort) > 0 || intent.IsAggregate() {
		return
	}
	for _, leaf := range intent.Filter.Leaves() {
		if leaf.Op == models.OpWithin {
			intent.Sort = []models.SortSpec{{Field: leaf.Field, Descending: true}}
			return
		}
	}
}

func noMatch(format string, args ...any) *apperrors.CoreError {
	ce := apperrors.New(apperrors.KindNoMatch, apperrors.StagePlan, format, args...)
	ce.Suggestion = rephraseSuggestion
	return ce
}

func lowConfidenceMessage(got, threshold float64) string {
	return "the question could not be matched to the schema with enough confidence (" +
		formatScore(got) + " < " + formatScore(threshold) + ")"
}

func formatScore(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
