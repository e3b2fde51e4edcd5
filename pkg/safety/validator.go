// Package safety rejects query intents and native queries that could mutate
// data, change schema, or scan without bound. Every check is a pure function
// of its inputs.
package safety

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/sql"
)

// Policy holds the configured bounds.
type Policy struct {
	MaxLimit          int
	MaxPredicateDepth int
	MaxPipelineStages int
}

// PolicyFromConfig extracts the safety bounds from engine configuration.
func PolicyFromConfig(cfg config.EngineConfig) Policy {
	return Policy{
		MaxLimit:          cfg.MaxLimit,
		MaxPredicateDepth: cfg.MaxPredicateDepth,
		MaxPipelineStages: cfg.MaxPipelineStages,
	}
}

// ValidatedIntent is an intent that passed validation for one dialect.
// It can only be produced by Validator.Validate.
type ValidatedIntent struct {
	intent  *models.QueryIntent
	dialect models.Dialect
}

// Intent returns the validated intent. Callers must not modify it.
func (v *ValidatedIntent) Intent() *models.QueryIntent { return v.intent }

// Dialect returns the dialect the intent was validated for.
func (v *ValidatedIntent) Dialect() models.Dialect { return v.dialect }

// Validator checks intents and native queries against a Policy.
type Validator struct {
	policy Policy
}

// NewValidator creates a validator for policy.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Policy returns the bounds the validator enforces.
func (v *Validator) Policy() Policy { return v.policy }

func reject(format string, args ...any) error {
	return &apperrors.CoreError{
		Kind:    apperrors.KindSafety,
		Stage:   apperrors.StageValidate,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validate checks intent for dialect and returns an immutable validated copy.
func (v *Validator) Validate(intent *models.QueryIntent, dialect models.Dialect) (*ValidatedIntent, error) {
	if intent == nil {
		return nil, reject("no intent to validate")
	}
	if intent.Operation != "" && intent.Operation != models.OperationRead {
		return nil, reject("operation %q is not allowed; only reads are executed", intent.Operation)
	}
	if intent.Entity == "" {
		return nil, reject("intent has no target entity")
	}
	if intent.Limit <= 0 {
		return nil, reject("intent has no result limit")
	}
	if intent.Limit > v.policy.MaxLimit {
		return nil, reject("limit %d exceeds maximum %d", intent.Limit, v.policy.MaxLimit)
	}
	if depth := intent.Filter.Depth(); depth > v.policy.MaxPredicateDepth {
		return nil, reject("filter depth %d exceeds maximum %d", depth, v.policy.MaxPredicateDepth)
	}
	if err := validatePredicate(intent.Filter); err != nil {
		return nil, err
	}
	for _, a := range intent.Aggregations {
		if err := validateAggregation(a); err != nil {
			return nil, err
		}
	}
	for _, j := range intent.Joins {
		if j.Entity == "" || j.From.Field == "" || j.To.Field == "" {
			return nil, reject("join to %q is missing its key fields", j.Entity)
		}
	}
	if dialect.IsPipeline() && v.policy.MaxPipelineStages > 0 {
		if stages := EstimatePipelineStages(intent); stages > v.policy.MaxPipelineStages {
			return nil, reject("pipeline would need %d stages, maximum is %d", stages, v.policy.MaxPipelineStages)
		}
	}

	return &ValidatedIntent{intent: intent.Clone(), dialect: dialect}, nil
}

func validatePredicate(p *models.Predicate) error {
	if p == nil {
		return nil
	}
	if !p.IsLeaf() {
		switch p.Logic {
		case models.LogicAnd, models.LogicOr:
			if len(p.Children) == 0 {
				return reject("%s predicate has no children", p.Logic)
			}
		case models.LogicNot:
			if len(p.Children) != 1 {
				return reject("not predicate must have exactly one child")
			}
		default:
			return reject("unknown logical operator %q", p.Logic)
		}
		for i := range p.Children {
			if err := validatePredicate(&p.Children[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if p.Field.Field == "" {
		return reject("predicate has no field")
	}
	switch p.Op {
	case models.OpEq, models.OpNe, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
		models.OpContains, models.OpStartsWith:
		if p.Value == nil {
			return reject("predicate on %s needs a value", p.Field)
		}
	case models.OpIn:
		list, ok := p.Value.([]any)
		if !ok || len(list) == 0 {
			return reject("in predicate on %s needs a non-empty list", p.Field)
		}
	case models.OpIsNull, models.OpNotNull:
	case models.OpWithin:
		if _, err := models.ParseWindow(p.Value); err != nil {
			return reject("predicate on %s: %v", p.Field, err)
		}
	default:
		return reject("unknown comparison %q", p.Op)
	}
	return nil
}

func validateAggregation(a models.Aggregation) error {
	switch a.Func {
	case models.AggCount:
	case models.AggSum, models.AggAvg, models.AggMin, models.AggMax:
		if a.Field == nil {
			return reject("%s aggregation needs a field", a.Func)
		}
	default:
		return reject("unknown aggregate function %q", a.Func)
	}
	if a.Alias == "" {
		return reject("%s aggregation needs an alias", a.Func)
	}
	return nil
}

// EstimatePipelineStages counts the stages a document materialization emits:
// pre-join match, lookup+unwind per join, post-join match, group, project,
// sort and limit.
func EstimatePipelineStages(intent *models.QueryIntent) int {
	stages := 2 // project + limit
	stages += 2 * len(intent.Joins)
	if intent.Filter != nil {
		stages++
		if len(intent.Joins) > 0 && filterTouchesJoins(intent) {
			stages++
		}
	}
	if intent.IsAggregate() {
		stages++
	}
	if len(intent.Sort) > 0 {
		stages++
	}
	return stages
}

func filterTouchesJoins(intent *models.QueryIntent) bool {
	for _, leaf := range intent.Filter.Leaves() {
		if leaf.Field.Entity != "" && leaf.Field.Entity != intent.Entity {
			return true
		}
	}
	return false
}

// Pipeline is implemented by structured document queries so their stages can
// be inspected without importing a driver.
type Pipeline interface {
	StageOperators() []string
	LimitValue() (int, bool)
}

// Command is implemented by structured key-value queries.
type Command interface {
	CommandName() string
}

var forbiddenStages = map[string]bool{"$out": true, "$merge": true, "$function": true, "$accumulator": true}

var readCommands = map[string]bool{
	"GET": true, "MGET": true, "HGETALL": true, "HMGET": true, "SCAN": true,
	"LRANGE": true, "SMEMBERS": true, "ZRANGE": true, "TYPE": true,
}

// ValidateNative re-checks a materialized or hand-edited native query before
// it is executed and fills in MaxRows. The query is modified only to clamp MaxRows.
func (v *Validator) ValidateNative(q *models.NativeQuery) error {
	if q == nil {
		return reject("no native query")
	}
	if q.MaxRows <= 0 || q.MaxRows > v.policy.MaxLimit {
		q.MaxRows = v.policy.MaxLimit
	}

	switch q.Family {
	case models.FamilyRelational, models.FamilyWideColumn:
		return v.validateStatement(q)
	case models.FamilyDocument:
		return v.validatePipeline(q)
	case models.FamilyKeyValue:
		return v.validateCommand(q)
	default:
		return reject("unknown backend family %q", q.Family)
	}
}

func (v *Validator) validateStatement(q *models.NativeQuery) error {
	if q.Statement == "" {
		return reject("statement is empty")
	}
	normalized, err := sql.ValidateReadOnly(q.Statement)
	if err != nil {
		return reject("%v", err)
	}
	if !hasRowBound(normalized) {
		return reject("statement has no row limit")
	}
	if findings := sql.CheckPositionalParameters(q.Params); len(findings) > 0 {
		return reject("parameter %s looks like an injection attempt (fingerprint %s)",
			findings[0].ParamName, findings[0].Fingerprint)
	}
	q.Statement = normalized
	return nil
}

func hasRowBound(statement string) bool {
	for _, kw := range sql.Keywords(statement) {
		if kw == "LIMIT" || kw == "TOP" || kw == "FETCH" {
			return true
		}
	}
	return false
}

func (v *Validator) validatePipeline(q *models.NativeQuery) error {
	ops, limit, hasLimit, err := pipelineShape(q.Document)
	if err != nil {
		return reject("%v", err)
	}
	if len(ops) == 0 {
		return reject("pipeline is empty")
	}
	if v.policy.MaxPipelineStages > 0 && len(ops) > v.policy.MaxPipelineStages {
		return reject("pipeline has %d stages, maximum is %d", len(ops), v.policy.MaxPipelineStages)
	}
	for _, op := range ops {
		if forbiddenStages[op] {
			return reject("pipeline stage %s is not allowed", op)
		}
		if !strings.HasPrefix(op, "$") {
			return reject("pipeline stage %q is not an operator", op)
		}
	}
	if !hasLimit {
		return reject("pipeline has no $limit stage")
	}
	// One document past the maximum is read to detect truncation.
	if limit > v.policy.MaxLimit+1 {
		return reject("pipeline limit %d exceeds maximum %d", limit, v.policy.MaxLimit)
	}
	return nil
}

// pipelineShape reads stage operators from a typed Pipeline or generic JSON.
func pipelineShape(doc any) (ops []string, limit int, hasLimit bool, err error) {
	if p, ok := doc.(Pipeline); ok {
		limit, hasLimit = p.LimitValue()
		return p.StageOperators(), limit, hasLimit, nil
	}
	stages, ok := doc.([]any)
	if !ok {
		return nil, 0, false, fmt.Errorf("pipeline must be an array of stages, got %T", doc)
	}
	for _, s := range stages {
		stage, ok := s.(map[string]any)
		if !ok || len(stage) != 1 {
			return nil, 0, false, fmt.Errorf("each pipeline stage must be an object with one operator")
		}
		for op, arg := range stage {
			ops = append(ops, op)
			if op == "$limit" {
				n, convErr := toInt(arg)
				if convErr != nil {
					return nil, 0, false, convErr
				}
				limit, hasLimit = n, true
			}
		}
	}
	return ops, limit, hasLimit, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, fmt.Errorf("invalid $limit %q", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("invalid $limit of type %T", v)
}

func (v *Validator) validateCommand(q *models.NativeQuery) error {
	var name string
	switch c := q.Document.(type) {
	case Command:
		name = c.CommandName()
	case map[string]any:
		name, _ = c["command"].(string)
	default:
		return reject("key-value query must be a command document, got %T", q.Document)
	}
	name = strings.ToUpper(name)
	if !readCommands[name] {
		return reject("command %q is not a read command", name)
	}
	return nil
}
