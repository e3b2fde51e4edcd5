package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OperationRead is the only operation an intent may carry. Inference output
// naming anything else is rejected by the safety validator.
const OperationRead = "read"

// FieldRef names a field of an entity. Entity may be empty when the field
// refers to an output alias (e.g. sorting by an aggregate).
type FieldRef struct {
	Entity string `json:"entity,omitempty"`
	Field  string `json:"field"`
}

func (f FieldRef) String() string {
	if f.Entity == "" {
		return f.Field
	}
	return f.Entity + "." + f.Field
}

// LogicalOp joins predicate children.
type LogicalOp string

const (
	LogicAnd LogicalOp = "and"
	LogicOr  LogicalOp = "or"
	LogicNot LogicalOp = "not"
)

// Comparison is a leaf predicate operator.
type Comparison string

const (
	OpEq         Comparison = "eq"
	OpNe         Comparison = "ne"
	OpGt         Comparison = "gt"
	OpGte        Comparison = "gte"
	OpLt         Comparison = "lt"
	OpLte        Comparison = "lte"
	OpIn         Comparison = "in"
	OpContains   Comparison = "contains"
	OpStartsWith Comparison = "starts_with"
	OpIsNull     Comparison = "is_null"
	OpNotNull    Comparison = "not_null"
	// OpWithin matches values no older than a relative window before now.
	// Value is a time.Duration or a window string such as "7d" or "24h".
	OpWithin Comparison = "within"
)

// IsRange returns true for ordering comparisons.
func (c Comparison) IsRange() bool {
	return c == OpGt || c == OpGte || c == OpLt || c == OpLte || c == OpWithin
}

// Predicate is a node of the filter tree: a branch when Logic is set, else a leaf.
type Predicate struct {
	Logic    LogicalOp   `json:"logic,omitempty"`
	Children []Predicate `json:"children,omitempty"`
	Field    FieldRef    `json:"field,omitempty"`
	Op       Comparison  `json:"op,omitempty"`
	Value    any         `json:"value,omitempty"`
}

// IsLeaf reports whether p is a field-operator-value triple.
func (p *Predicate) IsLeaf() bool { return p.Logic == "" }

// Depth returns the tree depth; a single leaf has depth 1.
func (p *Predicate) Depth() int {
	if p == nil {
		return 0
	}
	if p.IsLeaf() {
		return 1
	}
	max := 0
	for i := range p.Children {
		if d := p.Children[i].Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// Leaves returns every leaf in depth-first order.
func (p *Predicate) Leaves() []Predicate {
	if p == nil {
		return nil
	}
	if p.IsLeaf() {
		return []Predicate{*p}
	}
	var out []Predicate
	for i := range p.Children {
		out = append(out, p.Children[i].Leaves()...)
	}
	return out
}

// HasLogic reports whether op appears anywhere in the tree.
func (p *Predicate) HasLogic(op LogicalOp) bool {
	if p == nil || p.IsLeaf() {
		return false
	}
	if p.Logic == op {
		return true
	}
	for i := range p.Children {
		if p.Children[i].HasLogic(op) {
			return true
		}
	}
	return false
}

// And combines predicates, skipping nils and flattening single children.
func And(preds ...*Predicate) *Predicate {
	var children []Predicate
	for _, p := range preds {
		if p != nil {
			children = append(children, *p)
		}
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return &children[0]
	}
	return &Predicate{Logic: LogicAnd, Children: children}
}

// WindowStart resolves an OpWithin leaf to the absolute lower bound.
func (p *Predicate) WindowStart(now time.Time) (time.Time, error) {
	d, err := ParseWindow(p.Value)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

// ParseWindow converts a relative window to a duration. Accepts time.Duration,
// Go duration strings ("36h"), day/week suffixes ("7d", "2w") and whole seconds.
func ParseWindow(v any) (time.Duration, error) {
	switch w := v.(type) {
	case time.Duration:
		return w, nil
	case float64:
		return time.Duration(w) * time.Second, nil
	case int:
		return time.Duration(w) * time.Second, nil
	case json.Number:
		n, err := w.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", w)
		}
		return time.Duration(n) * time.Second, nil
	case string:
		s := strings.TrimSpace(strings.ToLower(w))
		for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
			if strings.HasSuffix(s, suffix) {
				n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
				if err == nil && n > 0 {
					return time.Duration(n) * unit, nil
				}
			}
		}
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid window %q", w)
		}
		return d, nil
	}
	return 0, fmt.Errorf("invalid window value of type %T", v)
}

// AggregateFunc is an aggregate function name.
type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// Aggregation is one aggregate output column. Field is nil for count(*).
type Aggregation struct {
	Func  AggregateFunc `json:"func"`
	Field *FieldRef     `json:"field,omitempty"`
	Alias string        `json:"alias"`
}

// JoinKind selects inner or left join semantics.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
)

// Join links the primary entity (or an earlier joined entity) to another entity.
type Join struct {
	Entity string   `json:"entity"`
	Kind   JoinKind `json:"kind"`
	From   FieldRef `json:"from"`
	To     FieldRef `json:"to"`
}

// Projection is one selected output column.
type Projection struct {
	Field FieldRef `json:"field"`
	Alias string   `json:"alias,omitempty"`
}

// OutputName returns the column name the projection produces.
func (p Projection) OutputName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Field.Field
}

// SortSpec orders results by a field or output alias.
type SortSpec struct {
	Field      FieldRef `json:"field"`
	Descending bool     `json:"descending,omitempty"`
}

// QueryIntent is the backend-agnostic description of what to fetch.
// Treat values as immutable once returned by the planner; use Clone to derive.
type QueryIntent struct {
	ID           string        `json:"id"`
	Question     string        `json:"question,omitempty"`
	Operation    string        `json:"operation"`
	Entity       string        `json:"entity"`
	Projection   []Projection  `json:"projection"`
	Filter       *Predicate    `json:"filter,omitempty"`
	Joins        []Join        `json:"joins,omitempty"`
	GroupBy      []FieldRef    `json:"group_by,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
	Sort         []SortSpec    `json:"sort,omitempty"`
	Limit        int           `json:"limit"`
	Confidence   float64       `json:"confidence"`
}

// Entities returns the primary entity followed by joined entities.
func (q *QueryIntent) Entities() []string {
	out := []string{q.Entity}
	for _, j := range q.Joins {
		out = append(out, j.Entity)
	}
	return out
}

// IsAggregate reports whether the intent groups or aggregates.
func (q *QueryIntent) IsAggregate() bool {
	return len(q.Aggregations) > 0 || len(q.GroupBy) > 0
}

// FetchLimit is the row bound materialized queries carry: one row past Limit,
// so the executor can tell a page that exactly fills the limit from a
// truncated one.
func (q *QueryIntent) FetchLimit() int {
	return q.Limit + 1
}

// OutputColumns returns result column names in output order: group-by fields
// then aggregates for aggregate intents, otherwise the projection.
func (q *QueryIntent) OutputColumns() []string {
	if q.IsAggregate() {
		cols := make([]string, 0, len(q.GroupBy)+len(q.Aggregations))
		for _, g := range q.GroupBy {
			cols = append(cols, g.Field)
		}
		for _, a := range q.Aggregations {
			cols = append(cols, a.Alias)
		}
		return cols
	}
	cols := make([]string, len(q.Projection))
	for i, p := range q.Projection {
		cols[i] = p.OutputName()
	}
	return cols
}

// Clone returns a deep copy. Predicate values are copied by reference.
func (q *QueryIntent) Clone() *QueryIntent {
	if q == nil {
		return nil
	}
	out := *q
	out.Projection = append([]Projection(nil), q.Projection...)
	out.Joins = append([]Join(nil), q.Joins...)
	out.GroupBy = append([]FieldRef(nil), q.GroupBy...)
	out.Sort = append([]SortSpec(nil), q.Sort...)
	out.Aggregations = make([]Aggregation, len(q.Aggregations))
	for i, a := range q.Aggregations {
		out.Aggregations[i] = a
		if a.Field != nil {
			f := *a.Field
			out.Aggregations[i].Field = &f
		}
	}
	if len(out.Aggregations) == 0 {
		out.Aggregations = nil
	}
	out.Filter = clonePredicate(q.Filter)
	return &out
}

func clonePredicate(p *Predicate) *Predicate {
	if p == nil {
		return nil
	}
	out := *p
	if len(p.Children) > 0 {
		out.Children = make([]Predicate, len(p.Children))
		for i := range p.Children {
			out.Children[i] = *clonePredicate(&p.Children[i])
		}
	}
	return &out
}
