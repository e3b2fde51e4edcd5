package planner

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// resolver repairs inferred references against one schema snapshot. Unknown
// projections, joins, groupings, aggregates and sort keys are dropped and
// counted; unknown filter references are rejected, since dropping a filter
// would silently widen the result.
type resolver struct {
	schema  *models.SchemaModel
	recent  []string
	primary *models.EntityDescriptor
	scope   []*models.EntityDescriptor
	repairs int
}

func newResolver(schema *models.SchemaModel, recent []string) *resolver {
	return &resolver{schema: schema, recent: recent}
}

// entity finds name in the schema, also trying its singular and plural forms.
func (r *resolver) entity(name string) (*models.EntityDescriptor, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if e, ok := r.schema.Entity(name); ok {
		return e, true
	}
	for _, alt := range []string{inflection.Plural(name), inflection.Singular(name)} {
		if e, ok := r.schema.Entity(alt); ok {
			return e, true
		}
	}
	return nil, false
}

func (r *resolver) inScope(name string) (*models.EntityDescriptor, bool) {
	e, ok := r.entity(name)
	if !ok {
		return nil, false
	}
	for _, s := range r.scope {
		if s.Name == e.Name {
			return s, true
		}
	}
	return nil, false
}

func (r *resolver) repair(intent *models.QueryIntent) (*models.QueryIntent, error) {
	primary, ok := r.entity(intent.Entity)
	if !ok {
		ce := noMatch("no table, collection or keyspace named %q", intent.Entity)
		ce.Suggestion = "Available: " + strings.Join(r.schema.EntityNames(), ", ")
		return nil, ce
	}
	r.primary = primary
	r.scope = []*models.EntityDescriptor{primary}
	intent.Entity = primary.Name

	intent.Joins = r.joins(intent.Joins)

	filter, err := r.predicate(intent.Filter)
	if err != nil {
		return nil, err
	}
	intent.Filter = filter

	intent.GroupBy = r.groupBy(intent.GroupBy)
	intent.Aggregations = r.aggregations(intent.Aggregations, len(intent.GroupBy) > 0)
	if intent.IsAggregate() {
		intent.Projection = nil
	} else {
		intent.Projection = r.projection(intent.Projection)
	}
	intent.Sort = r.sort(intent)
	return intent, nil
}

func (r *resolver) joins(in []models.Join) []models.Join {
	var out []models.Join
	for _, j := range in {
		e, ok := r.entity(j.Entity)
		if !ok {
			r.repairs++
			continue
		}
		if _, dup := r.inScope(e.Name); dup {
			r.repairs++
			continue
		}
		join, ok := r.joinKeys(j, e)
		if !ok {
			r.repairs++
			continue
		}
		if join.Kind != models.JoinLeft {
			join.Kind = models.JoinInner
		}
		out = append(out, join)
		r.scope = append(r.scope, e)
	}
	return out
}

// joinKeys keeps the inferred keys when both resolve, else fills them from a
// relationship hint between an entity already in scope and target.
func (r *resolver) joinKeys(j models.Join, target *models.EntityDescriptor) (models.Join, bool) {
	join := models.Join{Entity: target.Name, Kind: j.Kind}
	if from, ok := r.field(j.From); ok && j.To.Field != "" {
		if to, ok := target.Field(j.To.Field); ok || !target.FieldsKnown {
			toName := j.To.Field
			if ok {
				toName = to.Name
			}
			join.From = from
			join.To = models.FieldRef{Entity: target.Name, Field: toName}
			return join, true
		}
	}
	for _, s := range r.scope {
		rel, ok := r.schema.RelationshipBetween(s.Name, target.Name)
		if !ok {
			continue
		}
		if rel.FromEntity == target.Name {
			join.From = models.FieldRef{Entity: s.Name, Field: rel.ToField}
			join.To = models.FieldRef{Entity: target.Name, Field: rel.FromField}
		} else {
			join.From = models.FieldRef{Entity: s.Name, Field: rel.FromField}
			join.To = models.FieldRef{Entity: target.Name, Field: rel.ToField}
		}
		return join, true
	}
	return join, false
}

// field resolves ref to an entity in scope. A bare field that several
// entities declare goes to the most recently referenced one, else to the
// lexicographically first.
func (r *resolver) field(ref models.FieldRef) (models.FieldRef, bool) {
	name := strings.TrimSpace(ref.Field)
	if name == "" {
		return models.FieldRef{}, false
	}
	if ref.Entity != "" {
		if e, ok := r.inScope(ref.Entity); ok {
			if f, ok := e.Field(name); ok {
				return models.FieldRef{Entity: e.Name, Field: f.Name}, true
			}
			if !e.FieldsKnown {
				return models.FieldRef{Entity: e.Name, Field: name}, true
			}
		} else {
			// "address.city" is a nested document path, not entity.field.
			name = ref.Entity + "." + name
		}
	}

	var candidates []models.FieldRef
	for _, e := range r.scope {
		if f, ok := e.Field(name); ok {
			candidates = append(candidates, models.FieldRef{Entity: e.Name, Field: f.Name})
		}
	}
	switch len(candidates) {
	case 0:
		if !r.primary.FieldsKnown {
			return models.FieldRef{Entity: r.primary.Name, Field: name}, true
		}
		return models.FieldRef{}, false
	case 1:
		return candidates[0], true
	}
	for _, recent := range r.recent {
		for _, c := range candidates {
			if strings.EqualFold(c.Entity, recent) {
				return c, true
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Entity < candidates[j].Entity })
	return candidates[0], true
}

func (r *resolver) descriptor(ref models.FieldRef) (*models.FieldDescriptor, bool) {
	e, ok := r.schema.Entity(ref.Entity)
	if !ok {
		return nil, false
	}
	return e.Field(ref.Field)
}

func (r *resolver) projection(in []models.Projection) []models.Projection {
	var out []models.Projection
	seen := make(map[string]bool)
	for _, p := range in {
		ref, ok := r.field(p.Field)
		if !ok {
			r.repairs++
			continue
		}
		proj := models.Projection{Field: ref, Alias: strings.TrimSpace(p.Alias)}
		if proj.Alias == ref.Field {
			proj.Alias = ""
		}
		if seen[proj.OutputName()] {
			continue
		}
		seen[proj.OutputName()] = true
		out = append(out, proj)
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range r.primary.Fields {
		out = append(out, models.Projection{Field: models.FieldRef{Entity: r.primary.Name, Field: f.Name}})
	}
	return out
}

var opSynonyms = map[string]models.Comparison{
	"eq": models.OpEq, "=": models.OpEq, "==": models.OpEq, "is": models.OpEq, "equals": models.OpEq,
	"ne": models.OpNe, "!=": models.OpNe, "<>": models.OpNe, "neq": models.OpNe, "is not": models.OpNe,
	"gt": models.OpGt, ">": models.OpGt,
	"gte": models.OpGte, ">=": models.OpGte,
	"lt": models.OpLt, "<": models.OpLt,
	"lte": models.OpLte, "<=": models.OpLte,
	"in":          models.OpIn,
	"contains":    models.OpContains,
	"like":        models.OpContains,
	"starts_with": models.OpStartsWith, "startswith": models.OpStartsWith, "prefix": models.OpStartsWith,
	"is_null": models.OpIsNull, "isnull": models.OpIsNull,
	"not_null": models.OpNotNull, "notnull": models.OpNotNull, "is_not_null": models.OpNotNull,
	"within": models.OpWithin, "since": models.OpWithin,
}

func normalizeOp(op models.Comparison) (models.Comparison, bool) {
	c, ok := opSynonyms[strings.ToLower(strings.TrimSpace(string(op)))]
	return c, ok
}

func (r *resolver) predicate(p *models.Predicate) (*models.Predicate, error) {
	if p == nil {
		return nil, nil
	}
	if p.IsLeaf() {
		if p.Field.Field == "" && p.Op == "" {
			return nil, nil
		}
		ref, ok := r.field(p.Field)
		if !ok {
			ce := noMatch("filter references unknown field %q", p.Field.String())
			return nil, ce
		}
		op, ok := normalizeOp(p.Op)
		if !ok {
			return nil, noMatch("filter uses unsupported operator %q", p.Op)
		}
		leaf := &models.Predicate{Field: ref, Op: op, Value: coerceValue(p.Value)}
		switch op {
		case models.OpIsNull, models.OpNotNull:
			leaf.Value = nil
		case models.OpIn:
			if _, isList := leaf.Value.([]any); !isList {
				leaf.Value = []any{leaf.Value}
			}
		case models.OpWithin:
			if _, err := models.ParseWindow(leaf.Value); err != nil {
				return nil, noMatch("filter on %q has an unusable time window: %v", ref.String(), err)
			}
		}
		return leaf, nil
	}

	logic := models.LogicalOp(strings.ToLower(string(p.Logic)))
	switch logic {
	case models.LogicAnd, models.LogicOr, models.LogicNot:
	default:
		return nil, noMatch("filter uses unsupported logic %q", p.Logic)
	}
	var children []models.Predicate
	for i := range p.Children {
		c, err := r.predicate(&p.Children[i])
		if err != nil {
			return nil, err
		}
		switch {
		case c == nil:
		case logic != models.LogicNot && c.Logic == logic:
			// and(and(a, b), c) is and(a, b, c).
			children = append(children, c.Children...)
		default:
			children = append(children, *c)
		}
	}
	switch {
	case len(children) == 0:
		return nil, nil
	case len(children) == 1 && logic != models.LogicNot:
		return &children[0], nil
	}
	return &models.Predicate{Logic: logic, Children: children}, nil
}

// coerceValue turns decoded JSON numbers into int64 or float64.
func coerceValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = coerceValue(e)
		}
		return out
	}
	return v
}

func (r *resolver) groupBy(in []models.FieldRef) []models.FieldRef {
	var out []models.FieldRef
	seen := make(map[string]bool)
	for _, g := range in {
		ref, ok := r.field(g)
		if !ok {
			r.repairs++
			continue
		}
		if seen[ref.String()] {
			continue
		}
		seen[ref.String()] = true
		out = append(out, ref)
	}
	return out
}

var aggSynonyms = map[string]models.AggregateFunc{
	"count": models.AggCount,
	"sum":   models.AggSum, "total": models.AggSum,
	"avg": models.AggAvg, "average": models.AggAvg, "mean": models.AggAvg,
	"min": models.AggMin, "minimum": models.AggMin,
	"max": models.AggMax, "maximum": models.AggMax,
}

func (r *resolver) aggregations(in []models.Aggregation, grouped bool) []models.Aggregation {
	var out []models.Aggregation
	seen := make(map[string]bool)
	for _, a := range in {
		fn, ok := aggSynonyms[strings.ToLower(strings.TrimSpace(string(a.Func)))]
		if !ok {
			r.repairs++
			continue
		}
		agg := models.Aggregation{Func: fn, Alias: strings.TrimSpace(a.Alias)}
		if a.Field != nil && a.Field.Field != "" && a.Field.Field != "*" {
			ref, ok := r.field(*a.Field)
			if !ok {
				r.repairs++
				continue
			}
			if fn == models.AggSum || fn == models.AggAvg {
				if fd, ok := r.descriptor(ref); ok && fd.Type != models.TypeUnknown && !fd.IsNumeric() {
					r.repairs++
					continue
				}
			}
			agg.Field = &ref
		} else if fn != models.AggCount {
			r.repairs++
			continue
		}
		if agg.Alias == "" {
			agg.Alias = string(fn)
			if agg.Field != nil {
				agg.Alias += "_" + agg.Field.Field
			}
		}
		if seen[agg.Alias] {
			continue
		}
		seen[agg.Alias] = true
		out = append(out, agg)
	}
	if grouped && len(out) == 0 {
		out = append(out, models.Aggregation{Func: models.AggCount, Alias: "count"})
	}
	return out
}

// sort keeps keys that name an output column or, for plain reads, a field in scope.
func (r *resolver) sort(intent *models.QueryIntent) []models.SortSpec {
	outputs := intent.OutputColumns()
	var out []models.SortSpec
	for _, s := range intent.Sort {
		key, ok := r.sortKey(intent, outputs, s.Field)
		if !ok {
			r.repairs++
			continue
		}
		out = append(out, models.SortSpec{Field: key, Descending: s.Descending})
	}
	return out
}

func (r *resolver) sortKey(intent *models.QueryIntent, outputs []string, ref models.FieldRef) (models.FieldRef, bool) {
	if intent.IsAggregate() {
		for _, g := range intent.GroupBy {
			if strings.EqualFold(g.Field, ref.Field) && (ref.Entity == "" || strings.EqualFold(g.Entity, ref.Entity)) {
				return g, true
			}
		}
		for _, col := range outputs {
			if strings.EqualFold(col, ref.Field) {
				return models.FieldRef{Field: col}, true
			}
		}
		return models.FieldRef{}, false
	}
	if ref.Entity == "" {
		for _, p := range intent.Projection {
			if p.Alias != "" && strings.EqualFold(p.Alias, ref.Field) {
				return models.FieldRef{Field: p.Alias}, true
			}
		}
	}
	return r.field(ref)
}
