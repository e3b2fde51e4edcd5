package mongodb

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// ObjectIDField reports whether entity.field holds ObjectIDs, so 24-digit hex
// strings compared against it are converted.
type ObjectIDField func(entity, field string) bool

// Builder renders validated intents as aggregation pipelines:
// $match, $lookup/$unwind per join, $match on joined fields, $group,
// $sort, $project and $limit, each only when needed.
type Builder struct {
	now      func() time.Time
	objectID ObjectIDField
}

// NewBuilder creates a builder. now resolves relative windows; nil means time.Now.
func NewBuilder(now func() time.Time, objectID ObjectIDField) *Builder {
	if now == nil {
		now = time.Now
	}
	if objectID == nil {
		objectID = func(string, string) bool { return false }
	}
	return &Builder{now: now, objectID: objectID}
}

// Build materializes v. The result is a pure function of the intent, the
// clock reading and the ObjectID lookup.
func (b *Builder) Build(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	intent := v.Intent()
	p := &pipeline{b: b, now: b.now().UTC(), primary: intent.Entity}

	pre, post := splitFilter(intent)
	if pre != nil {
		if err := p.match(pre); err != nil {
			return nil, err
		}
	}
	for _, j := range intent.Joins {
		p.stage("$lookup", bson.D{
			{Key: "from", Value: j.Entity},
			{Key: "localField", Value: p.path(j.From)},
			{Key: "foreignField", Value: j.To.Field},
			{Key: "as", Value: j.Entity},
		})
		p.stage("$unwind", bson.D{
			{Key: "path", Value: "$" + j.Entity},
			{Key: "preserveNullAndEmptyArrays", Value: j.Kind == models.JoinLeft},
		})
	}
	if post != nil {
		if err := p.match(post); err != nil {
			return nil, err
		}
	}

	if intent.IsAggregate() {
		p.group(intent)
		p.sort(intent, true)
	} else {
		p.sort(intent, false)
		p.project(intent)
	}
	p.stage("$limit", int64(intent.FetchLimit()))

	return &models.NativeQuery{
		Dialect: Dialect.Name,
		Family:  models.FamilyDocument,
		Document: &Pipeline{
			Collection: intent.Entity,
			Stages:     p.stages,
			Columns:    intent.OutputColumns(),
		},
		Target:   intent.Entity,
		IntentID: intent.ID,
		MaxRows:  intent.Limit,
	}, nil
}

// splitFilter puts conditions on the primary collection before the lookups
// so they can use its indexes. Top-level AND terms on joined fields move
// after the lookups; any other filter touching joins runs there whole.
func splitFilter(intent *models.QueryIntent) (pre, post *models.Predicate) {
	f := intent.Filter
	if f == nil {
		return nil, nil
	}
	if len(intent.Joins) == 0 || !touchesJoins(f, intent.Entity) {
		return f, nil
	}
	if f.Logic != models.LogicAnd {
		return nil, f
	}
	var local, joined []models.Predicate
	for _, c := range f.Children {
		if touchesJoins(&c, intent.Entity) {
			joined = append(joined, c)
		} else {
			local = append(local, c)
		}
	}
	return conjunction(local), conjunction(joined)
}

func touchesJoins(p *models.Predicate, primary string) bool {
	for _, leaf := range p.Leaves() {
		if leaf.Field.Entity != "" && leaf.Field.Entity != primary {
			return true
		}
	}
	return false
}

func conjunction(ps []models.Predicate) *models.Predicate {
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return &ps[0]
	}
	return &models.Predicate{Logic: models.LogicAnd, Children: ps}
}

type pipeline struct {
	b       *Builder
	now     time.Time
	primary string
	stages  []bson.D
}

func (p *pipeline) stage(op string, arg any) {
	p.stages = append(p.stages, bson.D{{Key: op, Value: arg}})
}

// path addresses a field in the pipeline document. Joined documents are
// unwound under their entity name.
func (p *pipeline) path(f models.FieldRef) string {
	if f.Entity == "" || f.Entity == p.primary {
		return f.Field
	}
	return f.Entity + "." + f.Field
}

func (p *pipeline) match(f *models.Predicate) error {
	filter, err := p.predicate(f)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, apperrors.StageMaterialize, err, "")
	}
	p.stage("$match", filter)
	return nil
}

func (p *pipeline) predicate(f *models.Predicate) (bson.D, error) {
	if !f.IsLeaf() {
		children := make(bson.A, 0, len(f.Children))
		for i := range f.Children {
			c, err := p.predicate(&f.Children[i])
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		switch f.Logic {
		case models.LogicAnd:
			return bson.D{{Key: "$and", Value: children}}, nil
		case models.LogicOr:
			return bson.D{{Key: "$or", Value: children}}, nil
		case models.LogicNot:
			return bson.D{{Key: "$nor", Value: children}}, nil
		}
		return nil, fmt.Errorf("unknown logical operator %q", f.Logic)
	}

	path := p.path(f.Field)
	cond := func(op string, v any) (bson.D, error) {
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: v}}}}, nil
	}
	switch f.Op {
	case models.OpEq:
		return cond("$eq", p.value(f.Field, f.Value))
	case models.OpNe:
		return cond("$ne", p.value(f.Field, f.Value))
	case models.OpGt:
		return cond("$gt", p.value(f.Field, f.Value))
	case models.OpGte:
		return cond("$gte", p.value(f.Field, f.Value))
	case models.OpLt:
		return cond("$lt", p.value(f.Field, f.Value))
	case models.OpLte:
		return cond("$lte", p.value(f.Field, f.Value))
	case models.OpIn:
		items, _ := f.Value.([]any)
		values := make(bson.A, len(items))
		for i, item := range items {
			values[i] = p.value(f.Field, item)
		}
		return cond("$in", values)
	case models.OpContains:
		return regex(path, regexp.QuoteMeta(fmt.Sprint(f.Value))), nil
	case models.OpStartsWith:
		return regex(path, "^"+regexp.QuoteMeta(fmt.Sprint(f.Value))), nil
	case models.OpIsNull:
		return cond("$eq", nil)
	case models.OpNotNull:
		return cond("$ne", nil)
	case models.OpWithin:
		start, err := f.WindowStart(p.now)
		if err != nil {
			return nil, err
		}
		return cond("$gte", start)
	}
	return nil, fmt.Errorf("unsupported comparison %q", f.Op)
}

func regex(path, pattern string) bson.D {
	return bson.D{{Key: path, Value: bson.D{
		{Key: "$regex", Value: pattern},
		{Key: "$options", Value: "i"},
	}}}
}

// value converts planner values into BSON values.
func (p *pipeline) value(f models.FieldRef, v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case int:
		return int64(x)
	case string:
		entity := f.Entity
		if entity == "" {
			entity = p.primary
		}
		if p.b.objectID(entity, f.Field) {
			if id, err := primitive.ObjectIDFromHex(x); err == nil {
				return id
			}
		}
	}
	return v
}

func (p *pipeline) group(intent *models.QueryIntent) {
	var id any
	if len(intent.GroupBy) > 0 {
		key := bson.D{}
		for _, g := range intent.GroupBy {
			key = append(key, bson.E{Key: g.Field, Value: "$" + p.path(g)})
		}
		id = key
	}
	group := bson.D{{Key: "_id", Value: id}}
	for _, a := range intent.Aggregations {
		var acc bson.D
		switch {
		case a.Func == models.AggCount && a.Field == nil:
			acc = bson.D{{Key: "$sum", Value: 1}}
		case a.Func == models.AggCount:
			// count(field) skips missing and null values.
			acc = bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{"$" + p.path(*a.Field), nil}}}, 1, 0,
			}}}}}
		default:
			acc = bson.D{{Key: "$" + string(a.Func), Value: "$" + p.path(*a.Field)}}
		}
		group = append(group, bson.E{Key: a.Alias, Value: acc})
	}
	p.stage("$group", group)

	project := bson.D{{Key: "_id", Value: 0}}
	for _, g := range intent.GroupBy {
		project = append(project, bson.E{Key: g.Field, Value: "$_id." + g.Field})
	}
	for _, a := range intent.Aggregations {
		project = append(project, bson.E{Key: a.Alias, Value: 1})
	}
	p.stage("$project", project)
}

// sort orders by document paths, or by output names after a group.
func (p *pipeline) sort(intent *models.QueryIntent, grouped bool) {
	if len(intent.Sort) == 0 {
		return
	}
	keys := bson.D{}
	for _, o := range intent.Sort {
		dir := 1
		if o.Descending {
			dir = -1
		}
		key := o.Field.Field
		if !grouped {
			key = p.path(p.resolveAlias(intent, o.Field))
		}
		keys = append(keys, bson.E{Key: key, Value: dir})
	}
	p.stage("$sort", keys)
}

// resolveAlias maps an entity-less sort key naming a projection alias back
// to the projected field.
func (p *pipeline) resolveAlias(intent *models.QueryIntent, f models.FieldRef) models.FieldRef {
	if f.Entity != "" {
		return f
	}
	for _, pr := range intent.Projection {
		if pr.OutputName() == f.Field {
			return pr.Field
		}
	}
	return f
}

func (p *pipeline) project(intent *models.QueryIntent) {
	if len(intent.Projection) == 0 {
		return
	}
	project := bson.D{}
	hasID := false
	for _, pr := range intent.Projection {
		if pr.OutputName() == "_id" {
			hasID = true
		}
		project = append(project, bson.E{Key: pr.OutputName(), Value: "$" + p.path(pr.Field)})
	}
	if !hasID {
		project = append(bson.D{{Key: "_id", Value: 0}}, project...)
	}
	p.stage("$project", project)
}
