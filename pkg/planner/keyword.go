package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Keyword inference confidence levels.
const (
	exactEntityConfidence     = 0.7
	inflectedEntityConfidence = 0.65
	fieldOnlyConfidence       = 0.35
	clauseConfidence          = 0.05
	maxKeywordConfidence      = 0.95
)

// Relative windows by phrase, checked in order. Qualifier phrases count only
// directly before the entity name, so "new users" is a window and
// "users in new york" is not.
var windowPhrases = []struct {
	phrase    string
	window    string
	qualifier bool
}{
	{"last month", "30d", false},
	{"past month", "30d", false},
	{"this month", "30d", false},
	{"last week", "7d", false},
	{"past week", "7d", false},
	{"this week", "7d", false},
	{"today", "24h", false},
	{"recent", "7d", false},
	{"recently", "7d", false},
	{"latest", "7d", false},
	{"newest", "7d", false},
	{"new", "7d", true},
}

// temporalPreference ranks the field a window applies to.
var temporalPreference = []string{"created_at", "createdat", "created", "inserted_at", "updated_at", "timestamp", "date"}

// nameFields are fields that identify a related record to a reader.
var nameFields = []string{"name", "full_name", "username", "title"}

var (
	countPattern     = regexp.MustCompile(`\b(how many|count|number of)\b`)
	groupPattern     = regexp.MustCompile(`\b(?:by|per)\s+([a-z_][a-z0-9_]*)`)
	limitPattern     = regexp.MustCompile(`\b(?:top|first|last|latest|newest|oldest|limit)\s+(\d+)\b`)
	aggregatePattern = regexp.MustCompile(`\b(total|sum|average|avg|mean|minimum|min|maximum|max)\s+(?:of\s+)?(?:the\s+)?([a-z_][a-z0-9_]*)`)
	sortPattern      = regexp.MustCompile(`\b(?:sorted|ordered|order|sort)\s+by\s+([a-z_][a-z0-9_]*)(?:\s+(desc|descending|asc|ascending))?`)
	extremePattern   = regexp.MustCompile(`\b(highest|largest|biggest|most expensive|lowest|smallest|cheapest)\s+([a-z_][a-z0-9_]*)`)
	oldestPattern    = regexp.MustCompile(`\boldest\b`)
	wordPattern      = regexp.MustCompile(`[a-z0-9_]+`)
)

// filterOps maps question phrases to comparisons, longest phrases first so
// "is not" wins over "is".
var filterOps = []struct {
	phrase string
	op     models.Comparison
}{
	{"greater than", models.OpGt},
	{"more than", models.OpGt},
	{"less than", models.OpLt},
	{"starts with", models.OpStartsWith},
	{"is not", models.OpNe},
	{"contains", models.OpContains},
	{"equals", models.OpEq},
	{"above", models.OpGt},
	{"over", models.OpGt},
	{"below", models.OpLt},
	{"under", models.OpLt},
	{">=", models.OpGte},
	{"<=", models.OpLte},
	{"!=", models.OpNe},
	{"is", models.OpEq},
	{"=", models.OpEq},
	{">", models.OpGt},
	{"<", models.OpLt},
}

var aggregateWords = map[string]models.AggregateFunc{
	"total": models.AggSum, "sum": models.AggSum,
	"average": models.AggAvg, "avg": models.AggAvg, "mean": models.AggAvg,
	"minimum": models.AggMin, "min": models.AggMin,
	"maximum": models.AggMax, "max": models.AggMax,
}

// KeywordInferrer translates questions by matching schema names and a fixed
// set of phrases. It needs no model and is deterministic.
type KeywordInferrer struct{}

// NewKeywordInferrer creates a keyword inferrer.
func NewKeywordInferrer() *KeywordInferrer { return &KeywordInferrer{} }

func (k *KeywordInferrer) Infer(ctx context.Context, req InferRequest) (*Inference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := &keywordQuestion{
		raw:  req.Question,
		text: " " + strings.Join(wordPattern.FindAllString(strings.ToLower(req.Question), -1), " ") + " ",
	}

	entity, exact := matchEntity(req.Schema, q, req.RecentEntities)
	if entity == nil {
		if e := matchByField(req.Schema, q); e != nil {
			return &Inference{
				Intent:     &models.QueryIntent{Entity: e.Name},
				Confidence: fieldOnlyConfidence,
				Rationale:  fmt.Sprintf("no entity named in the question; %s has a matching field", e.Name),
			}, nil
		}
		return &Inference{Rationale: "no entity named in the question"}, nil
	}

	b := &intentBuilder{
		schema: req.Schema,
		entity: entity,
		intent: &models.QueryIntent{Entity: entity.Name},
		notes:  []string{"matched " + entity.Name},
	}
	b.confidence = inflectedEntityConfidence
	if exact {
		b.confidence = exactEntityConfidence
	}

	b.window(q)
	b.aggregates(q)
	b.filters(q)
	b.limit(q)
	b.sort(q)
	b.enrich()

	if b.confidence > maxKeywordConfidence {
		b.confidence = maxKeywordConfidence
	}
	return &Inference{
		Intent:     b.intent,
		Confidence: b.confidence,
		Rationale:  strings.Join(b.notes, "; "),
	}, nil
}

type keywordQuestion struct {
	raw string
	// text is the lowercased question reduced to space-separated words with
	// a leading and trailing space, so " word " matches whole words.
	text string
}

func (q *keywordQuestion) index(phrase string) int {
	return strings.Index(q.text, " "+phrase+" ")
}

func (q *keywordQuestion) has(phrase string) bool { return q.index(phrase) >= 0 }

// qualifiesEntity reports whether word appears directly before a spelling of
// the entity name.
func (q *keywordQuestion) qualifiesEntity(word, entity string) bool {
	for alias := range entityAliases(entity) {
		if q.has(word + " " + alias) {
			return true
		}
	}
	return false
}

// entityAliases returns the spellings an entity may appear under, with
// whether each is the name itself.
func entityAliases(name string) map[string]bool {
	lower := strings.ToLower(name)
	spaced := strings.ReplaceAll(lower, "_", " ")
	aliases := map[string]bool{lower: true, spaced: true}
	for _, form := range []string{inflection.Singular(lower), inflection.Plural(lower)} {
		for _, a := range []string{form, strings.ReplaceAll(form, "_", " ")} {
			if _, ok := aliases[a]; !ok {
				aliases[a] = false
			}
		}
	}
	return aliases
}

// matchEntity returns the entity mentioned earliest in the question. Ties go
// to the most recently discussed entity, then to the first name in order.
func matchEntity(schema *models.SchemaModel, q *keywordQuestion, recent []string) (*models.EntityDescriptor, bool) {
	type hit struct {
		entity *models.EntityDescriptor
		pos    int
		exact  bool
	}
	var hits []hit
	for i := range schema.Entities {
		e := &schema.Entities[i]
		best := hit{pos: -1}
		for alias, exact := range entityAliases(e.Name) {
			pos := q.index(alias)
			if pos < 0 {
				continue
			}
			if best.pos < 0 || pos < best.pos || (pos == best.pos && exact) {
				best = hit{entity: e, pos: pos, exact: exact}
			}
		}
		if best.pos >= 0 {
			hits = append(hits, best)
		}
	}
	if len(hits) == 0 {
		return nil, false
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].entity.Name < hits[j].entity.Name
	})
	first := hits[0].pos
	for _, r := range recent {
		for _, h := range hits {
			if h.pos == first && strings.EqualFold(h.entity.Name, r) {
				return h.entity, h.exact
			}
		}
	}
	return hits[0].entity, hits[0].exact
}

// matchByField finds an entity by a field mentioned in the question.
func matchByField(schema *models.SchemaModel, q *keywordQuestion) *models.EntityDescriptor {
	for i := range schema.Entities {
		for _, f := range schema.Entities[i].Fields {
			if q.has(strings.ToLower(f.Name)) {
				return &schema.Entities[i]
			}
		}
	}
	return nil
}

type intentBuilder struct {
	schema     *models.SchemaModel
	entity     *models.EntityDescriptor
	intent     *models.QueryIntent
	confidence float64
	notes      []string
}

func (b *intentBuilder) recognized(note string) {
	b.confidence += clauseConfidence
	b.notes = append(b.notes, note)
}

func (b *intentBuilder) ref(e *models.EntityDescriptor, field string) models.FieldRef {
	return models.FieldRef{Entity: e.Name, Field: field}
}

// lookup finds field on the primary entity or an entity already joined.
func (b *intentBuilder) lookup(field string) (models.FieldRef, *models.FieldDescriptor, bool) {
	if f, ok := b.entity.Field(field); ok {
		return b.ref(b.entity, f.Name), f, true
	}
	for _, j := range b.intent.Joins {
		if e, ok := b.schema.Entity(j.Entity); ok {
			if f, ok := e.Field(field); ok {
				return b.ref(e, f.Name), f, true
			}
		}
	}
	return models.FieldRef{}, nil, false
}

func (b *intentBuilder) addFilter(p *models.Predicate) {
	b.intent.Filter = models.And(b.intent.Filter, p)
}

// join adds an inner join along rel unless the entity is already joined.
func (b *intentBuilder) join(rel models.RelationshipHint) {
	for _, j := range b.intent.Joins {
		if j.Entity == rel.ToEntity {
			return
		}
	}
	b.intent.Joins = append(b.intent.Joins, models.Join{
		Entity: rel.ToEntity,
		Kind:   models.JoinInner,
		From:   models.FieldRef{Entity: rel.FromEntity, Field: rel.FromField},
		To:     models.FieldRef{Entity: rel.ToEntity, Field: rel.ToField},
	})
}

func temporalField(e *models.EntityDescriptor) (*models.FieldDescriptor, bool) {
	for _, name := range temporalPreference {
		for i := range e.Fields {
			f := &e.Fields[i]
			if strings.EqualFold(strings.ReplaceAll(f.Name, "_", ""), strings.ReplaceAll(name, "_", "")) && f.IsTemporal() {
				return f, true
			}
		}
	}
	for i := range e.Fields {
		if e.Fields[i].IsTemporal() {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// windowTarget picks the temporal field a relative window applies to: the
// primary entity's own, else one on a directly related entity, joined in.
func (b *intentBuilder) windowTarget() (models.FieldRef, bool) {
	if f, ok := temporalField(b.entity); ok {
		return b.ref(b.entity, f.Name), true
	}
	if !b.canJoin() {
		return models.FieldRef{}, false
	}
	for _, rel := range b.schema.RelationshipsFrom(b.entity.Name) {
		target, ok := b.schema.Entity(rel.ToEntity)
		if !ok {
			continue
		}
		if f, ok := temporalField(target); ok {
			b.join(rel)
			return b.ref(target, f.Name), true
		}
	}
	return models.FieldRef{}, false
}

func (b *intentBuilder) canJoin() bool {
	return b.schema.Family == models.FamilyRelational || b.schema.Family == models.FamilyDocument
}

func (b *intentBuilder) window(q *keywordQuestion) {
	for _, w := range windowPhrases {
		if w.qualifier && !q.qualifiesEntity(w.phrase, b.entity.Name) {
			continue
		}
		if !w.qualifier && !q.has(w.phrase) {
			continue
		}
		target, ok := b.windowTarget()
		if !ok {
			return
		}
		b.addFilter(&models.Predicate{Field: target, Op: models.OpWithin, Value: w.window})
		b.recognized(fmt.Sprintf("%s window on %s", w.window, target))
		return
	}
}

func (b *intentBuilder) aggregates(q *keywordQuestion) {
	if countPattern.MatchString(q.text) {
		b.intent.Aggregations = append(b.intent.Aggregations, models.Aggregation{Func: models.AggCount, Alias: "count"})
		b.recognized("count")
	}
	for _, m := range aggregatePattern.FindAllStringSubmatch(q.text, -1) {
		ref, f, ok := b.lookup(m[2])
		if !ok || !f.IsNumeric() {
			continue
		}
		fn := aggregateWords[m[1]]
		b.intent.Aggregations = append(b.intent.Aggregations, models.Aggregation{
			Func:  fn,
			Field: &ref,
			Alias: string(fn) + "_" + ref.Field,
		})
		b.recognized(fmt.Sprintf("%s of %s", fn, ref))
	}
	if len(b.intent.Aggregations) == 0 {
		return
	}
	for _, m := range groupPattern.FindAllStringSubmatch(q.text, -1) {
		if ref, _, ok := b.lookup(m[1]); ok {
			b.intent.GroupBy = append(b.intent.GroupBy, ref)
			b.recognized("grouped by " + ref.String())
		}
	}
}

func (b *intentBuilder) filters(q *keywordQuestion) {
	fields := make([]string, 0, len(b.entity.Fields))
	for _, f := range b.entity.Fields {
		fields = append(fields, regexp.QuoteMeta(f.Name))
	}
	if len(fields) == 0 {
		return
	}
	ops := make([]string, len(filterOps))
	for i, o := range filterOps {
		// Word operators need a following space so "isabel" is not "is abel".
		ops[i] = regexp.QuoteMeta(o.phrase) + `\s*`
		if o.phrase[0] >= 'a' && o.phrase[0] <= 'z' {
			ops[i] = regexp.QuoteMeta(o.phrase) + `\s+`
		}
	}
	pattern := regexp.MustCompile(`(?i)(?:^|[^a-z0-9_])(` + strings.Join(fields, "|") + `)\s*(?:is\s+)?(` +
		strings.Join(ops, "|") + `)("[^"]*"|'[^']*'|[^\s,?]+)`)

	for _, m := range pattern.FindAllStringSubmatch(q.raw, -1) {
		ref, f, ok := b.lookup(m[1])
		if !ok {
			continue
		}
		op := phraseOp(strings.ToLower(m[2]))
		value := filterValue(m[3], f)
		if op == models.OpEq && strings.EqualFold(m[3], "null") {
			op, value = models.OpIsNull, nil
		} else if op == models.OpNe && strings.EqualFold(m[3], "null") {
			op, value = models.OpNotNull, nil
		}
		b.addFilter(&models.Predicate{Field: ref, Op: op, Value: value})
		b.recognized(fmt.Sprintf("filter %s %s", ref, op))
	}
}

func phraseOp(phrase string) models.Comparison {
	phrase = strings.Join(strings.Fields(phrase), " ")
	for _, o := range filterOps {
		if o.phrase == phrase {
			return o.op
		}
	}
	return models.OpEq
}

// filterValue unquotes s and converts it to the field's type when it parses.
func filterValue(s string, f *models.FieldDescriptor) any {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	switch {
	case f.IsNumeric():
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			return fl
		}
	case f.HasType(models.TypeBoolean):
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return s
}

func (b *intentBuilder) limit(q *keywordQuestion) {
	m := limitPattern.FindStringSubmatch(q.text)
	if m == nil {
		return
	}
	if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
		b.intent.Limit = n
		b.recognized("limit " + m[1])
	}
}

func (b *intentBuilder) sort(q *keywordQuestion) {
	if m := sortPattern.FindStringSubmatch(q.text); m != nil {
		if ref, ok := b.sortRef(m[1]); ok {
			desc := strings.HasPrefix(m[2], "desc")
			b.intent.Sort = append(b.intent.Sort, models.SortSpec{Field: ref, Descending: desc})
			b.recognized("sorted by " + ref.String())
			return
		}
	}
	if m := extremePattern.FindStringSubmatch(q.text); m != nil && !b.intent.IsAggregate() {
		if ref, f, ok := b.lookup(m[2]); ok && f.IsNumeric() {
			desc := m[1] == "highest" || m[1] == "largest" || m[1] == "biggest" || m[1] == "most expensive"
			b.intent.Sort = append(b.intent.Sort, models.SortSpec{Field: ref, Descending: desc})
			b.recognized("sorted by " + ref.String())
			return
		}
	}
	if oldestPattern.MatchString(q.text) && !b.intent.IsAggregate() {
		if f, ok := temporalField(b.entity); ok {
			b.intent.Sort = append(b.intent.Sort, models.SortSpec{Field: b.ref(b.entity, f.Name)})
			b.recognized("oldest first")
		}
	}
}

// sortRef resolves a sort key to a field, or to an aggregate's output name.
func (b *intentBuilder) sortRef(name string) (models.FieldRef, bool) {
	if b.intent.IsAggregate() {
		for _, a := range b.intent.Aggregations {
			if a.Alias == name || (a.Field != nil && a.Field.Field == name) {
				return models.FieldRef{Field: a.Alias}, true
			}
		}
		for _, g := range b.intent.GroupBy {
			if g.Field == name {
				return g, true
			}
		}
		return models.FieldRef{}, false
	}
	ref, _, ok := b.lookup(name)
	return ref, ok
}

// enrich joins the first related entity that has a human-readable name and
// projects that name next to the primary fields, e.g. orders with user_name.
func (b *intentBuilder) enrich() {
	if !b.canJoin() || b.intent.IsAggregate() || !b.entity.FieldsKnown {
		return
	}
	for _, rel := range b.schema.RelationshipsFrom(b.entity.Name) {
		target, ok := b.schema.Entity(rel.ToEntity)
		if !ok || target.Name == b.entity.Name {
			continue
		}
		for _, name := range nameFields {
			f, ok := target.Field(name)
			if !ok {
				continue
			}
			b.join(rel)
			for _, pf := range b.entity.Fields {
				b.intent.Projection = append(b.intent.Projection, models.Projection{Field: b.ref(b.entity, pf.Name)})
			}
			b.intent.Projection = append(b.intent.Projection, models.Projection{
				Field: b.ref(target, f.Name),
				Alias: inflection.Singular(strings.ToLower(target.Name)) + "_" + f.Name,
			})
			b.notes = append(b.notes, fmt.Sprintf("includes %s.%s", target.Name, f.Name))
			return
		}
	}
}
