package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// wireIntent is the JSON shape model and plugin inferrers reply with.
// Field references are "entity.field" or bare "field" strings.
type wireIntent struct {
	Entity       string            `json:"entity"`
	Operation    string            `json:"operation"`
	Projection   []json.RawMessage `json:"projection"`
	Filter       *wirePredicate    `json:"filter"`
	Joins        []wireJoin        `json:"joins"`
	GroupBy      []string          `json:"group_by"`
	Aggregations []wireAggregation `json:"aggregations"`
	Sort         []wireSort        `json:"sort"`
	Limit        json.RawMessage   `json:"limit"`
	Confidence   json.RawMessage   `json:"confidence"`
	Rationale    string            `json:"rationale"`
}

type wirePredicate struct {
	Logic    string          `json:"logic"`
	Children []wirePredicate `json:"children"`
	Field    string          `json:"field"`
	Op       string          `json:"op"`
	Value    any             `json:"value"`
}

type wireJoin struct {
	Entity string `json:"entity"`
	Kind   string `json:"kind"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type wireProjection struct {
	Field string `json:"field"`
	Alias string `json:"alias"`
}

type wireAggregation struct {
	Func  string `json:"func"`
	Field string `json:"field"`
	Alias string `json:"alias"`
}

type wireSort struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
	Direction  string `json:"direction"`
}

// decodeInference parses a model or plugin reply. An empty entity, or
// "none", means nothing in the schema matched.
func decodeInference(reply string) (*Inference, error) {
	w, err := llm.ParseJSONResponse[wireIntent](reply)
	if err != nil {
		return nil, fmt.Errorf("decode inference reply: %w", err)
	}

	inf := &Inference{Rationale: strings.TrimSpace(w.Rationale)}
	if c, ok := jsonutil.FlexibleFloat(w.Confidence); ok {
		inf.Confidence = c
	}
	entity := strings.TrimSpace(w.Entity)
	if entity == "" || strings.EqualFold(entity, "none") {
		return inf, nil
	}

	intent := &models.QueryIntent{
		Entity:    entity,
		Operation: w.Operation,
		Filter:    w.Filter.toModel(),
	}
	if n, ok := jsonutil.FlexibleInt(w.Limit); ok && n > 0 {
		intent.Limit = n
	}
	for _, raw := range w.Projection {
		if p, ok := decodeProjection(raw); ok {
			intent.Projection = append(intent.Projection, p)
		}
	}
	for _, j := range w.Joins {
		kind := models.JoinInner
		if strings.EqualFold(j.Kind, string(models.JoinLeft)) {
			kind = models.JoinLeft
		}
		intent.Joins = append(intent.Joins, models.Join{
			Entity: j.Entity,
			Kind:   kind,
			From:   parseRef(j.From),
			To:     parseRef(j.To),
		})
	}
	for _, g := range w.GroupBy {
		intent.GroupBy = append(intent.GroupBy, parseRef(g))
	}
	for _, a := range w.Aggregations {
		agg := models.Aggregation{Func: models.AggregateFunc(a.Func), Alias: a.Alias}
		if f := strings.TrimSpace(a.Field); f != "" && f != "*" {
			ref := parseRef(f)
			agg.Field = &ref
		}
		intent.Aggregations = append(intent.Aggregations, agg)
	}
	for _, s := range w.Sort {
		desc := s.Descending || strings.EqualFold(s.Direction, "desc") || strings.EqualFold(s.Direction, "descending")
		intent.Sort = append(intent.Sort, models.SortSpec{Field: parseRef(s.Field), Descending: desc})
	}
	inf.Intent = intent
	return inf, nil
}

func decodeProjection(raw json.RawMessage) (models.Projection, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return models.Projection{}, false
		}
		return models.Projection{Field: parseRef(s)}, true
	}
	var p wireProjection
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Field) == "" {
		return models.Projection{}, false
	}
	return models.Projection{Field: parseRef(p.Field), Alias: p.Alias}, true
}

func (p *wirePredicate) toModel() *models.Predicate {
	if p == nil {
		return nil
	}
	if p.Logic != "" {
		out := &models.Predicate{Logic: models.LogicalOp(strings.ToLower(p.Logic))}
		for i := range p.Children {
			if c := p.Children[i].toModel(); c != nil {
				out.Children = append(out.Children, *c)
			}
		}
		return out
	}
	if p.Field == "" {
		return nil
	}
	return &models.Predicate{Field: parseRef(p.Field), Op: models.Comparison(p.Op), Value: p.Value}
}

// parseRef splits "entity.field". Dotted document paths keep everything after
// the first dot as the field.
func parseRef(s string) models.FieldRef {
	s = strings.TrimSpace(s)
	if entity, field, ok := strings.Cut(s, "."); ok && entity != "" && field != "" {
		return models.FieldRef{Entity: entity, Field: field}
	}
	return models.FieldRef{Field: s}
}
