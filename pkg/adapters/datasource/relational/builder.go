package relational

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Builder renders validated intents as parameterized SQL for one dialect.
// Output is a pure function of the intent and the clock reading, so the
// same intent always yields the same statement and parameters.
type Builder struct {
	dialect Dialect
	now     func() time.Time
}

// NewBuilder creates a builder. now resolves relative windows; nil means time.Now.
func NewBuilder(d Dialect, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{dialect: d, now: now}
}

// Build materializes v. Values are always bound as parameters.
func (b *Builder) Build(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	intent := v.Intent()
	s := &statement{
		d:       b.dialect,
		now:     b.now().UTC(),
		primary: intent.Entity,
		qualify: len(intent.Joins) > 0,
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.dialect.Limit == TopClause {
		fmt.Fprintf(&sb, "TOP (%d) ", intent.FetchLimit())
	}
	sb.WriteString(strings.Join(s.selectList(intent), ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(s.d.Quote(intent.Entity))

	for _, j := range intent.Joins {
		keyword := "JOIN"
		if j.Kind == models.JoinLeft {
			keyword = "LEFT JOIN"
		}
		fmt.Fprintf(&sb, " %s %s ON %s = %s", keyword, s.d.Quote(j.Entity), s.column(j.From), s.column(j.To))
	}

	if intent.Filter != nil {
		where, err := s.predicate(intent.Filter, false)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageMaterialize, err, "")
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(intent.GroupBy) > 0 {
		cols := make([]string, len(intent.GroupBy))
		for i, g := range intent.GroupBy {
			cols[i] = s.column(g)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}

	if len(intent.Sort) > 0 {
		keys := make([]string, len(intent.Sort))
		for i, o := range intent.Sort {
			keys[i] = s.sortKey(o.Field)
			if o.Descending {
				keys[i] += " DESC"
			} else {
				keys[i] += " ASC"
			}
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}

	if b.dialect.Limit == LimitClause {
		fmt.Fprintf(&sb, " LIMIT %d", intent.FetchLimit())
	}

	return &models.NativeQuery{
		Dialect:   b.dialect.Name,
		Family:    models.FamilyRelational,
		Statement: sb.String(),
		Params:    s.params,
		Target:    intent.Entity,
		IntentID:  intent.ID,
		MaxRows:   intent.Limit,
	}, nil
}

type statement struct {
	d       Dialect
	now     time.Time
	primary string
	qualify bool
	params  []any
}

// column renders a field reference. Single-entity statements use bare
// column names; joins qualify every column with its table.
func (s *statement) column(f models.FieldRef) string {
	if !s.qualify {
		return s.d.Quote(f.Field)
	}
	entity := f.Entity
	if entity == "" {
		entity = s.primary
	}
	return s.d.Quote(entity) + "." + s.d.Quote(f.Field)
}

func (s *statement) selectList(intent *models.QueryIntent) []string {
	if intent.IsAggregate() {
		cols := make([]string, 0, len(intent.GroupBy)+len(intent.Aggregations))
		for _, g := range intent.GroupBy {
			cols = append(cols, s.aliased(s.column(g), g.Field))
		}
		for _, a := range intent.Aggregations {
			arg := "*"
			if a.Field != nil {
				arg = s.column(*a.Field)
			}
			expr := fmt.Sprintf("%s(%s)", strings.ToUpper(string(a.Func)), arg)
			cols = append(cols, expr+" AS "+s.d.Quote(a.Alias))
		}
		return cols
	}

	if len(intent.Projection) == 0 {
		return []string{"*"}
	}
	cols := make([]string, len(intent.Projection))
	for i, p := range intent.Projection {
		switch {
		case s.qualify:
			cols[i] = s.aliased(s.column(p.Field), p.OutputName())
		case p.Alias != "" && p.Alias != p.Field.Field:
			cols[i] = s.column(p.Field) + " AS " + s.d.Quote(p.Alias)
		default:
			cols[i] = s.column(p.Field)
		}
	}
	return cols
}

// aliased names qualified columns so output keys stay unprefixed.
func (s *statement) aliased(expr, name string) string {
	if !s.qualify {
		return expr
	}
	return expr + " AS " + s.d.Quote(name)
}

// sortKey orders by output alias when the reference has no entity.
func (s *statement) sortKey(f models.FieldRef) string {
	if f.Entity == "" {
		return s.d.Quote(f.Field)
	}
	return s.column(f)
}

func (s *statement) bind(v any) string {
	s.params = append(s.params, bindValue(v))
	return s.d.Placeholder(len(s.params))
}

// predicate renders p. Nested and/or groups are parenthesized.
func (s *statement) predicate(p *models.Predicate, nested bool) (string, error) {
	if !p.IsLeaf() {
		parts := make([]string, 0, len(p.Children))
		for i := range p.Children {
			part, err := s.predicate(&p.Children[i], p.Logic != models.LogicNot)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		switch p.Logic {
		case models.LogicNot:
			return "NOT (" + parts[0] + ")", nil
		case models.LogicAnd:
			return group(parts, " AND ", nested), nil
		case models.LogicOr:
			return group(parts, " OR ", nested), nil
		}
		return "", fmt.Errorf("unknown logical operator %q", p.Logic)
	}

	col := s.column(p.Field)
	switch p.Op {
	case models.OpEq:
		return col + " = " + s.bind(p.Value), nil
	case models.OpNe:
		return col + " <> " + s.bind(p.Value), nil
	case models.OpGt:
		return col + " > " + s.bind(p.Value), nil
	case models.OpGte:
		return col + " >= " + s.bind(p.Value), nil
	case models.OpLt:
		return col + " < " + s.bind(p.Value), nil
	case models.OpLte:
		return col + " <= " + s.bind(p.Value), nil
	case models.OpIn:
		items, _ := p.Value.([]any)
		phs := make([]string, len(items))
		for i, item := range items {
			phs[i] = s.bind(item)
		}
		return col + " IN (" + strings.Join(phs, ", ") + ")", nil
	case models.OpContains:
		return s.like(col, "%"+escapeLike(fmt.Sprint(p.Value))+"%"), nil
	case models.OpStartsWith:
		return s.like(col, escapeLike(fmt.Sprint(p.Value))+"%"), nil
	case models.OpIsNull:
		return col + " IS NULL", nil
	case models.OpNotNull:
		return col + " IS NOT NULL", nil
	case models.OpWithin:
		start, err := p.WindowStart(s.now)
		if err != nil {
			return "", err
		}
		return col + " >= " + s.bind(start), nil
	}
	return "", fmt.Errorf("unsupported comparison %q", p.Op)
}

func (s *statement) like(col, pattern string) string {
	return col + " " + s.d.LikeOperator + " " + s.bind(pattern) + s.d.LikeEscape
}

func group(parts []string, sep string, nested bool) string {
	joined := strings.Join(parts, sep)
	if len(parts) == 1 || !nested {
		return joined
	}
	return "(" + joined + ")"
}

// escapeLike drops wildcard meaning from user text using backslash, which
// dialects without a default LIKE escape declare through Dialect.LikeEscape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// bindValue converts planner values into driver-friendly parameters.
func bindValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	}
	return v
}
