package cassandra

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// TableLookup returns the descriptor, with partition and clustering keys, of a table.
type TableLookup func(name string) (*models.EntityDescriptor, bool)

// Builder renders validated intents as CQL. Every query fixes the full
// partition key by equality; clustering columns may carry ranges and
// ordering. ALLOW FILTERING is never emitted.
type Builder struct {
	now    func() time.Time
	tables TableLookup
}

// NewBuilder creates a builder. now resolves relative windows; nil means time.Now.
func NewBuilder(now func() time.Time, tables TableLookup) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now, tables: tables}
}

func unsupported(format string, args ...any) error {
	return apperrors.New(apperrors.KindUnsupported, apperrors.StageMaterialize, format, args...)
}

// quote quotes a CQL identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Build materializes v.
func (b *Builder) Build(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	intent := v.Intent()
	if len(intent.Joins) > 0 {
		return nil, unsupported("wide-column stores cannot join %s with %s", intent.Entity, intent.Joins[0].Entity)
	}
	if len(intent.GroupBy) > 0 {
		return nil, unsupported("grouping %s is not supported on wide-column stores", intent.Entity)
	}
	if b.tables == nil {
		return nil, unsupported("no key metadata for %s", intent.Entity)
	}
	table, ok := b.tables(intent.Entity)
	if !ok || len(table.PartitionKey) == 0 {
		return nil, unsupported("no key metadata for %s", intent.Entity)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(b.columns(intent))
	sb.WriteString(" FROM ")
	sb.WriteString(quote(intent.Entity))

	where, params, err := b.where(intent, table)
	if err != nil {
		return nil, err
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(where)

	if len(intent.Sort) > 0 {
		order, err := orderBy(intent, table)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	fmt.Fprintf(&sb, " LIMIT %d", intent.FetchLimit())

	return &models.NativeQuery{
		Dialect:   Dialect.Name,
		Family:    models.FamilyWideColumn,
		Statement: sb.String(),
		Params:    params,
		Target:    intent.Entity,
		IntentID:  intent.ID,
		MaxRows:   intent.Limit,
	}, nil
}

func (b *Builder) columns(intent *models.QueryIntent) string {
	var cols []string
	for _, a := range intent.Aggregations {
		arg := "*"
		if a.Field != nil {
			arg = quote(a.Field.Field)
		}
		cols = append(cols, fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(a.Func)), arg, quote(a.Alias)))
	}
	if len(cols) > 0 {
		return strings.Join(cols, ", ")
	}
	for _, p := range intent.Projection {
		col := quote(p.Field.Field)
		if p.Alias != "" && p.Alias != p.Field.Field {
			col += " AS " + quote(p.Alias)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return "*"
	}
	return strings.Join(cols, ", ")
}

// where renders the conjunction of leaves, checking each restriction is one
// the partition and clustering keys can serve.
func (b *Builder) where(intent *models.QueryIntent, table *models.EntityDescriptor) (string, []any, error) {
	leaves, ok := conjunctionLeaves(intent.Filter)
	if !ok {
		return "", nil, unsupported("wide-column queries only combine conditions with AND")
	}

	partition := make(map[string]bool, len(table.PartitionKey))
	for _, k := range table.PartitionKey {
		partition[k] = true
	}
	clustering := make(map[string]bool, len(table.ClusteringKey))
	for _, k := range table.ClusteringKey {
		clustering[k] = true
	}

	bound := make(map[string]bool)
	var conds []string
	var params []any
	for _, leaf := range leaves {
		name := leaf.Field.Field
		if leaf.Field.Entity != "" && leaf.Field.Entity != intent.Entity {
			return "", nil, unsupported("%s is not a column of %s", leaf.Field, intent.Entity)
		}
		switch {
		case partition[name]:
			if leaf.Op != models.OpEq && leaf.Op != models.OpIn {
				return "", nil, unsupported("partition key %s only supports equality", name)
			}
		case clustering[name]:
			switch leaf.Op {
			case models.OpEq, models.OpIn, models.OpGt, models.OpGte, models.OpLt, models.OpLte, models.OpWithin:
			default:
				return "", nil, unsupported("clustering column %s does not support %s", name, leaf.Op)
			}
		default:
			return "", nil, unsupported("%s is not part of the primary key of %s; filtering on it would scan partitions", name, intent.Entity)
		}

		col := quote(name)
		switch leaf.Op {
		case models.OpEq:
			bound[name] = true
			conds = append(conds, col+" = ?")
			params = append(params, bindValue(leaf.Value))
		case models.OpIn:
			items, _ := leaf.Value.([]any)
			marks := make([]string, len(items))
			for i, item := range items {
				marks[i] = "?"
				params = append(params, bindValue(item))
			}
			bound[name] = true
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
		case models.OpWithin:
			start, err := leaf.WindowStart(b.now().UTC())
			if err != nil {
				return "", nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageMaterialize, err, "")
			}
			conds = append(conds, col+" >= ?")
			params = append(params, start)
		default:
			conds = append(conds, fmt.Sprintf("%s %s ?", col, comparison[leaf.Op]))
			params = append(params, bindValue(leaf.Value))
		}
	}

	var missing []string
	for _, k := range table.PartitionKey {
		if !bound[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "", nil, unsupported("queries on %s must fix the partition key (%s)", intent.Entity, strings.Join(missing, ", "))
	}
	return strings.Join(conds, " AND "), params, nil
}

var comparison = map[models.Comparison]string{
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// conjunctionLeaves flattens nested ANDs. ok is false for OR and NOT.
func conjunctionLeaves(p *models.Predicate) ([]models.Predicate, bool) {
	if p == nil {
		return nil, true
	}
	if p.IsLeaf() {
		return []models.Predicate{*p}, true
	}
	if p.Logic != models.LogicAnd {
		return nil, false
	}
	var out []models.Predicate
	for i := range p.Children {
		leaves, ok := conjunctionLeaves(&p.Children[i])
		if !ok {
			return nil, false
		}
		out = append(out, leaves...)
	}
	return out, true
}

func orderBy(intent *models.QueryIntent, table *models.EntityDescriptor) (string, error) {
	clustering := make(map[string]bool, len(table.ClusteringKey))
	for _, k := range table.ClusteringKey {
		clustering[k] = true
	}
	parts := make([]string, 0, len(intent.Sort))
	for _, s := range intent.Sort {
		name := s.Field.Field
		if s.Field.Entity == "" {
			for _, p := range intent.Projection {
				if p.OutputName() == name {
					name = p.Field.Field
				}
			}
		}
		if !clustering[name] {
			return "", unsupported("%s can only be ordered by clustering columns, not %s", intent.Entity, name)
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		parts = append(parts, quote(name)+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

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
