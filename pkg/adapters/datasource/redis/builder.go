package redis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// ValueTypeOf returns the Redis type stored under an entity's keys, or ""
// when unknown or mixed.
type ValueTypeOf func(entity string) string

// Builder renders validated intents as key commands. Only point lookups on
// the key and bounded prefix scans are expressible.
type Builder struct {
	separator string
	scanCount int64
	valueType ValueTypeOf
}

// NewBuilder creates a builder for keys shaped "<entity><separator><id>".
func NewBuilder(separator string, scanCount int, valueType ValueTypeOf) *Builder {
	if separator == "" {
		separator = DefaultSeparator
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	if valueType == nil {
		valueType = func(string) string { return "" }
	}
	return &Builder{separator: separator, scanCount: int64(scanCount), valueType: valueType}
}

func unsupported(format string, args ...any) error {
	return apperrors.New(apperrors.KindUnsupported, apperrors.StageMaterialize, format, args...)
}

// Build materializes v.
func (b *Builder) Build(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	intent := v.Intent()
	if len(intent.Joins) > 0 {
		return nil, unsupported("key-value stores cannot join %s with %s", intent.Entity, intent.Joins[0].Entity)
	}
	if intent.IsAggregate() {
		return nil, unsupported("key-value stores cannot group or aggregate %s", intent.Entity)
	}

	cmd := &Command{
		Prefix:    intent.Entity + b.separator,
		ValueType: b.valueType(intent.Entity),
		Limit:     intent.Limit,
	}
	for _, s := range intent.Sort {
		if !isKey(intent, s.Field) {
			return nil, unsupported("key-value scans can only be ordered by %s, not %s", KeyField, s.Field)
		}
		cmd.SortDesc = s.Descending
	}
	for _, p := range intent.Projection {
		cmd.Columns = append(cmd.Columns, p.OutputName())
		if isKey(intent, p.Field) {
			cmd.Sources = append(cmd.Sources, KeyField)
			continue
		}
		cmd.Sources = append(cmd.Sources, p.Field.Field)
		cmd.Fields = append(cmd.Fields, p.Field.Field)
	}

	if err := b.keys(cmd, intent); err != nil {
		return nil, err
	}
	cmd.Name = commandName(cmd)

	return &models.NativeQuery{
		Dialect:  Dialect.Name,
		Family:   models.FamilyKeyValue,
		Document: cmd,
		Target:   cmd.Prefix,
		IntentID: intent.ID,
		MaxRows:  intent.Limit,
	}, nil
}

// keys resolves the filter into fixed keys or a scan pattern.
func (b *Builder) keys(cmd *Command, intent *models.QueryIntent) error {
	f := intent.Filter
	if f == nil {
		cmd.Match = escapeGlob(cmd.Prefix) + "*"
		cmd.Count = b.scanCount
		return nil
	}
	if !f.IsLeaf() || !isKey(intent, f.Field) {
		return unsupported("key-value lookups can only filter on %s of %s", KeyField, intent.Entity)
	}
	switch f.Op {
	case models.OpEq:
		cmd.Keys = []string{cmd.Prefix + keyString(f.Value)}
	case models.OpIn:
		items, _ := f.Value.([]any)
		for _, item := range items {
			cmd.Keys = append(cmd.Keys, cmd.Prefix+keyString(item))
		}
	case models.OpStartsWith:
		cmd.Match = escapeGlob(cmd.Prefix+keyString(f.Value)) + "*"
		cmd.Count = b.scanCount
	default:
		return unsupported("key-value lookups support equality, membership and prefix on %s, not %s", KeyField, f.Op)
	}
	return nil
}

func commandName(cmd *Command) string {
	if cmd.IsScan() {
		return "SCAN"
	}
	switch cmd.ValueType {
	case TypeHash:
		if len(cmd.Fields) > 0 {
			return "HMGET"
		}
		return "HGETALL"
	case TypeList:
		return "LRANGE"
	case TypeSet:
		return "SMEMBERS"
	case TypeZSet:
		return "ZRANGE"
	}
	if len(cmd.Keys) > 1 {
		return "MGET"
	}
	return "GET"
}

func isKey(intent *models.QueryIntent, f models.FieldRef) bool {
	return f.Field == KeyField && (f.Entity == "" || f.Entity == intent.Entity)
}

func keyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

// escapeGlob quotes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
