package redis

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Execute resolves the command's keys, fetches their values and lays them out
// as rows of the key id plus hash fields or a single value column. Keys that
// no longer exist are skipped.
func Execute(ctx context.Context, c redis.Cmdable, q *models.NativeQuery) (*datasource.RawResult, error) {
	cmd, err := decodeCommand(q.Document)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.StageExecute, err, "")
	}
	limit := cmd.Limit
	if q.MaxRows > 0 && (limit <= 0 || q.MaxRows < limit) {
		limit = q.MaxRows
	}

	keys := append([]string(nil), cmd.Keys...)
	if cmd.IsScan() {
		keys, err = scanKeys(ctx, c, cmd.Match, cmd.Count, limit)
		if err != nil {
			return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
		}
	}
	sortKeys(keys, cmd.SortDesc)
	truncated := false
	if cmd.IsScan() && limit > 0 && len(keys) > limit {
		keys, truncated = keys[:limit], true
	}

	f := &fetcher{ctx: ctx, c: c, cmd: cmd, limit: limit}
	if err := f.fetch(keys); err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
	}
	result := f.tabulate()
	result.Truncated = truncated || f.truncated
	return result, nil
}

// scanKeys iterates SCAN until more than limit distinct keys are seen or the
// cursor wraps. Callers trim the surplus, which only signals truncation.
func scanKeys(ctx context.Context, c redis.Cmdable, match string, count int64, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 || (limit > 0 && len(keys) > limit) {
			break
		}
	}
	return keys, nil
}

func sortKeys(keys []string, desc bool) {
	sort.Strings(keys)
	if desc {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
}

type entry struct {
	id        string
	valueType string
	fields    map[string]string
	value     any
}

type fetcher struct {
	ctx       context.Context
	c         redis.Cmdable
	cmd       *Command
	limit     int
	entries   []entry
	truncated bool
}

func (f *fetcher) fetch(keys []string) error {
	if f.cmd.ValueType == TypeString {
		return f.fetchStrings(keys)
	}
	for _, key := range keys {
		valueType := f.cmd.ValueType
		if valueType == "" {
			t, err := f.c.Type(f.ctx, key).Result()
			if err != nil {
				return err
			}
			valueType = t
		}
		e, ok, err := f.fetchOne(key, valueType)
		if err != nil {
			return err
		}
		if ok {
			f.entries = append(f.entries, e)
		}
	}
	return nil
}

func (f *fetcher) fetchStrings(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	values, err := f.c.MGet(f.ctx, keys...).Result()
	if err != nil {
		return err
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		f.entries = append(f.entries, entry{id: f.id(keys[i]), valueType: TypeString, value: v})
	}
	return nil
}

// fetchOne reads a single key of a known type. ok is false for missing keys.
func (f *fetcher) fetchOne(key, valueType string) (entry, bool, error) {
	e := entry{id: f.id(key), valueType: valueType}
	stop := int64(f.limit) - 1
	if f.limit <= 0 {
		stop = -1
	}
	switch valueType {
	case "none":
		return e, false, nil
	case TypeString:
		v, err := f.c.Get(f.ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return e, false, nil
		}
		e.value = v
		return e, err == nil, err
	case TypeHash:
		if len(f.cmd.Fields) > 0 {
			values, err := f.c.HMGet(f.ctx, key, f.cmd.Fields...).Result()
			if err != nil {
				return e, false, err
			}
			e.fields = make(map[string]string, len(values))
			found := false
			for i, v := range values {
				if s, ok := v.(string); ok {
					e.fields[f.cmd.Fields[i]] = s
					found = true
				}
			}
			return e, found, nil
		}
		m, err := f.c.HGetAll(f.ctx, key).Result()
		e.fields = m
		return e, err == nil && len(m) > 0, err
	case TypeList:
		items, err := f.c.LRange(f.ctx, key, 0, stop).Result()
		e.value = items
		return e, err == nil && len(items) > 0, err
	case TypeSet:
		items, err := f.c.SMembers(f.ctx, key).Result()
		sort.Strings(items)
		e.value = items
		return e, err == nil && len(items) > 0, err
	case TypeZSet:
		items, err := f.c.ZRange(f.ctx, key, 0, stop).Result()
		e.value = items
		return e, err == nil && len(items) > 0, err
	}
	return e, false, apperrors.New(apperrors.KindUnsupported, apperrors.StageExecute, "key %s holds an unsupported %s value", key, valueType)
}

func (f *fetcher) id(key string) string {
	return strings.TrimPrefix(key, f.cmd.Prefix)
}

func (f *fetcher) tabulate() *datasource.RawResult {
	entries := f.entries
	if f.limit > 0 && len(entries) > f.limit {
		entries = entries[:f.limit]
		f.truncated = true
	}

	columns := f.cmd.Columns
	if len(columns) == 0 {
		columns = []string{KeyField}
		seen := map[string]bool{KeyField: true}
		var hashFields []string
		hasValue := false
		for _, e := range entries {
			if e.fields == nil {
				hasValue = true
				continue
			}
			for name := range e.fields {
				if !seen[name] {
					seen[name] = true
					hashFields = append(hashFields, name)
				}
			}
		}
		sort.Strings(hashFields)
		columns = append(columns, hashFields...)
		if hasValue && !seen[ValueField] {
			columns = append(columns, ValueField)
		}
	}

	sources := columns
	if len(f.cmd.Sources) == len(columns) {
		sources = f.cmd.Sources
	}
	result := &datasource.RawResult{Columns: make([]datasource.RawColumn, len(columns))}
	for i, c := range columns {
		result.Columns[i] = datasource.RawColumn{Name: c, TypeHint: "redis"}
	}
	result.Rows = make([][]any, 0, len(entries))
	for _, e := range entries {
		row := make([]any, len(columns))
		for i, c := range sources {
			switch {
			case c == KeyField:
				row[i] = e.id
			case e.fields != nil:
				if v, ok := e.fields[c]; ok {
					row[i] = v
				}
			case c == ValueField:
				row[i] = e.value
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}
