package redis

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Sampling bounds for introspection.
const (
	maxSampledKeys   = 1000
	samplesPerPrefix = 10
)

// Introspect samples keys with SCAN and groups them by prefix into entities.
// Each entity has a "key" field plus hash fields or a single "value" field.
// Keys without the separator are not part of any entity. An empty keyspace
// yields a schema with no entities.
func Introspect(ctx context.Context, c redis.Cmdable, separator string, scanCount int, connectionID string, now time.Time) (*models.SchemaModel, error) {
	if scanCount <= 0 {
		scanCount = 100
	}
	keys, err := scanKeys(ctx, c, "*", int64(scanCount), maxSampledKeys)
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, classifyError)
	}
	sort.Strings(keys)
	if len(keys) > maxSampledKeys {
		keys = keys[:maxSampledKeys]
	}

	byPrefix := make(map[string][]string)
	for _, key := range keys {
		prefix, _, ok := strings.Cut(key, separator)
		if !ok || prefix == "" {
			continue
		}
		byPrefix[prefix] = append(byPrefix[prefix], key)
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	schema := &models.SchemaModel{
		ConnectionID:   connectionID,
		Family:         models.FamilyKeyValue,
		IntrospectedAt: now.UTC(),
	}
	for _, prefix := range prefixes {
		sample := byPrefix[prefix]
		sort.Strings(sample)
		if len(sample) > samplesPerPrefix {
			sample = sample[:samplesPerPrefix]
		}
		entity, err := inferEntity(ctx, c, prefix, sample)
		if err != nil {
			return nil, datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, classifyError)
		}
		schema.Entities = append(schema.Entities, entity)
	}
	datasource.AddNamingRelationships(schema)

	if err := schema.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageIntrospect, err, "sampled keys produced an invalid schema")
	}
	return schema, nil
}

func inferEntity(ctx context.Context, c redis.Cmdable, prefix string, keys []string) (models.EntityDescriptor, error) {
	types := make(map[string]bool)
	fieldTypes := make(map[string]map[string]bool)
	fieldSeen := make(map[string]int)
	var order []string
	observe := func(name, value string) {
		if fieldTypes[name] == nil {
			fieldTypes[name] = map[string]bool{}
			order = append(order, name)
		}
		fieldTypes[name][scalarType(value)] = true
		fieldSeen[name]++
	}

	for _, key := range keys {
		t, err := c.Type(ctx, key).Result()
		if err != nil {
			return models.EntityDescriptor{}, err
		}
		types[t] = true
		switch t {
		case TypeHash:
			m, err := c.HGetAll(ctx, key).Result()
			if err != nil {
				return models.EntityDescriptor{}, err
			}
			names := make([]string, 0, len(m))
			for name := range m {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				observe(name, m[name])
			}
		case TypeString:
			v, err := c.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return models.EntityDescriptor{}, err
			}
			observe(ValueField, v)
		case TypeList, TypeSet, TypeZSet:
			if fieldTypes[ValueField] == nil {
				fieldTypes[ValueField] = map[string]bool{}
				order = append(order, ValueField)
			}
			fieldTypes[ValueField][models.TypeArray] = true
			fieldSeen[ValueField]++
		}
	}

	entity := models.EntityDescriptor{
		Name:        prefix,
		Kind:        models.EntityKeyspace,
		FieldsKnown: len(keys) > 0,
		Fields: []models.FieldDescriptor{{
			Name:       KeyField,
			Type:       models.TypeString,
			NativeType: joinSet(types),
			IsKey:      true,
		}},
	}
	for _, name := range order {
		if name == KeyField {
			continue
		}
		entity.Fields = append(entity.Fields, models.FieldDescriptor{
			Name:       name,
			Type:       joinSet(fieldTypes[name]),
			NativeType: "string",
			Nullable:   fieldSeen[name] < len(keys),
		})
	}
	return entity, nil
}

// scalarType guesses the type of a Redis string value.
func scalarType(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.TypeInteger
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return models.TypeNumber
	}
	if s == "true" || s == "false" {
		return models.TypeBoolean
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return models.TypeTimestamp
	}
	return models.TypeString
}

func joinSet(set map[string]bool) string {
	parts := make([]string, 0, len(set))
	for t := range set {
		parts = append(parts, t)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
