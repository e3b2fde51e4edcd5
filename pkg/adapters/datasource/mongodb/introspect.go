package mongodb

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Introspect samples up to sampleSize documents from every collection of db
// and infers top-level fields. Fields seen with different types get a union
// type such as "integer|string".
func Introspect(ctx context.Context, db *mongo.Database, sampleSize int, connectionID string, now time.Time) (*models.SchemaModel, error) {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, classifyError)
	}
	sort.Strings(names)

	schema := &models.SchemaModel{
		ConnectionID:   connectionID,
		Family:         models.FamilyDocument,
		IntrospectedAt: now.UTC(),
	}
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		docs, err := sample(ctx, db.Collection(name), sampleSize)
		if err != nil {
			return nil, datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, classifyError)
		}
		schema.Entities = append(schema.Entities, InferEntity(name, docs))
	}
	datasource.AddNamingRelationships(schema)

	if err := schema.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageIntrospect, err, "sampled documents produced an invalid schema")
	}
	return schema, nil
}

func sample(ctx context.Context, coll *mongo.Collection, n int) ([]bson.D, error) {
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(int64(n)))
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

const defaultSampleSize = 30

type fieldStats struct {
	types   map[string]bool
	native  map[string]bool
	seen    int
	hasNull bool
}

// InferEntity builds a collection descriptor from sampled documents. Fields
// keep first-seen order with _id first. A field absent from some documents
// or null in any is nullable. An empty sample yields no fields.
func InferEntity(name string, docs []bson.D) models.EntityDescriptor {
	entity := models.EntityDescriptor{Name: name, Kind: models.EntityCollection, FieldsKnown: len(docs) > 0}

	var order []string
	stats := make(map[string]*fieldStats)
	for _, doc := range docs {
		for _, e := range doc {
			st, ok := stats[e.Key]
			if !ok {
				st = &fieldStats{types: map[string]bool{}, native: map[string]bool{}}
				stats[e.Key] = st
				order = append(order, e.Key)
			}
			st.seen++
			if isNull(e.Value) {
				st.hasNull = true
				continue
			}
			st.types[portableType(e.Value)] = true
			st.native[bsonTypeName(e.Value)] = true
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i] == "_id" && order[j] != "_id" })
	for _, key := range order {
		st := stats[key]
		typ := union(st.types)
		if typ == "" {
			typ = models.TypeUnknown
		}
		entity.Fields = append(entity.Fields, models.FieldDescriptor{
			Name:       key,
			Type:       typ,
			NativeType: union(st.native),
			Nullable:   st.hasNull || st.seen < len(docs),
			IsKey:      key == "_id",
		})
	}
	return entity
}

func union(set map[string]bool) string {
	parts := make([]string, 0, len(set))
	for t := range set {
		parts = append(parts, t)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func isNull(v any) bool {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return true
	}
	return false
}

// portableType maps a decoded BSON value to the shared field type vocabulary.
func portableType(v any) string {
	switch x := v.(type) {
	case string, primitive.Symbol, primitive.Regex, primitive.JavaScript:
		return models.TypeString
	case int32, int64:
		return models.TypeInteger
	case float64:
		return models.TypeNumber
	case primitive.Decimal128:
		return models.TypeDecimal
	case bool:
		return models.TypeBoolean
	case primitive.DateTime, primitive.Timestamp, time.Time:
		return models.TypeTimestamp
	case primitive.ObjectID:
		return models.TypeString
	case primitive.Binary:
		if x.Subtype == bson.TypeBinaryUUID || x.Subtype == bson.TypeBinaryUUIDOld {
			return models.TypeUUID
		}
		return models.TypeBinary
	case bson.D, bson.M, map[string]any:
		return models.TypeObject
	case bson.A, []any:
		return models.TypeArray
	}
	return models.TypeUnknown
}

// bsonTypeName returns the $type alias of v, used as the native type and as
// the normalizer's type hint.
func bsonTypeName(v any) string {
	switch x := v.(type) {
	case nil, primitive.Null:
		return "null"
	case primitive.Undefined:
		return "undefined"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Binary:
		if x.Subtype == bson.TypeBinaryUUID {
			return "uuid"
		}
		return "binData"
	case primitive.Regex:
		return "regex"
	case bson.D, bson.M, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	}
	return "unknown"
}
