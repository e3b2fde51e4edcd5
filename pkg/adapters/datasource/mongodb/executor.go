package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Execute runs the pipeline in q against db and reads at most q.MaxRows
// documents. Cancelling ctx kills the server-side cursor.
func Execute(ctx context.Context, db *mongo.Database, q *models.NativeQuery) (*datasource.RawResult, error) {
	stages, err := decodeStages(q.Document)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExecution, apperrors.StageExecute, err, "")
	}
	collection := q.Target
	var columns []string
	if p, ok := q.Document.(*Pipeline); ok {
		if p.Collection != "" {
			collection = p.Collection
		}
		columns = p.Columns
	}
	if collection == "" {
		return nil, apperrors.New(apperrors.KindExecution, apperrors.StageExecute, "pipeline has no target collection")
	}

	cur, err := db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	var docs []bson.D
	truncated := false
	for cur.Next(ctx) {
		if q.MaxRows > 0 && len(docs) >= q.MaxRows {
			truncated = true
			break
		}
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, datasource.ClassifyError(ctx, fmt.Errorf("decode document: %w", err), apperrors.StageExecute, classifyError)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
	}

	result := tabulate(docs, columns)
	result.Truncated = truncated
	return result, nil
}

// tabulate lays documents out in columns. Without declared columns the
// union of top-level keys in first-seen order is used. Missing keys are null.
func tabulate(docs []bson.D, columns []string) *datasource.RawResult {
	if len(columns) == 0 {
		seen := make(map[string]bool)
		for _, doc := range docs {
			for _, e := range doc {
				if !seen[e.Key] {
					seen[e.Key] = true
					columns = append(columns, e.Key)
				}
			}
		}
	}

	result := &datasource.RawResult{Columns: make([]datasource.RawColumn, len(columns))}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
		result.Columns[i] = datasource.RawColumn{Name: c}
	}
	result.Rows = make([][]any, 0, len(docs))
	for _, doc := range docs {
		row := make([]any, len(columns))
		for _, e := range doc {
			i, ok := index[e.Key]
			if !ok {
				continue
			}
			row[i] = toGo(e.Value)
			if result.Columns[i].TypeHint == "" && !isNull(e.Value) {
				result.Columns[i].TypeHint = bsonTypeName(e.Value)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

// toGo converts BSON values into types the normalizer understands.
// Embedded documents keep their key order as models.Row.
func toGo(v any) any {
	switch x := v.(type) {
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.Decimal128:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return x.String() // NaN and Infinity
		}
		return d
	case primitive.Binary:
		if (x.Subtype == bson.TypeBinaryUUID || x.Subtype == bson.TypeBinaryUUIDOld) && len(x.Data) == 16 {
			id, _ := uuid.FromBytes(x.Data)
			return id
		}
		return x.Data
	case primitive.Regex:
		return "/" + x.Pattern + "/" + x.Options
	case primitive.Symbol:
		return string(x)
	case primitive.JavaScript:
		return string(x)
	case primitive.MinKey:
		return "MinKey"
	case primitive.MaxKey:
		return "MaxKey"
	case bson.D:
		row := make(models.Row, len(x))
		for i, e := range x {
			row[i] = models.Cell{Name: e.Key, Value: toGo(e.Value)}
		}
		return row
	case bson.M:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = toGo(val)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = toGo(val)
		}
		return out
	}
	return v
}
