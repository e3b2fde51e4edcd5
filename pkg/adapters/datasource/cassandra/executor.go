package cassandra

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Execute runs q with ctx attached, so cancellation abandons the request,
// and reads at most q.MaxRows rows.
func Execute(ctx context.Context, session *gocql.Session, q *models.NativeQuery) (*datasource.RawResult, error) {
	query := session.Query(q.Statement, q.Params...).WithContext(ctx)
	if q.MaxRows > 0 {
		query = query.PageSize(q.MaxRows + 1)
	}
	iter := query.Iter()

	cols := iter.Columns()
	result := &datasource.RawResult{Columns: make([]datasource.RawColumn, len(cols))}
	for i, c := range cols {
		hint := ""
		if c.TypeInfo != nil {
			hint = c.TypeInfo.Type().String()
		}
		result.Columns[i] = datasource.RawColumn{Name: c.Name, TypeHint: hint}
	}

	for {
		rd, err := iter.RowData()
		if err != nil {
			_ = iter.Close()
			return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
		}
		if !iter.Scan(rd.Values...) {
			break
		}
		if q.MaxRows > 0 && len(result.Rows) >= q.MaxRows {
			result.Truncated = true
			break
		}
		row := make([]any, len(rd.Values))
		for i, v := range rd.Values {
			row[i] = toGo(deref(v), result.Columns[i].TypeHint)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classifyError)
	}
	return result, nil
}

// deref unwraps the pointer RowData scans into; nil pointers become nil.
func deref(v any) any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil
	}
	return rv.Interface()
}

// toGo converts driver values the normalizer does not know.
func toGo(v any, hint string) any {
	switch x := v.(type) {
	case gocql.UUID:
		return uuid.UUID(x)
	case gocql.Duration:
		return fmt.Sprintf("%dmo%dd%dns", x.Months, x.Days, x.Nanoseconds)
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		// decimal columns scan into *inf.Dec
		if hint == gocql.TypeDecimal.String() {
			if d, err := decimal.NewFromString(x.String()); err == nil {
				return d
			}
		}
	}
	return v
}
