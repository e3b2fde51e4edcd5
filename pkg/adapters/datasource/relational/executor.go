package relational

import (
	"context"
	"database/sql"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Execute runs q and reads at most q.MaxRows rows. When the backend has more,
// the result is marked truncated. Cancellation of ctx is propagated to the
// driver, which aborts the statement server-side.
func Execute(ctx context.Context, db *sql.DB, q *models.NativeQuery, d Dialect) (*datasource.RawResult, error) {
	classify := d.Classify
	rows, err := db.QueryContext(ctx, q.Statement, q.Params...)
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classify)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classify)
	}
	result := &datasource.RawResult{Columns: make([]datasource.RawColumn, len(colTypes))}
	for i, ct := range colTypes {
		result.Columns[i] = datasource.RawColumn{Name: ct.Name(), TypeHint: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		if q.MaxRows > 0 && len(result.Rows) >= q.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(colTypes))
		dest := make([]any, len(colTypes))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classify)
		}
		if d.ScanValue != nil {
			for i, v := range values {
				values[i] = d.ScanValue(v, result.Columns[i].TypeHint)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageExecute, classify)
	}
	return result, nil
}
