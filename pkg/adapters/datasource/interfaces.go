package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// SchemaIntrospector builds a SchemaModel from backend metadata.
type SchemaIntrospector interface {
	// Introspect reads the backend's catalog (or samples its data) and returns
	// a fresh model. Fails with ConnectionError or PermissionError.
	Introspect(ctx context.Context) (*models.SchemaModel, error)
}

// Materializer converts a validated intent into the adapter's native query.
// Materialize is deterministic: the same intent and clock yield the same query.
type Materializer interface {
	Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error)
}

// Executor runs a native query and returns raw driver values.
// Cancelling ctx must cancel the in-flight backend operation.
type Executor interface {
	Execute(ctx context.Context, q *models.NativeQuery) (*RawResult, error)
}

// Adapter is one backend dialect. Each implementation owns its connection
// handle and must be closed when done. Adapters never retry.
type Adapter interface {
	SchemaIntrospector
	Materializer
	Executor

	// Dialect identifies the native query language.
	Dialect() models.Dialect

	// Normalize maps raw driver values to the common value model.
	Normalize(raw *RawResult, q *models.NativeQuery) (*NormalizedResult, error)

	// Ping verifies the backend is reachable with valid credentials.
	Ping(ctx context.Context) error

	// Close releases the adapter's connection.
	Close() error
}

// RawColumn describes a result column as the driver reported it.
type RawColumn struct {
	Name     string `json:"name"`
	TypeHint string `json:"type_hint,omitempty"` // driver type name, e.g. "NUMERIC", "BYTEA", "decimal128"
}

// RawResult holds driver values in column order.
type RawResult struct {
	Columns []RawColumn `json:"columns"`
	Rows    [][]any     `json:"rows"`
	// Truncated is set when the executor stopped reading at MaxRows while
	// the backend still had rows.
	Truncated bool `json:"truncated"`
}

// ColumnNames returns column names in order.
func (r *RawResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// NormalizedResult is the adapter-independent form of a result set.
type NormalizedResult struct {
	Columns  []string      `json:"columns"`
	Rows     []models.Row  `json:"rows"`
	RowCount int           `json:"row_count"`
	HasMore  bool          `json:"has_more"`
	Notes    []models.Note `json:"notes,omitempty"`
}
