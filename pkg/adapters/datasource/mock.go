package datasource

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// MockAdapter is a configurable Adapter for tests.
// Set the function fields to control behavior; nil fields use defaults.
type MockAdapter struct {
	// DialectValue is returned by Dialect. Defaults to a relational "mock" dialect.
	DialectValue models.Dialect

	IntrospectFunc  func(ctx context.Context) (*models.SchemaModel, error)
	MaterializeFunc func(v *safety.ValidatedIntent) (*models.NativeQuery, error)
	ExecuteFunc     func(ctx context.Context, q *models.NativeQuery) (*RawResult, error)
	NormalizeFunc   func(raw *RawResult, q *models.NativeQuery) (*NormalizedResult, error)
	PingFunc        func(ctx context.Context) error

	// Call tracking for verification; safe for concurrent use.
	IntrospectCalls  atomic.Int32
	MaterializeCalls atomic.Int32
	ExecuteCalls     atomic.Int32
	CloseCalls       atomic.Int32
}

// NewMockAdapter creates a mock speaking a relational dialect.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{DialectValue: models.Dialect{Name: "mock", Family: models.FamilyRelational}}
}

// Dialect implements Adapter.
func (m *MockAdapter) Dialect() models.Dialect { return m.DialectValue }

// Introspect implements Adapter.
func (m *MockAdapter) Introspect(ctx context.Context) (*models.SchemaModel, error) {
	m.IntrospectCalls.Add(1)
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx)
	}
	return &models.SchemaModel{Family: m.DialectValue.Family}, nil
}

// Materialize implements Adapter. The default emits a bounded SELECT on the entity.
func (m *MockAdapter) Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	m.MaterializeCalls.Add(1)
	if m.MaterializeFunc != nil {
		return m.MaterializeFunc(v)
	}
	return &models.NativeQuery{
		Dialect:   m.DialectValue.Name,
		Family:    m.DialectValue.Family,
		Statement: fmt.Sprintf("SELECT * FROM %s LIMIT %d", v.Intent().Entity, v.Intent().Limit),
	}, nil
}

// Execute implements Adapter.
func (m *MockAdapter) Execute(ctx context.Context, q *models.NativeQuery) (*RawResult, error) {
	m.ExecuteCalls.Add(1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, q)
	}
	return &RawResult{}, nil
}

// Normalize implements Adapter. The default uses a Normalizer with default bounds.
func (m *MockAdapter) Normalize(raw *RawResult, q *models.NativeQuery) (*NormalizedResult, error) {
	if m.NormalizeFunc != nil {
		return m.NormalizeFunc(raw, q)
	}
	return NewNormalizer(0).Normalize(raw, q.MaxRows)
}

// Ping implements Adapter.
func (m *MockAdapter) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close implements Adapter.
func (m *MockAdapter) Close() error {
	m.CloseCalls.Add(1)
	return nil
}

var _ Adapter = (*MockAdapter)(nil)
