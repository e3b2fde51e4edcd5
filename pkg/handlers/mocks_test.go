package handlers

import (
	"context"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// mockEngine is a configurable QueryEngine for handler tests.
type mockEngine struct {
	connections []models.ConnectionDescriptor
	schema      *models.SchemaModel
	envelope    *models.ResultEnvelope
	explanation string
	err         error
	testErr     error

	// Captured arguments.
	lastQuestion string
	lastOptions  services.AskOptions
	lastQuery    *models.NativeQuery
	lastRefresh  bool
	lastCreds    *models.Credentials
	connected    []models.ConnectionDescriptor
	disconnected []string
}

var _ services.QueryEngine = (*mockEngine)(nil)

func (m *mockEngine) Connect(ctx context.Context, desc models.ConnectionDescriptor) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	desc.ID = "conn-1"
	desc.Status = models.StatusConnected
	m.connected = append(m.connected, desc)
	m.connections = append(m.connections, desc.Redacted())
	return desc.ID, nil
}

func (m *mockEngine) Disconnect(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.disconnected = append(m.disconnected, id)
	return nil
}

func (m *mockEngine) GetSchema(ctx context.Context, id string, forceRefresh bool) (*models.SchemaModel, error) {
	m.lastRefresh = forceRefresh
	if m.err != nil {
		return nil, m.err
	}
	return m.schema, nil
}

func (m *mockEngine) Ask(ctx context.Context, id, question string, opts services.AskOptions) *models.ResultEnvelope {
	m.lastQuestion = question
	m.lastOptions = opts
	env := *m.envelope
	env.ConnectionID = id
	env.Question = question
	return &env
}

func (m *mockEngine) Explain(ctx context.Context, env *models.ResultEnvelope) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.explanation, nil
}

func (m *mockEngine) Execute(ctx context.Context, id string, q *models.NativeQuery, opts services.AskOptions) *models.ResultEnvelope {
	m.lastQuery = q
	m.lastOptions = opts
	env := *m.envelope
	env.ConnectionID = id
	env.Query = q
	return &env
}

func (m *mockEngine) Test(ctx context.Context, desc models.ConnectionDescriptor) error {
	return m.testErr
}

func (m *mockEngine) Connection(id string) (models.ConnectionDescriptor, error) {
	for _, c := range m.connections {
		if c.ID == id {
			return c, nil
		}
	}
	return models.ConnectionDescriptor{}, errNotFound(id)
}

func (m *mockEngine) Connections() []models.ConnectionDescriptor {
	return m.connections
}

func (m *mockEngine) Reconnect(ctx context.Context, id string, creds *models.Credentials) error {
	m.lastCreds = creds
	if m.err != nil {
		return m.err
	}
	_, err := m.Connection(id)
	return err
}

func (m *mockEngine) AdapterTypes() []datasource.AdapterInfo {
	return []datasource.AdapterInfo{
		{Type: "postgres", DisplayName: "PostgreSQL", Family: models.FamilyRelational},
		{Type: "mongodb", DisplayName: "MongoDB", Family: models.FamilyDocument},
	}
}

func errNotFound(id string) error {
	return apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, apperrors.ErrNotFound, "connection %s", id)
}
