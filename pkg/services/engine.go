package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/crypto"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/planner"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// QueryEngine is the external interface of the engine.
type QueryEngine interface {
	// Connect registers a connection and returns its id.
	Connect(ctx context.Context, desc models.ConnectionDescriptor) (string, error)

	// Disconnect closes and forgets a connection.
	Disconnect(ctx context.Context, id string) error

	// GetSchema returns the cached schema, introspecting on first use or when forceRefresh is set.
	GetSchema(ctx context.Context, id string, forceRefresh bool) (*models.SchemaModel, error)

	// Ask answers a question. The envelope carries any failure.
	Ask(ctx context.Context, id, question string, opts AskOptions) *models.ResultEnvelope

	// Explain summarizes an envelope in plain language.
	Explain(ctx context.Context, env *models.ResultEnvelope) (string, error)

	// Execute re-runs a native query after re-validating it.
	Execute(ctx context.Context, id string, q *models.NativeQuery, opts AskOptions) *models.ResultEnvelope

	// Test checks a descriptor can connect without registering it.
	Test(ctx context.Context, desc models.ConnectionDescriptor) error

	// Connection returns one redacted descriptor.
	Connection(id string) (models.ConnectionDescriptor, error)

	// Connections lists redacted descriptors.
	Connections() []models.ConnectionDescriptor

	// Reconnect rebuilds a connection, optionally with new credentials.
	Reconnect(ctx context.Context, id string, creds *models.Credentials) error

	// AdapterTypes lists the compiled-in backend types.
	AdapterTypes() []datasource.AdapterInfo
}

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Factory   datasource.AdapterFactory
	Encryptor *crypto.CredentialEncryptor
	Inferrer  planner.Inferrer
	Explainer planner.Explainer
	Config    config.EngineConfig
	Logger    *zap.Logger
}

// Engine ties the registry, planner, validator and coordinator together.
type Engine struct {
	registry    *ConnectionRegistry
	coordinator *Coordinator
	explainer   planner.Explainer
	factory     datasource.AdapterFactory
	logger      *zap.Logger
}

// NewEngine wires an engine from deps. A nil explainer uses templates.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	explainer := deps.Explainer
	if explainer == nil {
		explainer = planner.NewTemplateExplainer()
	}

	registry := NewConnectionRegistry(deps.Factory, deps.Encryptor, logger)
	p := planner.New(deps.Inferrer, planner.PolicyFromConfig(deps.Config), logger)
	validator := safety.NewValidator(safety.PolicyFromConfig(deps.Config))

	return &Engine{
		registry:    registry,
		coordinator: NewCoordinator(registry, p, validator, deps.Config, logger),
		explainer:   explainer,
		factory:     deps.Factory,
		logger:      logger.Named("engine"),
	}
}

func (e *Engine) Connect(ctx context.Context, desc models.ConnectionDescriptor) (string, error) {
	registered, err := e.registry.Register(ctx, desc)
	if err != nil {
		return "", err
	}
	return registered.ID, nil
}

func (e *Engine) Disconnect(ctx context.Context, id string) error {
	return e.registry.Remove(ctx, id)
}

func (e *Engine) GetSchema(ctx context.Context, id string, forceRefresh bool) (*models.SchemaModel, error) {
	return e.registry.Schema(ctx, id, forceRefresh)
}

func (e *Engine) Ask(ctx context.Context, id, question string, opts AskOptions) *models.ResultEnvelope {
	return e.coordinator.Ask(ctx, id, question, opts)
}

func (e *Engine) Explain(ctx context.Context, env *models.ResultEnvelope) (string, error) {
	if env == nil {
		return "", apperrors.New(apperrors.KindInternal, apperrors.StageExplain, "no result to explain")
	}
	text, err := e.explainer.Explain(ctx, env)
	if err != nil {
		if ce := apperrors.FromContext(ctx, apperrors.StageExplain); ce != nil {
			return "", ce
		}
		return "", apperrors.EnsureStage(err, apperrors.StageExplain)
	}
	return text, nil
}

func (e *Engine) Execute(ctx context.Context, id string, q *models.NativeQuery, opts AskOptions) *models.ResultEnvelope {
	return e.coordinator.Execute(ctx, id, q, opts)
}

func (e *Engine) Test(ctx context.Context, desc models.ConnectionDescriptor) error {
	return e.registry.Probe(ctx, desc)
}

func (e *Engine) Connection(id string) (models.ConnectionDescriptor, error) {
	return e.registry.Get(id)
}

func (e *Engine) Connections() []models.ConnectionDescriptor {
	return e.registry.List()
}

func (e *Engine) Reconnect(ctx context.Context, id string, creds *models.Credentials) error {
	return e.registry.Reconnect(ctx, id, creds)
}

func (e *Engine) AdapterTypes() []datasource.AdapterInfo {
	return e.factory.ListTypes()
}

// Close disconnects every connection.
func (e *Engine) Close(ctx context.Context) error {
	return e.registry.Close(ctx)
}

var _ QueryEngine = (*Engine)(nil)
