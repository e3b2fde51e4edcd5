package relational

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Adapter implements datasource.Adapter for any database/sql engine.
// Engine packages construct it with their Dialect and connection opener.
type Adapter struct {
	dialect      Dialect
	builder      *Builder
	normalizer   *datasource.Normalizer
	deps         datasource.Deps
	connectionID string
	handle       *datasource.Handle
	logger       *zap.Logger
}

// Config wires one relational adapter.
type Config struct {
	Dialect      Dialect
	ConnectionID string
	Open         datasource.OpenFunc
	Deps         datasource.Deps
}

// New creates a relational adapter. Connections are opened lazily on first use.
func New(cfg Config) *Adapter {
	return newAdapter(cfg, datasource.NewHandle(cfg.Deps.Conns, cfg.ConnectionID, cfg.Open))
}

// NewWithDB creates an adapter over an already open database handle.
func NewWithDB(d Dialect, db *sql.DB, connectionID string, deps datasource.Deps) *Adapter {
	cfg := Config{Dialect: d, ConnectionID: connectionID, Deps: deps}
	return newAdapter(cfg, datasource.NewOwnedHandle(datasource.NewSQLPoolWrapper(db, d.Name)))
}

func newAdapter(cfg Config, handle *datasource.Handle) *Adapter {
	logger := cfg.Deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		dialect:      cfg.Dialect,
		builder:      NewBuilder(cfg.Dialect, cfg.Deps.Now),
		normalizer:   cfg.Deps.Normalizer(),
		deps:         cfg.Deps,
		connectionID: cfg.ConnectionID,
		handle:       handle,
		logger:       logger.Named(cfg.Dialect.Name),
	}
}

func (a *Adapter) db(ctx context.Context) (*sql.DB, error) {
	conn, err := a.handle.Get(ctx)
	if err != nil {
		a.logger.Error("Failed to obtain connection",
			zap.String("connection_id", a.connectionID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageConnect, a.dialect.Classify)
	}
	return datasource.SQLDB(conn)
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() models.Dialect { return a.dialect.Model() }

// Introspect implements datasource.Adapter.
func (a *Adapter) Introspect(ctx context.Context) (*models.SchemaModel, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := Introspect(ctx, db, a.dialect, a.connectionID, a.deps.Now())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Introspected schema",
		zap.String("connection_id", a.connectionID),
		zap.Int("entities", len(schema.Entities)),
		zap.Int("relationships", len(schema.Relationships)))
	return schema, nil
}

// Materialize implements datasource.Adapter.
func (a *Adapter) Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	return a.builder.Build(v)
}

// Execute implements datasource.Adapter.
func (a *Adapter) Execute(ctx context.Context, q *models.NativeQuery) (*datasource.RawResult, error) {
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Executing statement",
		zap.String("connection_id", a.connectionID),
		zap.String("statement", logging.SanitizeQuery(q.Statement)),
		zap.Int("params", len(q.Params)))
	return Execute(ctx, db, q, a.dialect)
}

// Normalize implements datasource.Adapter.
func (a *Adapter) Normalize(raw *datasource.RawResult, q *models.NativeQuery) (*datasource.NormalizedResult, error) {
	return a.normalizer.Normalize(raw, q.MaxRows)
}

// Ping implements datasource.Adapter with a round trip query.
func (a *Adapter) Ping(ctx context.Context) error {
	db, err := a.db(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageConnect, a.dialect.Classify)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return datasource.ClassifyError(ctx, fmt.Errorf("test query failed: %w", err), apperrors.StageConnect, a.dialect.Classify)
	}
	return nil
}

// Close releases the adapter's pool.
func (a *Adapter) Close() error {
	return a.handle.Close()
}

var _ datasource.Adapter = (*Adapter)(nil)
