// Package cassandra implements the wide-column family over CQL for
// Cassandra and Scylla.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Dialect is the CQL dialect.
var Dialect = models.Dialect{Name: "cql", Family: models.FamilyWideColumn}

// sessionConnector adapts a gocql session to datasource.PoolConnector.
type sessionConnector struct {
	session  *gocql.Session
	keyspace string
}

func (c *sessionConnector) Ping(ctx context.Context) error {
	return c.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
}

func (c *sessionConnector) Close() error {
	c.session.Close()
	return nil
}

func (c *sessionConnector) GetType() string { return "cassandra" }

// Adapter implements datasource.Adapter for Cassandra.
type Adapter struct {
	builder      *Builder
	normalizer   *datasource.Normalizer
	deps         datasource.Deps
	connectionID string
	handle       *datasource.Handle
	logger       *zap.Logger

	schema atomic.Pointer[models.SchemaModel]
}

// NewAdapter creates a Cassandra adapter for desc. The session is created on first use.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid cassandra config: %w", err)
	}
	open := func(ctx context.Context) (datasource.PoolConnector, error) {
		maxConns, _, _ := deps.Conns.PoolLimits()
		session, err := cfg.Cluster(int(maxConns)).CreateSession()
		if err != nil {
			return nil, err
		}
		return &sessionConnector{session: session, keyspace: cfg.Keyspace}, nil
	}
	return newAdapter(desc.ID, deps, datasource.NewHandle(deps.Conns, desc.ID, open)), nil
}

func newAdapter(connectionID string, deps datasource.Deps, handle *datasource.Handle) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		normalizer:   deps.Normalizer(),
		deps:         deps,
		connectionID: connectionID,
		handle:       handle,
		logger:       logger.Named("cassandra"),
	}
	a.builder = NewBuilder(deps.Now, a.table)
	return a
}

// table looks up key metadata in the last introspected schema.
func (a *Adapter) table(name string) (*models.EntityDescriptor, bool) {
	schema := a.schema.Load()
	if schema == nil {
		return nil, false
	}
	return schema.Entity(name)
}

func (a *Adapter) session(ctx context.Context) (*sessionConnector, error) {
	conn, err := a.handle.Get(ctx)
	if err != nil {
		a.logger.Error("Failed to obtain connection",
			zap.String("connection_id", a.connectionID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageConnect, classifyError)
	}
	sc, ok := conn.(*sessionConnector)
	if !ok {
		return nil, fmt.Errorf("connector of type %s is not a cassandra session", conn.GetType())
	}
	return sc, nil
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() models.Dialect { return Dialect }

// Introspect implements datasource.Adapter from the driver's keyspace metadata.
func (a *Adapter) Introspect(ctx context.Context) (*models.SchemaModel, error) {
	sc, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	ks, err := sc.session.KeyspaceMetadata(sc.keyspace)
	if err != nil {
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, classifyError)
	}
	schema := SchemaFromKeyspace(ks, a.connectionID, a.deps.Now())
	datasource.AddNamingRelationships(schema)
	if err := schema.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageIntrospect, err, "keyspace metadata produced an invalid schema")
	}
	a.schema.Store(schema)
	a.logger.Debug("Read keyspace metadata",
		zap.String("connection_id", a.connectionID),
		zap.String("keyspace", sc.keyspace),
		zap.Int("tables", len(schema.Entities)))
	return schema, nil
}

// Materialize implements datasource.Adapter.
func (a *Adapter) Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	return a.builder.Build(v)
}

// Execute implements datasource.Adapter.
func (a *Adapter) Execute(ctx context.Context, q *models.NativeQuery) (*datasource.RawResult, error) {
	sc, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Running CQL",
		zap.String("connection_id", a.connectionID),
		zap.String("query", logging.SanitizeQuery(q.Statement)))
	return Execute(ctx, sc.session, q)
}

// Normalize implements datasource.Adapter.
func (a *Adapter) Normalize(raw *datasource.RawResult, q *models.NativeQuery) (*datasource.NormalizedResult, error) {
	return a.normalizer.Normalize(raw, q.MaxRows)
}

// Ping implements datasource.Adapter.
func (a *Adapter) Ping(ctx context.Context) error {
	conn, err := a.handle.Get(ctx)
	if err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageConnect, classifyError)
	}
	if err := conn.Ping(ctx); err != nil {
		return datasource.ClassifyError(ctx, err, apperrors.StageConnect, classifyError)
	}
	return nil
}

// Close releases the session.
func (a *Adapter) Close() error {
	return a.handle.Close()
}

// classifyError maps CQL protocol error codes onto the error taxonomy.
func classifyError(err error) (apperrors.Kind, bool) {
	switch {
	case errors.Is(err, gocql.ErrNoConnections), errors.Is(err, gocql.ErrSessionClosed),
		errors.Is(err, gocql.ErrKeyspaceDoesNotExist):
		return apperrors.KindConnection, true
	}
	var reqErr gocql.RequestError
	if !errors.As(err, &reqErr) {
		return "", false
	}
	switch reqErr.Code() {
	case gocql.ErrCodeUnauthorized:
		return apperrors.KindPermission, true
	case gocql.ErrCodeCredentials, gocql.ErrCodeUnavailable, gocql.ErrCodeBootstrapping, gocql.ErrCodeOverloaded:
		return apperrors.KindConnection, true
	case gocql.ErrCodeReadTimeout:
		return apperrors.KindTimeout, true
	}
	return "", false
}

var _ datasource.Adapter = (*Adapter)(nil)
