// Package mongodb implements the document family over MongoDB aggregation
// pipelines.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Dialect is the MongoDB aggregation pipeline dialect.
var Dialect = models.Dialect{Name: "mongodb", Family: models.FamilyDocument}

// MongoDB server error codes.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeAtlasUnauthorized    = 8000
)

const serverSelectionTimeout = 10 * time.Second

// clientConnector adapts a driver client to datasource.PoolConnector.
type clientConnector struct {
	client   *mongo.Client
	database string
}

func (c *clientConnector) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.PrimaryPreferred())
}

func (c *clientConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

func (c *clientConnector) GetType() string { return "mongodb" }

// Adapter implements datasource.Adapter for MongoDB.
type Adapter struct {
	builder      *Builder
	normalizer   *datasource.Normalizer
	deps         datasource.Deps
	connectionID string
	handle       *datasource.Handle
	logger       *zap.Logger

	// schema is the last introspected model, consulted for ObjectID fields.
	schema atomic.Pointer[models.SchemaModel]
}

// NewAdapter creates a MongoDB adapter for desc. The client connects on first use.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}
	uri := cfg.ConnectionURI()
	open := func(ctx context.Context) (datasource.PoolConnector, error) {
		maxConns, minConns, idle := deps.Conns.PoolLimits()
		opts := options.Client().
			ApplyURI(uri).
			SetAppName("ekaya-ask").
			SetMaxPoolSize(uint64(maxConns)).
			SetMinPoolSize(uint64(minConns)).
			SetMaxConnIdleTime(idle).
			SetServerSelectionTimeout(serverSelectionTimeout)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &clientConnector{client: client, database: cfg.Database}, nil
	}
	return newAdapter(desc.ID, deps, datasource.NewHandle(deps.Conns, desc.ID, open)), nil
}

// NewWithDatabase creates an adapter over an already connected database.
func NewWithDatabase(db *mongo.Database, connectionID string, deps datasource.Deps) *Adapter {
	conn := &clientConnector{client: db.Client(), database: db.Name()}
	return newAdapter(connectionID, deps, datasource.NewOwnedHandle(conn))
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
		logger:       logger.Named("mongodb"),
	}
	a.builder = NewBuilder(deps.Now, a.isObjectID)
	return a
}

func (a *Adapter) isObjectID(entity, field string) bool {
	schema := a.schema.Load()
	if schema == nil {
		return field == "_id"
	}
	e, ok := schema.Entity(entity)
	if !ok {
		return false
	}
	f, ok := e.Field(field)
	return ok && f.NativeType == "objectId"
}

func (a *Adapter) database(ctx context.Context) (*mongo.Database, error) {
	conn, err := a.handle.Get(ctx)
	if err != nil {
		a.logger.Error("Failed to obtain connection",
			zap.String("connection_id", a.connectionID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageConnect, classifyError)
	}
	cc, ok := conn.(*clientConnector)
	if !ok {
		return nil, fmt.Errorf("connector of type %s is not a mongodb client", conn.GetType())
	}
	return cc.client.Database(cc.database), nil
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() models.Dialect { return Dialect }

// Introspect implements datasource.Adapter by sampling documents.
func (a *Adapter) Introspect(ctx context.Context) (*models.SchemaModel, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := Introspect(ctx, db, a.deps.Engine.DocumentSampleSize, a.connectionID, a.deps.Now())
	if err != nil {
		return nil, err
	}
	a.schema.Store(schema)
	a.logger.Debug("Sampled collections",
		zap.String("connection_id", a.connectionID),
		zap.Int("collections", len(schema.Entities)))
	return schema, nil
}

// Materialize implements datasource.Adapter.
func (a *Adapter) Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	return a.builder.Build(v)
}

// Execute implements datasource.Adapter.
func (a *Adapter) Execute(ctx context.Context, q *models.NativeQuery) (*datasource.RawResult, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Running pipeline",
		zap.String("connection_id", a.connectionID),
		zap.String("collection", q.Target))
	return Execute(ctx, db, q)
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

// Close releases the client.
func (a *Adapter) Close() error {
	return a.handle.Close()
}

func classifyError(err error) (apperrors.Kind, bool) {
	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(codeUnauthorized), se.HasErrorCode(codeAtlasUnauthorized):
			return apperrors.KindPermission, true
		case se.HasErrorCode(codeAuthenticationFailed):
			return apperrors.KindConnection, true
		}
	}
	if mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return apperrors.KindConnection, true
	}
	return "", false
}

var _ datasource.Adapter = (*Adapter)(nil)
