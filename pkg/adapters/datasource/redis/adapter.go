// Package redis implements the key-value family over Redis. Entities are key
// prefixes; reads are point lookups and bounded prefix scans.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// Dialect is the Redis command dialect.
var Dialect = models.Dialect{Name: "redis", Family: models.FamilyKeyValue}

// clientConnector adapts a go-redis client to datasource.PoolConnector.
type clientConnector struct {
	client redis.UniversalClient
}

func (c *clientConnector) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *clientConnector) Close() error {
	return c.client.Close()
}

func (c *clientConnector) GetType() string { return "redis" }

// Adapter implements datasource.Adapter for Redis.
type Adapter struct {
	separator    string
	builder      *Builder
	normalizer   *datasource.Normalizer
	deps         datasource.Deps
	connectionID string
	handle       *datasource.Handle
	logger       *zap.Logger

	schema atomic.Pointer[models.SchemaModel]
}

// NewAdapter creates a Redis adapter for desc. The client is created on first use.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	open := func(ctx context.Context) (datasource.PoolConnector, error) {
		maxConns, minConns, idle := deps.Conns.PoolLimits()
		o := *opts
		o.PoolSize = int(maxConns)
		o.MinIdleConns = int(minConns)
		o.ConnMaxIdleTime = idle
		// Abort commands when the run's context ends, not only at its deadline.
		o.ContextTimeoutEnabled = true
		return &clientConnector{client: redis.NewClient(&o)}, nil
	}
	return newAdapter(desc.ID, cfg.Separator, deps, datasource.NewHandle(deps.Conns, desc.ID, open)), nil
}

// NewWithClient creates an adapter over an existing client, which the adapter then owns.
func NewWithClient(client redis.UniversalClient, connectionID, separator string, deps datasource.Deps) *Adapter {
	return newAdapter(connectionID, separator, deps, datasource.NewOwnedHandle(&clientConnector{client: client}))
}

func newAdapter(connectionID, separator string, deps datasource.Deps, handle *datasource.Handle) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	a := &Adapter{
		separator:    separator,
		normalizer:   deps.Normalizer(),
		deps:         deps,
		connectionID: connectionID,
		handle:       handle,
		logger:       logger.Named("redis"),
	}
	a.builder = NewBuilder(separator, deps.Engine.KeyScanCount, a.valueType)
	return a
}

// valueType reads the Redis type recorded on the entity's key field.
func (a *Adapter) valueType(entity string) string {
	schema := a.schema.Load()
	if schema == nil {
		return ""
	}
	e, ok := schema.Entity(entity)
	if !ok {
		return ""
	}
	for _, f := range e.KeyFields() {
		if !strings.Contains(f.NativeType, "|") {
			return f.NativeType
		}
	}
	return ""
}

func (a *Adapter) client(ctx context.Context) (redis.UniversalClient, error) {
	conn, err := a.handle.Get(ctx)
	if err != nil {
		a.logger.Error("Failed to obtain connection",
			zap.String("connection_id", a.connectionID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, datasource.ClassifyError(ctx, err, apperrors.StageConnect, classifyError)
	}
	cc, ok := conn.(*clientConnector)
	if !ok {
		return nil, fmt.Errorf("connector of type %s is not a redis client", conn.GetType())
	}
	return cc.client, nil
}

// Dialect implements datasource.Adapter.
func (a *Adapter) Dialect() models.Dialect { return Dialect }

// Introspect implements datasource.Adapter by sampling keys.
func (a *Adapter) Introspect(ctx context.Context) (*models.SchemaModel, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := Introspect(ctx, c, a.separator, a.deps.Engine.KeyScanCount, a.connectionID, a.deps.Now())
	if err != nil {
		return nil, err
	}
	a.schema.Store(schema)
	a.logger.Debug("Sampled key prefixes",
		zap.String("connection_id", a.connectionID),
		zap.Int("prefixes", len(schema.Entities)))
	return schema, nil
}

// Materialize implements datasource.Adapter.
func (a *Adapter) Materialize(v *safety.ValidatedIntent) (*models.NativeQuery, error) {
	return a.builder.Build(v)
}

// Execute implements datasource.Adapter.
func (a *Adapter) Execute(ctx context.Context, q *models.NativeQuery) (*datasource.RawResult, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Running key command",
		zap.String("connection_id", a.connectionID),
		zap.String("target", q.Target))
	return Execute(ctx, c, q)
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

// classifyError maps Redis error prefixes onto the error taxonomy.
func classifyError(err error) (apperrors.Kind, bool) {
	if errors.Is(err, redis.ErrClosed) {
		return apperrors.KindConnection, true
	}
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return "", false
	}
	msg := rerr.Error()
	switch {
	case strings.HasPrefix(msg, "NOPERM"):
		return apperrors.KindPermission, true
	case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"), strings.HasPrefix(msg, "LOADING"):
		return apperrors.KindConnection, true
	}
	return "", false
}

var _ datasource.Adapter = (*Adapter)(nil)
