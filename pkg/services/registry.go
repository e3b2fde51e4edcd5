package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/crypto"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// connection is one registry entry. The descriptor never holds credentials;
// the bundle is kept sealed and only opened to build an adapter.
type connection struct {
	id     string
	schema schemaCache
	queue  runQueue

	mu      sync.RWMutex
	desc    models.ConnectionDescriptor
	sealed  string
	adapter datasource.Adapter
}

func (c *connection) currentAdapter() datasource.Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adapter
}

func (c *connection) descriptor() models.ConnectionDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desc.Redacted()
}

// setStatus moves the connection to next when the transition is allowed.
// Caller must hold c.mu.
func (c *connection) setStatus(next models.ConnectionStatus, message string) bool {
	if c.desc.Status == next {
		c.desc.StatusMessage = message
		return true
	}
	if !c.desc.Status.CanTransition(next) {
		return false
	}
	c.desc.Status = next
	c.desc.StatusMessage = message
	return true
}

// ConnectionRegistry maps connection ids to adapters, sealed credential
// bundles and cached schema snapshots.
type ConnectionRegistry struct {
	factory   datasource.AdapterFactory
	encryptor *crypto.CredentialEncryptor
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu      sync.RWMutex
	entries map[string]*connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(factory datasource.AdapterFactory, encryptor *crypto.CredentialEncryptor, logger *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		factory:   factory,
		encryptor: encryptor,
		logger:    logger.Named("registry"),
		now:       time.Now,
		newID:     uuid.NewString,
		entries:   make(map[string]*connection),
	}
}

func connectError(err error) error {
	if ce, ok := apperrors.As(err); ok {
		return apperrors.EnsureStage(ce, apperrors.StageConnect)
	}
	return apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, err, "%s", logging.SanitizeError(err))
}

// open builds an adapter for desc and verifies it answers a ping.
func (r *ConnectionRegistry) open(ctx context.Context, desc *models.ConnectionDescriptor) (datasource.Adapter, error) {
	adapter, err := r.factory.NewAdapter(ctx, desc)
	if err != nil {
		return nil, connectError(err)
	}
	if err := adapter.Ping(ctx); err != nil {
		if closeErr := adapter.Close(); closeErr != nil {
			r.logger.Debug("Failed to close adapter after ping failure", zap.String("error", logging.SanitizeError(closeErr)))
		}
		return nil, connectError(datasource.ClassifyError(ctx, err, apperrors.StageConnect, nil))
	}
	return adapter, nil
}

// Register connects desc and adds it to the registry. The returned descriptor
// is redacted.
func (r *ConnectionRegistry) Register(ctx context.Context, desc models.ConnectionDescriptor) (models.ConnectionDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return models.ConnectionDescriptor{}, apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, err, "")
	}
	if _, err := r.factory.Resolve(desc.Type); err != nil {
		return models.ConnectionDescriptor{}, apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, err, "")
	}

	desc.ID = r.newID()
	desc.Status = models.StatusConnecting
	desc.StatusMessage = ""
	desc.CreatedAt = r.now()
	desc.LastUsed = nil

	sealed, err := r.encryptor.SealJSON(models.SecretBundle(desc.Credentials))
	if err != nil {
		return models.ConnectionDescriptor{}, apperrors.Wrap(apperrors.KindInternal, apperrors.StageConnect, err, "failed to seal credentials")
	}

	adapter, err := r.open(ctx, &desc)
	if err != nil {
		r.logger.Warn("Connection failed",
			zap.String("type", desc.Type),
			zap.String("nickname", desc.Nickname),
			zap.String("error", logging.SanitizeError(err)))
		return models.ConnectionDescriptor{}, err
	}

	desc.Status = models.StatusConnected
	desc.Credentials = models.Credentials{}
	entry := &connection{id: desc.ID, desc: desc, sealed: sealed, adapter: adapter}

	r.mu.Lock()
	r.entries[desc.ID] = entry
	total := len(r.entries)
	r.mu.Unlock()
	metrics.SetConnections(total)

	r.logger.Info("Connected",
		zap.String("connection_id", desc.ID),
		zap.String("type", desc.Type),
		zap.String("family", string(desc.Family)),
		zap.String("dialect", adapter.Dialect().Name))
	return desc.Redacted(), nil
}

// Probe connects desc without registering it and closes the adapter again.
func (r *ConnectionRegistry) Probe(ctx context.Context, desc models.ConnectionDescriptor) error {
	if err := desc.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect, err, "")
	}
	desc.ID = ""
	adapter, err := r.open(ctx, &desc)
	if err != nil {
		return err
	}
	return adapter.Close()
}

func notFound(id string) error {
	return apperrors.Wrap(apperrors.KindConnection, apperrors.StageConnect,
		fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id), "unknown connection id %q", id)
}

func (r *ConnectionRegistry) lookup(id string) (*connection, error) {
	r.mu.RLock()
	c, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return c, nil
}

// Get returns the redacted descriptor for id.
func (r *ConnectionRegistry) Get(id string) (models.ConnectionDescriptor, error) {
	c, err := r.lookup(id)
	if err != nil {
		return models.ConnectionDescriptor{}, err
	}
	return c.descriptor(), nil
}

// List returns redacted descriptors ordered by creation time.
func (r *ConnectionRegistry) List() []models.ConnectionDescriptor {
	r.mu.RLock()
	out := make([]models.ConnectionDescriptor, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c.descriptor())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove unregisters id. In-flight runs on the connection finish first unless
// ctx ends, in which case the adapter is closed underneath them.
func (r *ConnectionRegistry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.entries[id]
	delete(r.entries, id)
	total := len(r.entries)
	r.mu.Unlock()
	if !ok {
		return notFound(id)
	}
	metrics.SetConnections(total)
	metrics.ForgetConnection(id)

	release, err := c.queue.acquire(ctx)
	if err != nil {
		r.logger.Warn("Closing connection with runs still in flight", zap.String("connection_id", id))
	}

	c.mu.Lock()
	c.setStatus(models.StatusDisconnected, "")
	adapter := c.adapter
	c.mu.Unlock()
	c.schema.Clear()

	closeErr := adapter.Close()
	if release != nil {
		release()
	}
	if closeErr != nil {
		r.logger.Debug("Error closing adapter",
			zap.String("connection_id", id),
			zap.String("error", logging.SanitizeError(closeErr)))
	}
	r.logger.Info("Disconnected", zap.String("connection_id", id))
	return nil
}

// Reconnect rebuilds the adapter for id. With nil creds the sealed bundle is
// reused. The swap waits for in-flight runs; if ctx ends first the new
// adapter is discarded and the connection keeps its old one. The schema
// cache is cleared since the backend may have changed.
func (r *ConnectionRegistry) Reconnect(ctx context.Context, id string, creds *models.Credentials) error {
	c, err := r.lookup(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	desc := c.desc
	sealed := c.sealed
	prevStatus, prevMessage := c.desc.Status, c.desc.StatusMessage
	c.setStatus(models.StatusConnecting, "")
	c.mu.Unlock()

	if creds != nil {
		desc.Credentials = *creds
		if sealed, err = r.encryptor.SealJSON(models.SecretBundle(*creds)); err != nil {
			return apperrors.Wrap(apperrors.KindInternal, apperrors.StageConnect, err, "failed to seal credentials")
		}
	} else {
		var bundle models.SecretBundle
		if err := r.encryptor.OpenJSON(sealed, &bundle); err != nil {
			if errors.Is(err, crypto.ErrDecryptionFailed) {
				err = fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
			}
			return apperrors.Wrap(apperrors.KindInternal, apperrors.StageConnect, err, "")
		}
		desc.Credentials = models.Credentials(bundle)
	}

	adapter, err := r.open(ctx, &desc)
	if err != nil {
		c.mu.Lock()
		c.setStatus(models.StatusError, err.Error())
		c.mu.Unlock()
		return err
	}

	// The swap waits for in-flight runs so the old adapter is never closed under one.
	release, err := c.queue.acquire(ctx)
	if err != nil {
		if closeErr := adapter.Close(); closeErr != nil {
			r.logger.Debug("Error closing unused adapter",
				zap.String("connection_id", id),
				zap.String("error", logging.SanitizeError(closeErr)))
		}
		c.mu.Lock()
		c.setStatus(prevStatus, prevMessage)
		c.mu.Unlock()
		r.logger.Warn("Reconnect abandoned while runs were in flight", zap.String("connection_id", id))
		if ce := apperrors.FromContext(ctx, apperrors.StageQueue); ce != nil {
			return ce
		}
		return apperrors.Wrap(apperrors.KindInternal, apperrors.StageQueue, err, "")
	}
	defer release()

	c.mu.Lock()
	old := c.adapter
	c.adapter = adapter
	c.sealed = sealed
	c.setStatus(models.StatusConnected, "")
	c.mu.Unlock()
	c.schema.Clear()
	if err := old.Close(); err != nil {
		r.logger.Debug("Error closing replaced adapter",
			zap.String("connection_id", id),
			zap.String("error", logging.SanitizeError(err)))
	}
	r.logger.Info("Reconnected", zap.String("connection_id", id), zap.Bool("new_credentials", creds != nil))
	return nil
}

// Schema returns the schema snapshot of id, introspecting when it is not
// cached or when force is set.
func (r *ConnectionRegistry) Schema(ctx context.Context, id string, force bool) (*models.SchemaModel, error) {
	c, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.schema(ctx, c, force)
}

func (r *ConnectionRegistry) schema(ctx context.Context, c *connection, force bool) (*models.SchemaModel, error) {
	schema, loaded, err := c.schema.Get(ctx, force, func(ctx context.Context) (*models.SchemaModel, error) {
		return r.introspect(ctx, c)
	})
	if err != nil {
		if ce := apperrors.FromContext(ctx, apperrors.StageIntrospect); ce != nil {
			return nil, ce
		}
		return nil, apperrors.EnsureStage(err, apperrors.StageIntrospect)
	}
	if loaded {
		r.logger.Info("Schema introspected",
			zap.String("connection_id", c.id),
			zap.Int("entities", len(schema.Entities)),
			zap.Int("relationships", len(schema.Relationships)),
			zap.Bool("refresh", force))
	}
	return schema, nil
}

func (r *ConnectionRegistry) introspect(ctx context.Context, c *connection) (*models.SchemaModel, error) {
	adapter := c.currentAdapter()
	family := adapter.Dialect().Family

	schema, err := adapter.Introspect(ctx)
	metrics.ObserveIntrospection(string(family), err)
	if err != nil {
		err = datasource.ClassifyError(ctx, err, apperrors.StageIntrospect, nil)
		r.recordFailure(c, err)
		return nil, err
	}
	if schema == nil {
		return nil, apperrors.New(apperrors.KindInternal, apperrors.StageIntrospect, "introspection returned no schema")
	}

	schema.ConnectionID = c.id
	if schema.Family == "" {
		schema.Family = family
	}
	if schema.IntrospectedAt.IsZero() {
		schema.IntrospectedAt = r.now()
	}
	if err := schema.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, apperrors.StageIntrospect, err, "introspected schema is inconsistent: %v", err)
	}
	return schema, nil
}

// beginRun marks a run starting on c. A connection in the error state is
// retried, so it moves back to connecting.
func (r *ConnectionRegistry) beginRun(c *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.desc.Status == models.StatusError {
		c.setStatus(models.StatusConnecting, "")
	}
}

// recordSuccess updates the last-used timestamp after a successful run.
func (r *ConnectionRegistry) recordSuccess(c *connection) {
	now := r.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desc.LastUsed = &now
	c.setStatus(models.StatusConnected, "")
}

// recordFailure moves c to the error state for connection-level failures.
func (r *ConnectionRegistry) recordFailure(c *connection, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch apperrors.KindOf(err) {
	case apperrors.KindConnection, apperrors.KindPermission:
		if c.setStatus(models.StatusError, logging.SanitizeError(err)) {
			r.logger.Warn("Connection marked as failed",
				zap.String("connection_id", c.id),
				zap.String("error", logging.SanitizeError(err)))
		}
	default:
		if c.desc.Status == models.StatusConnecting {
			c.setStatus(models.StatusConnected, "")
		}
	}
}

// Close disconnects every connection.
func (r *ConnectionRegistry) Close(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Remove(ctx, id); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
