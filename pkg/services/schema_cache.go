package services

import (
	"context"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// introspectionTimeout bounds a shared load, which outlives the callers waiting on it.
const introspectionTimeout = 2 * time.Minute

// schemaLoader introspects the backend behind one connection.
type schemaLoader func(ctx context.Context) (*models.SchemaModel, error)

// introspection is one in-flight load shared by every caller that arrives
// while it runs.
type introspection struct {
	done     chan struct{}
	previous *models.SchemaModel
	schema   *models.SchemaModel
	err      error
}

// schemaCache holds the current schema snapshot of one connection.
// Snapshots are never modified after they are stored; a refresh replaces the
// pointer, so readers holding an older snapshot keep a consistent view.
type schemaCache struct {
	mu       sync.Mutex
	current  *models.SchemaModel
	inflight *introspection
}

// Snapshot returns the cached schema without loading, or nil.
func (c *schemaCache) Snapshot() *models.SchemaModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Get returns the cached snapshot, loading it when absent or when force is set.
// Concurrent callers share a single load, which runs detached from any one
// caller's context so a caller leaving early does not fail the others. While
// a load is running, new reads wait for it instead of returning the previous
// snapshot. A failed refresh keeps the previous snapshot: readers that did
// not ask for the refresh get it, callers that forced one get the error.
// loaded reports whether this call started the load that produced the result.
func (c *schemaCache) Get(ctx context.Context, force bool, load schemaLoader) (schema *models.SchemaModel, loaded bool, err error) {
	c.mu.Lock()
	fl := c.inflight
	switch {
	case fl != nil:
	case !force && c.current != nil:
		s := c.current
		c.mu.Unlock()
		return s, false, nil
	default:
		fl = &introspection{done: make(chan struct{}), previous: c.current}
		c.inflight = fl
		loaded = true
		go c.run(ctx, fl, load)
	}
	c.mu.Unlock()

	select {
	case <-fl.done:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if fl.err != nil {
		if !force && fl.previous != nil {
			return fl.previous, false, nil
		}
		return nil, false, fl.err
	}
	return fl.schema, loaded, nil
}

func (c *schemaCache) run(ctx context.Context, fl *introspection, load schemaLoader) {
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), introspectionTimeout)
	defer cancel()
	schema, err := load(loadCtx)

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		c.current = schema
	}
	c.mu.Unlock()

	fl.schema, fl.err = schema, err
	close(fl.done)
}

// Clear drops the snapshot so the next read introspects again.
func (c *schemaCache) Clear() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}
