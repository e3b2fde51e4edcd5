package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle resolves an adapter's backend connection. With a connection manager
// the connection is shared and TTL-managed under the connection id; without
// one (tests, connection checks) the handle owns it.
type Handle struct {
	conns   *ConnectionManager
	key     string
	open    OpenFunc
	managed bool

	mu    sync.Mutex
	owned PoolConnector
}

// NewHandle creates a lazily opened handle. An empty connectionID gets a
// throwaway key so probes never share a pool with registered connections.
func NewHandle(conns *ConnectionManager, connectionID string, open OpenFunc) *Handle {
	key := connectionID
	if key == "" {
		key = "probe-" + uuid.NewString()
	}
	return &Handle{conns: conns, key: key, open: open, managed: conns != nil}
}

// NewOwnedHandle wraps an already open connection.
func NewOwnedHandle(conn PoolConnector) *Handle {
	return &Handle{owned: conn}
}

// Get returns the connection, opening it on first use.
func (h *Handle) Get(ctx context.Context) (PoolConnector, error) {
	if h.managed {
		return h.conns.GetOrCreateConnection(ctx, h.key, h.open)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owned != nil {
		return h.owned, nil
	}
	if h.open == nil {
		return nil, fmt.Errorf("no connection opener configured")
	}
	conn, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	h.owned = conn
	return conn, nil
}

// Close releases an owned connection or drops the managed one.
func (h *Handle) Close() error {
	h.mu.Lock()
	owned := h.owned
	h.owned = nil
	h.mu.Unlock()
	if owned != nil {
		return owned.Close()
	}
	if h.managed {
		h.conns.Remove(h.key)
	}
	return nil
}
