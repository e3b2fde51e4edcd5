package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxConnections       = 50
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1
	defaultHealthCheckTimeout   = 5 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes     int
	MaxConnections int
	PoolMaxConns   int32
	PoolMinConns   int32
}

// OpenFunc opens a new backend handle. Called when no healthy handle is cached.
type OpenFunc func(ctx context.Context) (PoolConnector, error)

// ConnectionManager caches backend handles per connection id with TTL-based
// expiry and automatic cleanup. Expired handles are reopened on next use.
type ConnectionManager struct {
	mu             sync.RWMutex
	connections    map[string]*ManagedConnection // key: connection id
	ttl            time.Duration
	cleanupEvery   time.Duration
	maxConnections int
	poolMaxConns   int32
	poolMinConns   int32
	retryConfig    *retry.Config
	stopped        bool
	stopChan       chan struct{}
	logger         *zap.Logger
	now            func() time.Time
}

// ManagedConnection is a cached handle and its last use.
type ManagedConnection struct {
	connector PoolConnector
	lastUsed  time.Time
	mu        sync.Mutex // Per-connection mutex serializes health checks
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	manager := &ConnectionManager{
		connections:    make(map[string]*ManagedConnection),
		ttl:            time.Duration(cfg.TTLMinutes) * time.Minute,
		cleanupEvery:   DefaultCleanupInterval,
		maxConnections: cfg.MaxConnections,
		poolMaxConns:   cfg.PoolMaxConns,
		poolMinConns:   cfg.PoolMinConns,
		retryConfig:    retry.DefaultConfig(),
		stopChan:       make(chan struct{}),
		logger:         logger.Named("connections"),
		now:            time.Now,
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// PoolLimits returns the per-handle pool sizing adapters should apply.
// A nil manager yields small unmanaged defaults.
func (m *ConnectionManager) PoolLimits() (maxConns, minConns int32, idle time.Duration) {
	if m == nil {
		return 4, 0, 5 * time.Minute
	}
	return m.poolMaxConns, m.poolMinConns, m.ttl
}

// GetOrCreateConnection returns the cached handle for key, pinging it first,
// or opens a new one with open. Opening retries transient failures; auth
// failures are returned immediately.
func (m *ConnectionManager) GetOrCreateConnection(ctx context.Context, key string, open OpenFunc) (PoolConnector, error) {
	// Try existing connection with read lock (fast path)
	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
		err := retry.Do(healthCtx, m.retryConfig, func() error {
			return managed.connector.Ping(healthCtx)
		})
		cancel()

		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("type", managed.connector.GetType()),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock() // Unlock before calling Remove
			m.Remove(key)
			return m.createConnection(ctx, key, open)
		}

		managed.lastUsed = m.now()
		managed.mu.Unlock()
		return managed.connector, nil
	}

	return m.createConnection(ctx, key, open)
}

// createConnection opens a new handle with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createConnection(ctx context.Context, key string, open OpenFunc) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = m.now()
		return managed.connector, nil
	}

	if len(m.connections) >= m.maxConnections {
		m.logger.Warn("reached max connections limit",
			zap.Int("current", len(m.connections)),
			zap.Int("max", m.maxConnections),
		)
		return nil, fmt.Errorf("%w (%d)", apperrors.ErrConnectionLimitReached, m.maxConnections)
	}

	connector, err := retry.DoWithResult(ctx, m.retryConfig, func() (PoolConnector, error) {
		c, openErr := open(ctx)
		if openErr != nil {
			return nil, openErr
		}
		if pingErr := c.Ping(ctx); pingErr != nil {
			_ = c.Close()
			return nil, pingErr
		}
		return c, nil
	})
	if err != nil {
		m.logger.Error("failed to open connection",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	m.connections[key] = &ManagedConnection{
		connector: connector,
		lastUsed:  m.now(),
	}

	m.logger.Info("opened connection",
		zap.String("key", key),
		zap.String("type", connector.GetType()),
		zap.Int("totalConnections", len(m.connections)),
	)

	return connector, nil
}

// Remove closes and forgets the handle for key. Safe for unknown keys.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		if managed.connector != nil {
			if err := managed.connector.Close(); err != nil {
				m.logger.Debug("error closing connection",
					zap.String("key", key),
					zap.String("error", logging.SanitizeError(err)),
				)
			}
		}
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

// cleanupExpiredConnections runs periodically to remove expired connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(m.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within TTL.
// Lock ordering: manager lock then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := m.now()
	var expiredKeys []string

	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		if managed := m.connections[key]; managed != nil && managed.connector != nil {
			_ = managed.connector.Close()
		}
		delete(m.connections, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all connections in the manager and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.connector != nil {
			_ = managed.connector.Close()
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		MaxConnections:    m.maxConnections,
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
	}

	for _, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		stats.ConnectionsByType[managed.connector.GetType()]++
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	MaxConnections    int            `json:"max_connections"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}
