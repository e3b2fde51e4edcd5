package datasource

import (
	"context"
	"database/sql"
	"fmt"
)

// PoolConnector abstracts a backend handle across database types
// (PostgreSQL pools, database/sql pools, MongoDB clients, Redis clients, CQL sessions).
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}

// SQLConnector is implemented by connectors backed by database/sql.
type SQLConnector interface {
	PoolConnector
	DB() *sql.DB
}

// SQLDB extracts the *sql.DB from a connector.
func SQLDB(connector PoolConnector) (*sql.DB, error) {
	c, ok := connector.(SQLConnector)
	if !ok {
		return nil, fmt.Errorf("connector of type %s is not backed by database/sql", connector.GetType())
	}
	return c.DB(), nil
}
