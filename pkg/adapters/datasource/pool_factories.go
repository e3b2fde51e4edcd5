package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// CreatePostgresPool creates a PostgreSQL pool sized by the connection manager
// and exposes it through database/sql for the shared relational executor.
func CreatePostgresPool(ctx context.Context, connString string, m *ConnectionManager) (PoolConnector, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	maxConns, minConns, idle := m.PoolLimits()
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnIdleTime = idle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return NewPostgresPoolWrapper(pool, stdlib.OpenDBFromPool(pool)), nil
}

// CreateSQLPool opens a database/sql pool for driverName sized by the
// connection manager. The driver must already be registered by import.
func CreateSQLPool(driverName, dsn, dbType string, m *ConnectionManager) (PoolConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbType, err)
	}

	maxConns, minConns, idle := m.PoolLimits()
	db.SetMaxOpenConns(int(maxConns))
	db.SetMaxIdleConns(int(minConns))
	db.SetConnMaxIdleTime(idle)

	return NewSQLPoolWrapper(db, dbType), nil
}
