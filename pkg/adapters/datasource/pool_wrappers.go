package datasource

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolWrapper wraps *pgxpool.Pool and a database/sql view of it.
type PostgresPoolWrapper struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewPostgresPoolWrapper creates a new PostgreSQL pool wrapper
func NewPostgresPoolWrapper(pool *pgxpool.Pool, db *sql.DB) *PostgresPoolWrapper {
	return &PostgresPoolWrapper{pool: pool, db: db}
}

// Ping verifies the PostgreSQL connection is alive
func (w *PostgresPoolWrapper) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close closes the database/sql view, then the pool underneath it
func (w *PostgresPoolWrapper) Close() error {
	err := w.db.Close()
	w.pool.Close()
	return err
}

// GetType returns the database type
func (w *PostgresPoolWrapper) GetType() string {
	return "postgres"
}

// Pool returns the underlying *pgxpool.Pool
func (w *PostgresPoolWrapper) Pool() *pgxpool.Pool {
	return w.pool
}

// DB returns the database/sql handle sharing the pool
func (w *PostgresPoolWrapper) DB() *sql.DB {
	return w.db
}

// SQLPoolWrapper wraps a *sql.DB opened through any database/sql driver
type SQLPoolWrapper struct {
	db     *sql.DB
	dbType string
}

// NewSQLPoolWrapper creates a wrapper reporting dbType in stats
func NewSQLPoolWrapper(db *sql.DB, dbType string) *SQLPoolWrapper {
	return &SQLPoolWrapper{db: db, dbType: dbType}
}

// Ping verifies the connection is alive
func (w *SQLPoolWrapper) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes all connections in the pool
func (w *SQLPoolWrapper) Close() error {
	return w.db.Close()
}

// GetType returns the database type
func (w *SQLPoolWrapper) GetType() string {
	return w.dbType
}

// DB returns the underlying *sql.DB
func (w *SQLPoolWrapper) DB() *sql.DB {
	return w.db
}
