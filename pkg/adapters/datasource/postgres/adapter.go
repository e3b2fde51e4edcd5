package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/relational"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Dialect is the PostgreSQL SQL dialect.
var Dialect = relational.Dialect{
	Name:         "postgres",
	Quote:        relational.QuoteDouble,
	Placeholder:  relational.DollarPlaceholder,
	Limit:        relational.LimitClause,
	LikeOperator: "ILIKE",
	Catalog:      relational.Catalog{Columns: columnsQuery, ForeignKeys: foreignKeysQuery},
	Classify:     classifyError,
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// IMPORTANT: All user-provided fields must be URL-escaped to handle special characters
// in passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
// When running in Docker, localhost is automatically resolved to host.docker.internal
// to allow connections to databases running on the host machine.
func buildConnectionString(cfg *Config) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	// Resolve localhost to host.docker.internal when running in Docker
	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// NewAdapter creates a PostgreSQL adapter for desc. The pool is opened on
// first use through the connection manager.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	connStr := buildConnectionString(cfg)

	return relational.New(relational.Config{
		Dialect:      Dialect,
		ConnectionID: desc.ID,
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreatePostgresPool(ctx, connStr, deps.Conns)
		},
	}), nil
}

// classifyError maps SQLSTATE codes onto the error taxonomy.
func classifyError(err error) (apperrors.Kind, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return apperrors.KindPermission, true
		case pgErr.Code == "28000", pgErr.Code == "28P01", pgErr.Code == "3D000":
			return apperrors.KindConnection, true
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01":
			return apperrors.KindConnection, true
		}
		return "", false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperrors.KindConnection, true
	}
	return "", false
}
