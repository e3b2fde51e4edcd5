// Package sqlite adapts SQLite database files to the relational engine.
// Files are always opened read-only.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/relational"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Dialect is the SQLite dialect. LIKE is case-insensitive for ASCII.
var Dialect = relational.Dialect{
	Name:         "sqlite",
	Quote:        relational.QuoteDouble,
	Placeholder:  relational.QuestionPlaceholder,
	Limit:        relational.LimitClause,
	LikeOperator: "LIKE",
	LikeEscape:   ` ESCAPE '\'`,
	Catalog: relational.Catalog{
		Columns: `
SELECT m.name, p.name, p.type,
       CASE WHEN p."notnull" = 1 OR p.pk > 0 THEN 'NO' ELSE 'YES' END,
       CASE WHEN p.pk > 0 THEN 1 ELSE 0 END
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite\_%' ESCAPE '\'
ORDER BY m.name, p.cid`,
		ForeignKeys: `
SELECT m.name, f."from", f."table",
       COALESCE(f."to", (SELECT t.name FROM pragma_table_info(f."table") t WHERE t.pk = 1))
FROM sqlite_master m
JOIN pragma_foreign_key_list(m.name) f
WHERE m.type = 'table'
ORDER BY m.name, f."from"`,
	},
	Classify: classifyError,
	MapType:  mapType,
}

// Config holds the database file location.
type Config struct {
	Path        string
	BusyTimeout int // milliseconds
}

// FromCredentials reads the file path from FilePath, falling back to Database.
func FromCredentials(creds models.Credentials) (*Config, error) {
	path := creds.FilePath
	if path == "" {
		path = creds.Database
	}
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	if strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("file_path must not contain '?' or '#'")
	}
	return &Config{Path: path, BusyTimeout: 5000}, nil
}

// DSN returns a read-only URI filename. query_only additionally blocks
// writes through the connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("file:%s?mode=ro&_query_only=true&_busy_timeout=%d", c.Path, c.BusyTimeout)
}

// NewAdapter creates a SQLite adapter for desc.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}
	dsn := cfg.DSN()

	return relational.New(relational.Config{
		Dialect:      Dialect,
		ConnectionID: desc.ID,
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreateSQLPool("sqlite3", dsn, "sqlite", deps.Conns)
		},
	}), nil
}

func classifyError(err error) (apperrors.Kind, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
			return apperrors.KindPermission, true
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return apperrors.KindConnection, true
		}
	}
	return "", false
}

// mapType applies SQLite's type affinity rules to declared types the shared
// mapping does not know. An empty declaration has BLOB affinity.
func mapType(native string) string {
	if strings.TrimSpace(native) == "" {
		return models.TypeUnknown
	}
	upper := strings.ToUpper(native)
	if strings.Contains(upper, "CLOB") {
		return models.TypeString
	}
	return ""
}
