// Package duckdb adapts DuckDB database files to the relational engine.
// Files are opened with access_mode=READ_ONLY.
package duckdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/relational"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Dialect is the DuckDB dialect.
var Dialect = relational.Dialect{
	Name:         "duckdb",
	Quote:        relational.QuoteDouble,
	Placeholder:  relational.DollarPlaceholder,
	Limit:        relational.LimitClause,
	LikeOperator: "ILIKE",
	LikeEscape:   ` ESCAPE '\'`,
	Catalog: relational.Catalog{
		Columns: `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
       CASE WHEN EXISTS (
           SELECT 1 FROM duckdb_constraints() k
           WHERE k.constraint_type = 'PRIMARY KEY'
             AND k.schema_name = c.table_schema
             AND k.table_name = c.table_name
             AND list_contains(k.constraint_column_names, c.column_name)
       ) THEN 1 ELSE 0 END AS is_key
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
ORDER BY c.table_name, c.ordinal_position`,
		ForeignKeys: `
SELECT table_name,
       unnest(constraint_column_names),
       referenced_table,
       unnest(referenced_column_names)
FROM duckdb_constraints()
WHERE constraint_type = 'FOREIGN KEY' AND schema_name = current_schema()
ORDER BY table_name`,
	},
	Classify:  classifyError,
	ScanValue: scanValue,
	MapType:   mapType,
}

// Config holds the database file location.
type Config struct {
	Path    string
	Threads int
}

// FromCredentials reads the file path from FilePath, falling back to Database.
func FromCredentials(creds models.Credentials) (*Config, error) {
	path := creds.FilePath
	if path == "" {
		path = creds.Database
	}
	if path == "" || path == ":memory:" {
		return nil, fmt.Errorf("file_path is required")
	}
	if strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("file_path must not contain '?' or '#'")
	}
	cfg := &Config{Path: path}
	if creds.Option("threads", "") != "" {
		if _, err := fmt.Sscanf(creds.Option("threads", ""), "%d", &cfg.Threads); err != nil || cfg.Threads < 1 {
			return nil, fmt.Errorf("invalid threads option: %q", creds.Option("threads", ""))
		}
	}
	return cfg, nil
}

// DSN returns the read-only connection string.
func (c *Config) DSN() string {
	dsn := c.Path + "?access_mode=READ_ONLY"
	if c.Threads > 0 {
		dsn += fmt.Sprintf("&threads=%d", c.Threads)
	}
	return dsn
}

// NewAdapter creates a DuckDB adapter for desc.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid duckdb config: %w", err)
	}
	dsn := cfg.DSN()

	return relational.New(relational.Config{
		Dialect:      Dialect,
		ConnectionID: desc.ID,
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreateSQLPool("duckdb", dsn, "duckdb", deps.Conns)
		},
	}), nil
}

func classifyError(err error) (apperrors.Kind, bool) {
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		switch duckErr.Type {
		case duckdb.ErrorTypePermission:
			return apperrors.KindPermission, true
		case duckdb.ErrorTypeConnection, duckdb.ErrorTypeIO:
			return apperrors.KindConnection, true
		}
	}
	return "", false
}

// scanValue converts go-duckdb's own value types into ones the normalizer
// understands.
func scanValue(v any, typeHint string) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		if x.Value == nil {
			return nil
		}
		return decimal.NewFromBigInt(x.Value, -int32(x.Scale))
	case duckdb.UUID:
		return uuid.UUID(x)
	case duckdb.Interval:
		return formatInterval(x)
	case []byte:
		if len(x) == 16 && strings.EqualFold(typeHint, "UUID") {
			if id, err := uuid.FromBytes(x); err == nil {
				return id
			}
		}
	}
	return v
}

func formatInterval(iv duckdb.Interval) string {
	var parts []string
	if iv.Months != 0 {
		parts = append(parts, fmt.Sprintf("%d months", iv.Months))
	}
	if iv.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d days", iv.Days))
	}
	if iv.Micros != 0 || len(parts) == 0 {
		parts = append(parts, (time.Duration(iv.Micros) * time.Microsecond).String())
	}
	return strings.Join(parts, " ")
}

// mapType covers DuckDB names outside the shared mapping. Nested types such
// as STRUCT(...) and MAP(...) come back as objects.
func mapType(native string) string {
	upper := strings.ToUpper(strings.TrimSpace(native))
	switch {
	case strings.HasPrefix(upper, "STRUCT"), strings.HasPrefix(upper, "MAP"), strings.HasPrefix(upper, "UNION"):
		return models.TypeObject
	case upper == "HUGEINT", upper == "UHUGEINT", upper == "VARINT":
		return models.TypeInteger
	case upper == "BLOB", upper == "BIT":
		return models.TypeBinary
	}
	return ""
}
