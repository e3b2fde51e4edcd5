// Package mysql adapts MySQL, MariaDB and PlanetScale to the relational engine.
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/relational"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// MySQL server error numbers.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied     = 1044
	errAccessDenied       = 1045
	errBadDB              = 1049
	errTableAccessDenied  = 1142
	errColumnAccessDenied = 1143
)

// Dialect is the MySQL SQL dialect.
var Dialect = relational.Dialect{
	Name:         "mysql",
	Quote:        relational.QuoteBacktick,
	Placeholder:  relational.QuestionPlaceholder,
	Limit:        relational.LimitClause,
	LikeOperator: "LIKE",
	Catalog: relational.Catalog{
		Columns: `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
       CASE WHEN c.column_key = 'PRI' THEN 1 ELSE 0 END AS is_key
FROM information_schema.columns c
WHERE c.table_schema = DATABASE()
ORDER BY c.table_name, c.ordinal_position`,
		ForeignKeys: `
SELECT table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
ORDER BY table_name, column_name`,
	},
	Classify: classifyError,
}

// NewAdapter creates a MySQL adapter for desc.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql config: %w", err)
	}
	dsn := cfg.FormatDSN()

	return relational.New(relational.Config{
		Dialect:      Dialect,
		ConnectionID: desc.ID,
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreateSQLPool("mysql", dsn, "mysql", deps.Conns)
		},
	}), nil
}

func classifyError(err error) (apperrors.Kind, bool) {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errDBAccessDenied, errTableAccessDenied, errColumnAccessDenied:
			return apperrors.KindPermission, true
		case errAccessDenied, errBadDB:
			return apperrors.KindConnection, true
		}
		return "", false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return apperrors.KindConnection, true
	}
	return "", false
}
