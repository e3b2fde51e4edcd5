// Package mssql adapts SQL Server and Azure SQL to the relational engine.
package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/relational"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// SQL Server error numbers.
const (
	errPermissionDenied       = 229
	errColumnPermissionDenied = 230
	errStatementNotPermitted  = 262
	errLoginFailed            = 18456
	errCannotOpenDatabase     = 4060
)

// Dialect is the SQL Server dialect. LIKE has no default escape character, so
// escaped wildcards need an explicit ESCAPE clause.
var Dialect = relational.Dialect{
	Name:         "mssql",
	Quote:        relational.QuoteBracket,
	Placeholder:  relational.AtPlaceholder,
	Limit:        relational.TopClause,
	LikeOperator: "LIKE",
	LikeEscape:   ` ESCAPE '\'`,
	Catalog:      relational.Catalog{Columns: columnsQuery, ForeignKeys: foreignKeysQuery},
	Classify:     classifyError,
	ScanValue:    scanValue,
	MapType:      mapType,
}

// NewAdapter creates a SQL Server adapter for desc.
func NewAdapter(ctx context.Context, desc *models.ConnectionDescriptor, deps datasource.Deps) (datasource.Adapter, error) {
	cfg, err := FromCredentials(desc.Credentials)
	if err != nil {
		return nil, fmt.Errorf("invalid mssql config: %w", err)
	}
	driver, connStr := cfg.DriverName(), cfg.ConnectionString()

	return relational.New(relational.Config{
		Dialect:      Dialect,
		ConnectionID: desc.ID,
		Deps:         deps,
		Open: func(ctx context.Context) (datasource.PoolConnector, error) {
			return datasource.CreateSQLPool(driver, connStr, "mssql", deps.Conns)
		},
	}), nil
}

func classifyError(err error) (apperrors.Kind, bool) {
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case errPermissionDenied, errColumnPermissionDenied, errStatementNotPermitted:
			return apperrors.KindPermission, true
		case errLoginFailed, errCannotOpenDatabase:
			return apperrors.KindConnection, true
		}
	}
	return "", false
}

// scanValue renders uniqueidentifier columns, which the driver returns as
// 16 raw bytes in SQL Server's mixed-endian layout.
func scanValue(v any, typeHint string) any {
	b, ok := v.([]byte)
	if !ok || len(b) != 16 || !strings.EqualFold(typeHint, "UNIQUEIDENTIFIER") {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}

// mapType handles the SQL Server names the shared mapping would misread.
// TIMESTAMP and ROWVERSION are row version counters, not points in time.
func mapType(native string) string {
	switch strings.ToUpper(strings.TrimSpace(native)) {
	case "TIMESTAMP", "ROWVERSION":
		return models.TypeBinary
	case "SMALLMONEY", "MONEY":
		return models.TypeDecimal
	case "DATETIMEOFFSET", "DATETIME2", "SMALLDATETIME":
		return models.TypeTimestamp
	case "HIERARCHYID", "GEOGRAPHY", "GEOMETRY", "SQL_VARIANT":
		return models.TypeString
	}
	return ""
}
