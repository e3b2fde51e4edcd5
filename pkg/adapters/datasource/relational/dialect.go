// Package relational holds the SQL machinery shared by every relational
// adapter: statement building, execution over database/sql and catalog
// introspection. Engine packages contribute a Dialect and a connection opener.
package relational

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// LimitStyle selects how a row bound is rendered.
type LimitStyle int

const (
	// LimitClause appends "LIMIT n".
	LimitClause LimitStyle = iota
	// TopClause prefixes the select list with "TOP (n)".
	TopClause
)

// Catalog holds the introspection queries of one engine.
//
// Columns must return (table, column, data_type, is_nullable, is_key) rows
// ordered by table and ordinal position, with is_nullable 'YES'/'NO' and
// is_key 0/1. ForeignKeys returns (from_table, from_column, to_table,
// to_column) rows and may be empty when the engine exposes none.
type Catalog struct {
	Columns     string
	ForeignKeys string
}

// Dialect describes one SQL engine.
type Dialect struct {
	Name        string
	Quote       func(ident string) string
	Placeholder func(n int) string
	Limit       LimitStyle
	// LikeOperator implements contains/starts_with; ILIKE where the engine has it.
	LikeOperator string
	// LikeEscape is appended to LIKE comparisons, e.g. " ESCAPE '\\'", for
	// engines where backslash is not the default escape character.
	LikeEscape string
	Catalog    Catalog
	// Classify recognizes engine error codes such as permission denials.
	Classify datasource.Classifier
	// ScanValue converts driver-specific scan results into values the
	// normalizer understands. Optional.
	ScanValue func(v any, typeHint string) any
	// MapType overrides the shared native-to-portable type mapping.
	MapType func(native string) string
}

// Model returns the dialect tag carried by native queries.
func (d Dialect) Model() models.Dialect {
	return models.Dialect{Name: d.Name, Family: models.FamilyRelational}
}

func (d Dialect) mapType(native string) string {
	if d.MapType != nil {
		if t := d.MapType(native); t != "" {
			return t
		}
	}
	return MapType(native)
}

// QuoteDouble quotes an identifier with ANSI double quotes.
func QuoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteBacktick quotes an identifier the MySQL way.
func QuoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// QuoteBracket quotes an identifier the SQL Server way, like QUOTENAME.
func QuoteBracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// DollarPlaceholder renders $1, $2, ...
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuestionPlaceholder renders ? for every position.
func QuestionPlaceholder(int) string { return "?" }

// AtPlaceholder renders @p1, @p2, ... as go-mssqldb expects.
func AtPlaceholder(n int) string { return fmt.Sprintf("@p%d", n) }
