package sql

import (
	"fmt"
	"regexp"
	"strings"
)

// StatementType represents the type of a SQL/CQL statement.
type StatementType string

const (
	TypeSelect  StatementType = "SELECT"
	TypeInsert  StatementType = "INSERT"
	TypeUpdate  StatementType = "UPDATE"
	TypeDelete  StatementType = "DELETE"
	TypeCall    StatementType = "CALL"
	TypeDDL     StatementType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE
	TypeUnknown StatementType = "UNKNOWN" // Unrecognized or blocked statement types
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

// mutationKeywords are bare words that never appear in a read-only statement
// produced by the engine. Checked outside literals and quoted identifiers.
var mutationKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "EXEC": true, "EXECUTE": true, "CALL": true,
	"COPY": true, "ATTACH": true, "DETACH": true, "PRAGMA": true, "VACUUM": true,
	"BATCH": true, "INTO": true, "LOCK": true, "SET": true,
}

// DetectStatementType determines the type of statement based on the first keyword.
func DetectStatementType(sql string) StatementType {
	words := Keywords(sql)
	if len(words) == 0 {
		return TypeUnknown
	}

	switch words[0] {
	case "SELECT":
		return TypeSelect
	case "WITH":
		if modifyingCTEPattern.MatchString(sql) {
			return TypeUnknown
		}
		return TypeSelect
	case "INSERT":
		return TypeInsert
	case "UPDATE":
		return TypeUpdate
	case "DELETE":
		return TypeDelete
	case "CALL", "EXEC", "EXECUTE":
		return TypeCall
	case "CREATE", "ALTER", "DROP", "TRUNCATE":
		return TypeDDL
	default:
		return TypeUnknown
	}
}

// IsModifyingStatement returns true if the statement type can modify data.
func IsModifyingStatement(t StatementType) bool {
	switch t {
	case TypeInsert, TypeUpdate, TypeDelete, TypeCall, TypeDDL:
		return true
	default:
		return false
	}
}

// FindMutationKeyword returns the first mutation keyword outside literals, if any.
func FindMutationKeyword(sql string) (string, bool) {
	for _, w := range Keywords(sql) {
		if mutationKeywords[w] {
			return w, true
		}
	}
	return "", false
}

// StatementError represents a statement rejected by read-only validation.
type StatementError struct {
	Type    StatementType
	Keyword string
	Message string
}

func (e *StatementError) Error() string {
	return e.Message
}

// ValidateReadOnly accepts a single SELECT (or pure CTE) statement with no
// mutation keywords and returns it normalized.
func ValidateReadOnly(statement string) (string, error) {
	result := ValidateAndNormalize(statement)
	if result.Error != nil {
		return "", result.Error
	}

	stmtType := DetectStatementType(result.NormalizedSQL)
	if stmtType != TypeSelect {
		return "", &StatementError{
			Type:    stmtType,
			Message: fmt.Sprintf("only read statements are allowed, got %s", strings.ToLower(string(stmtType))),
		}
	}

	if kw, found := FindMutationKeyword(result.NormalizedSQL); found {
		return "", &StatementError{
			Type:    stmtType,
			Keyword: kw,
			Message: fmt.Sprintf("statement contains disallowed keyword %s", kw),
		}
	}

	return result.NormalizedSQL, nil
}
