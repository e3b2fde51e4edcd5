package sql

import (
	"errors"
	"testing"
)

func TestDetectStatementType(t *testing.T) {
	tests := []struct {
		sql  string
		want StatementType
	}{
		{"SELECT 1", TypeSelect},
		{"  select * from users", TypeSelect},
		{"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent", TypeSelect},
		{"WITH gone AS (DELETE FROM orders RETURNING *) SELECT * FROM gone", TypeUnknown},
		{"INSERT INTO users VALUES (1)", TypeInsert},
		{"UPDATE users SET name = 'x'", TypeUpdate},
		{"DELETE FROM users", TypeDelete},
		{"EXEC sp_who", TypeCall},
		{"DROP TABLE users", TypeDDL},
		{"/* hint */ SELECT 1", TypeSelect},
		{"BEGIN", TypeUnknown},
	}

	for _, tt := range tests {
		if got := DetectStatementType(tt.sql); got != tt.want {
			t.Errorf("DetectStatementType(%q) = %s, want %s", tt.sql, got, tt.want)
		}
	}
}

func TestValidateReadOnly(t *testing.T) {
	normalized, err := ValidateReadOnly(`SELECT "id", "name" FROM "users" WHERE "status" = $1 LIMIT 100;`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized != `SELECT "id", "name" FROM "users" WHERE "status" = $1 LIMIT 100` {
		t.Errorf("unexpected normalization: %q", normalized)
	}

	rejected := []string{
		"DELETE FROM users",
		"SELECT * INTO backup FROM users",
		"SELECT * FROM users FOR UPDATE",
		"SELECT 1; DROP TABLE users",
	}
	for _, stmt := range rejected {
		if _, err := ValidateReadOnly(stmt); err == nil {
			t.Errorf("ValidateReadOnly(%q) should fail", stmt)
		}
	}

	_, err = ValidateReadOnly("UPDATE users SET name = 'x'")
	var stmtErr *StatementError
	if !errors.As(err, &stmtErr) || stmtErr.Type != TypeUpdate {
		t.Errorf("expected StatementError with TypeUpdate, got %v", err)
	}
}
