package sql

import (
	"errors"
	"testing"
)

func TestValidateAndNormalize_ValidQueries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple select with trailing semicolon", "SELECT 1;", "SELECT 1"},
		{"leading and trailing whitespace", "  SELECT 1  ", "SELECT 1"},
		{"semicolon inside single quoted string", "SELECT * FROM users WHERE name = 'test;test'", "SELECT * FROM users WHERE name = 'test;test'"},
		{"semicolon inside double quoted identifier", `SELECT * FROM "table;name"`, `SELECT * FROM "table;name"`},
		{"semicolon inside backtick identifier", "SELECT * FROM `t;1`;", "SELECT * FROM `t;1`"},
		{"semicolon inside bracket identifier", "SELECT TOP (10) * FROM [t;1]", "SELECT TOP (10) * FROM [t;1]"},
		{"semicolon inside line comment", "SELECT 1 -- trailing; comment\n", "SELECT 1 -- trailing; comment"},
		{"SQL standard escaped single quote", "SELECT * FROM users WHERE name = 'O''Brien'", "SELECT * FROM users WHERE name = 'O''Brien'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if result.Error != nil {
				t.Fatalf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.expected {
				t.Errorf("got %q, want %q", result.NormalizedSQL, tt.expected)
			}
		})
	}
}

func TestValidateAndNormalize_MultipleStatements(t *testing.T) {
	inputs := []string{
		"SELECT 1; SELECT 2",
		"SELECT * FROM users; DROP TABLE users",
		"SELECT 1 /* block */; DELETE FROM t",
	}
	for _, input := range inputs {
		if result := ValidateAndNormalize(input); !errors.Is(result.Error, ErrMultipleStatements) {
			t.Errorf("ValidateAndNormalize(%q) error = %v, want ErrMultipleStatements", input, result.Error)
		}
	}

	if result := ValidateAndNormalize("   "); !errors.Is(result.Error, ErrEmptyStatement) {
		t.Errorf("expected ErrEmptyStatement, got %v", result.Error)
	}
}

func TestKeywords_SkipsLiteralsAndComments(t *testing.T) {
	got := Keywords(`SELECT "delete", 'drop table' FROM t /* update */ WHERE x = $1 -- insert`)
	want := []string{"SELECT", "FROM", "T", "WHERE", "X"}
	if len(got) != len(want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
