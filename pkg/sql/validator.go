// Package sql provides validation utilities for SQL and CQL statement text.
package sql

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrMultipleStatements indicates the query contains multiple statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates there is nothing to execute.
	ErrEmptyStatement = errors.New("empty statement")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	for _, tok := range scan(normalized) {
		if tok.semicolon {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// Keywords returns the upper-cased bare words of a statement in order,
// skipping string literals, quoted identifiers and comments.
func Keywords(sqlQuery string) []string {
	var words []string
	for _, tok := range scan(sqlQuery) {
		if tok.word != "" {
			words = append(words, tok.word)
		}
	}
	return words
}

type token struct {
	word      string
	semicolon bool
}

// scan walks the statement outside of quoted regions and comments.
// Quoting covers 'strings', "identifiers", `mysql identifiers` and [mssql identifiers].
func scan(sqlQuery string) []token {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBacktick
		stateBracket
		stateLineComment
		stateBlockComment
	)

	var tokens []token
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, token{word: strings.ToUpper(word.String())})
			word.Reset()
		}
	}

	runes := []rune(sqlQuery)
	state := stateNormal
	prev := rune(0)

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case c == ';':
				flush()
				tokens = append(tokens, token{semicolon: true})
			case c == '\'':
				flush()
				state = stateSingleQuote
			case c == '"':
				flush()
				state = stateDoubleQuote
			case c == '`':
				flush()
				state = stateBacktick
			case c == '[':
				flush()
				state = stateBracket
			case c == '-' && next == '-':
				flush()
				state = stateLineComment
				i++
			case c == '/' && next == '*':
				flush()
				state = stateBlockComment
				i++
			case unicode.IsLetter(c) || c == '_' || (word.Len() > 0 && unicode.IsDigit(c)):
				word.WriteRune(c)
			default:
				flush()
			}
		case stateSingleQuote:
			// '' re-enters immediately on the next quote, which keeps us in the string
			if c == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if c == '"' && prev != '\\' {
				state = stateNormal
			}
		case stateBacktick:
			if c == '`' {
				state = stateNormal
			}
		case stateBracket:
			if c == ']' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
		prev = c
	}
	flush()
	return tokens
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
