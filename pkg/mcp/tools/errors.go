package tools

import (
	"encoding/json"
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// Actionable failures are returned as tool results so the calling model can
// see them and retry, rather than as protocol errors the client may swallow.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors (invalid parameters, unknown connection).
// System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// engineErrorResult turns an engine error into a tool result. Internal errors
// are returned as Go errors so the server reports them as protocol failures.
func engineErrorResult(err error) (*mcp.CallToolResult, error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		return nil, err
	}

	details := map[string]any{"kind": string(kind)}
	if ce, ok := apperrors.As(err); ok {
		if ce.Stage != "" {
			details["stage"] = string(ce.Stage)
		}
		if ce.Suggestion != "" {
			details["suggestion"] = ce.Suggestion
		}
		details["retryable"] = ce.IsRetryable()
	}
	code := errorCode(err)
	if state := SQLState(err); state != "" {
		details["sqlstate"] = state
	}
	return NewErrorResultWithDetails(code, logging.SanitizeError(err), details), nil
}

// errorCode maps an engine error onto a stable snake_case code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "connection_not_found"
	case errors.Is(err, apperrors.ErrUnsupportedBackend):
		return "unsupported_backend"
	case errors.Is(err, apperrors.ErrConnectionLimitReached):
		return "connection_limit_reached"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return "credentials_unreadable"
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindConnection:
		return "connection_failed"
	case apperrors.KindPermission:
		return "permission_denied"
	case apperrors.KindLowConfidence:
		return "low_confidence"
	case apperrors.KindNoMatch:
		return "no_match"
	case apperrors.KindSafety:
		return "unsafe_query"
	case apperrors.KindUnsupported:
		return "unsupported_operation"
	case apperrors.KindExecution:
		return "execution_failed"
	case apperrors.KindTimeout:
		return "timeout"
	case apperrors.KindCancelled:
		return "cancelled"
	default:
		return "internal_error"
	}
}

// sqlStateRegex matches SQLSTATE codes in messages like "(SQLSTATE 42601)".
var sqlStateRegex = regexp.MustCompile(`\(SQLSTATE ([0-9A-Z]{5})\)`)

// SQLState extracts the SQLSTATE of a relational execution error, or "".
func SQLState(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if matches := sqlStateRegex.FindStringSubmatch(err.Error()); len(matches) >= 2 {
		return matches[1]
	}
	return ""
}
