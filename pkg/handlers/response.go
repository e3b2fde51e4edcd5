package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
)

// ApiResponse is the standard wrapper for non-envelope responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps an engine error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrUnsupportedBackend):
		return http.StatusBadRequest, "unsupported_backend"
	case errors.Is(err, apperrors.ErrConnectionLimitReached):
		return http.StatusConflict, "connection_limit_reached"
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindConnection:
		return http.StatusBadGateway, "connection_failed"
	case apperrors.KindPermission:
		return http.StatusForbidden, "permission_denied"
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case apperrors.KindCancelled:
		return http.StatusRequestTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeEngineError writes err with a status derived from its kind.
func writeEngineError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := errorStatus(err)
	message := logging.SanitizeError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("error", message))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeBadRequest(w http.ResponseWriter, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
