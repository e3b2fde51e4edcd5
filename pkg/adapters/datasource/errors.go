package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
)

// Classifier recognizes driver-specific errors, e.g. *pgconn.PgError code 42501.
// It returns false when the error is not one it knows.
type Classifier func(err error) (apperrors.Kind, bool)

// ClassifyError converts a driver error into a CoreError for stage.
// Context outcomes map to timeout/cancelled, the dialect classifier runs next,
// network failures become ConnectionError, and anything else is an
// ExecutionError carrying the native message verbatim.
func ClassifyError(ctx context.Context, err error, stage apperrors.Stage, classify Classifier) error {
	if err == nil {
		return nil
	}
	if ce, ok := apperrors.As(err); ok {
		return apperrors.EnsureStage(ce, stage)
	}
	if ctx != nil {
		if ce := apperrors.FromContext(ctx, stage); ce != nil {
			return ce
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &apperrors.CoreError{Kind: apperrors.KindTimeout, Stage: stage, Message: "query exceeded its time budget", Cause: err}
	case errors.Is(err, context.Canceled):
		return &apperrors.CoreError{Kind: apperrors.KindCancelled, Stage: stage, Message: "query was cancelled", Cause: err}
	}

	if classify != nil {
		if kind, ok := classify(err); ok {
			return connectionSafe(kind, stage, err)
		}
	}
	if IsConnectionFailure(err) {
		return connectionSafe(apperrors.KindConnection, stage, err)
	}

	kind := apperrors.KindExecution
	if stage == apperrors.StageIntrospect || stage == apperrors.StageConnect {
		kind = apperrors.KindConnection
	}
	return connectionSafe(kind, stage, err)
}

// connectionSafe strips credentials from connection-level messages; execution
// messages pass through verbatim.
func connectionSafe(kind apperrors.Kind, stage apperrors.Stage, err error) error {
	if kind == apperrors.KindConnection || kind == apperrors.KindPermission {
		return &apperrors.CoreError{Kind: kind, Stage: stage, Message: logging.SanitizeError(err), Cause: err}
	}
	return apperrors.Wrap(kind, stage, err, "")
}

// IsConnectionFailure reports whether err means the backend could not be reached.
func IsConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "no such host", "connection reset", "failed to connect", "server selection"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
