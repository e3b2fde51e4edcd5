package apperrors

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConnectionLimitReached = errors.New("connection limit reached")
	ErrUnsupportedBackend     = errors.New("unsupported backend type")
	ErrNotConnected           = errors.New("connection is not active")
	ErrCredentialsKeyMismatch = errors.New("connection credentials were sealed with a different key")
)

// Kind is the error taxonomy exposed on the wire.
type Kind string

const (
	KindConnection    Kind = "ConnectionError"
	KindPermission    Kind = "PermissionError"
	KindLowConfidence Kind = "LowConfidenceError"
	KindNoMatch       Kind = "NoMatchError"
	KindSafety        Kind = "SafetyError"
	KindUnsupported   Kind = "UnsupportedOperationError"
	KindExecution     Kind = "ExecutionError"
	KindTimeout       Kind = "TimeoutError"
	KindCancelled     Kind = "CancelledError"
	KindInternal      Kind = "InternalError"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageConnect     Stage = "connect"
	StageQueue       Stage = "queue"
	StageIntrospect  Stage = "introspect"
	StagePlan        Stage = "plan"
	StageValidate    Stage = "validate"
	StageMaterialize Stage = "materialize"
	StageExecute     Stage = "execute"
	StageNormalize   Stage = "normalize"
	StageExplain     Stage = "explain"
)

// CoreError is the single error type produced by the query engine.
type CoreError struct {
	Kind    Kind
	Stage   Stage
	Message string
	// Suggestion is a user-facing hint such as "try rephrasing".
	Suggestion string
	Cause      error
	// Intent is the best-effort intent for planner failures.
	Intent *models.QueryIntent
	// Query is the (possibly partial) native query that failed.
	Query *models.NativeQuery
}

func (e *CoreError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s during %s: %s", e.Kind, e.Stage, msg)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is matches another CoreError by kind, so errors.Is(err, ErrTimeout) works.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// IsRetryable reports whether a manual re-run is reasonable. The engine itself
// never retries execution.
func (e *CoreError) IsRetryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindCancelled
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrConnection    = &CoreError{Kind: KindConnection}
	ErrPermission    = &CoreError{Kind: KindPermission}
	ErrLowConfidence = &CoreError{Kind: KindLowConfidence}
	ErrNoMatch       = &CoreError{Kind: KindNoMatch}
	ErrSafety        = &CoreError{Kind: KindSafety}
	ErrUnsupported   = &CoreError{Kind: KindUnsupported}
	ErrExecution     = &CoreError{Kind: KindExecution}
	ErrTimeout       = &CoreError{Kind: KindTimeout}
	ErrCancelled     = &CoreError{Kind: KindCancelled}
)

// New creates a CoreError with a formatted message.
func New(kind Kind, stage Stage, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a CoreError around cause. The cause's message is kept verbatim
// unless a message is given.
func Wrap(kind Kind, stage Stage, cause error, format string, args ...any) *CoreError {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	} else if cause != nil {
		msg = cause.Error()
	}
	return &CoreError{Kind: kind, Stage: stage, Message: msg, Cause: cause}
}

// As extracts a CoreError from err's chain.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns err's kind, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if ce, ok := As(err); ok {
		return ce.Kind
	}
	return KindInternal
}

// FromContext converts a context error into the timeout or cancellation kind.
// Returns nil when ctx has not ended.
func FromContext(ctx context.Context, stage Stage) *CoreError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &CoreError{Kind: KindTimeout, Stage: stage, Message: "query exceeded its time budget", Cause: ctx.Err()}
	case errors.Is(ctx.Err(), context.Canceled):
		return &CoreError{Kind: KindCancelled, Stage: stage, Message: "query was cancelled", Cause: ctx.Err()}
	}
	return nil
}

// EnsureStage fills in the stage when an inner layer did not know it.
func EnsureStage(err error, stage Stage) *CoreError {
	if ce, ok := As(err); ok {
		if ce.Stage == "" {
			ce.Stage = stage
		}
		return ce
	}
	return &CoreError{Kind: KindInternal, Stage: stage, Message: err.Error(), Cause: err}
}

// ToEnvelopeError converts err into the wire error form.
func ToEnvelopeError(err error) *models.EnvelopeError {
	if err == nil {
		return nil
	}
	ce, ok := As(err)
	if !ok {
		return &models.EnvelopeError{Kind: string(KindInternal), Message: err.Error()}
	}
	msg := ce.Message
	if msg == "" && ce.Cause != nil {
		msg = ce.Cause.Error()
	}
	return &models.EnvelopeError{
		Kind:       string(ce.Kind),
		Message:    msg,
		Stage:      string(ce.Stage),
		Suggestion: ce.Suggestion,
		Retryable:  ce.IsRetryable(),
	}
}
