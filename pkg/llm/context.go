package llm

import (
	"context"
	"net/http"
)

type contextKey string

const requestIDKey contextKey = "llm_request_id"

// requestIDHeader correlates provider-side logs with an engine run.
const requestIDHeader = "X-Request-Id"

// WithRequestID attaches the id sent as X-Request-Id on provider calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id attached by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDTransport copies the context's request id onto outgoing requests.
type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := RequestID(req.Context()); id != "" {
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &requestIDTransport{base: http.DefaultTransport}}
}
