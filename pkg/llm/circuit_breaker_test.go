package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

func newTestBreaker(threshold int, resetAfter time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())

	allowed, err = cb.Allow()
	assert.False(t, allowed)
	assert.ErrorContains(t, err, "circuit breaker open")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	allowed, err := cb.Allow()
	require.True(t, allowed)
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	allowed, err = cb.Allow()
	assert.False(t, allowed)
	assert.ErrorContains(t, err, "half-open")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	allowed, _ = cb.Allow()
	require.True(t, allowed)
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestGuardedClient_RetriesTransientErrors(t *testing.T) {
	calls := 0
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("status code: 503, service unavailable")
		}
		return &GenerateResponseResult{Content: "ok"}, nil
	}
	cb, _ := newTestBreaker(5, time.Minute)
	g := NewGuardedClient(mock, cb, &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, zaptest.NewLogger(t))

	res, err := g.GenerateResponse(context.Background(), "q", "s", 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestGuardedClient_OpensAndFailsFast(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		return nil, errors.New("invalid api key")
	}
	cb, _ := newTestBreaker(2, time.Minute)
	g := NewGuardedClient(mock, cb, nil, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := g.GenerateResponse(context.Background(), "q", "s", 0)
		assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	}
	assert.Len(t, mock.Prompts(), 2)

	_, err := g.GenerateResponse(context.Background(), "q", "s", 0)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
	assert.Len(t, mock.Prompts(), 2, "open circuit must not reach the provider")
}

func TestGuardedClient_CancellationDoesNotCountAsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, _, _ string, _ float64) (*GenerateResponseResult, error) {
		cancel()
		return nil, ctx.Err()
	}
	cb, _ := newTestBreaker(1, time.Minute)
	g := NewGuardedClient(mock, cb, nil, zaptest.NewLogger(t))

	_, err := g.GenerateResponse(ctx, "q", "s", 0)
	assert.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}
