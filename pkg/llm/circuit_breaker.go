package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until ResetAfter has elapsed.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long an open circuit waits before probing again.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker stops calling an inference provider that keeps failing, so
// questions fail fast instead of each waiting out the provider's timeout.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = DefaultCircuitBreakerConfig().Threshold
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. An open circuit becomes
// half-open once ResetAfter has passed and admits one probe.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open: inference provider appears to be down (failed %d times, last failure %v ago)",
			cb.consecutiveFails, since.Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit breaker half-open: testing if inference provider has recovered")
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and trips the circuit at the threshold.
// A failed half-open probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// GuardedClient wraps a provider client with retries for transient errors and
// a circuit breaker across calls.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

// NewGuardedClient wraps inner. A nil retry config disables retries.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, retryCfg *retry.Config, logger *zap.Logger) *GuardedClient {
	if retryCfg == nil {
		retryCfg = &retry.Config{}
	}
	return &GuardedClient{inner: inner, breaker: breaker, retry: retryCfg, logger: logger.Named("llm-guard")}
}

// GenerateResponse implements LLMClient.
func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, NewError(ErrorTypeCircuit, err.Error(), false, nil)
	}
	result, err := retry.DoWithResult(ctx, g.retry, func() (*GenerateResponseResult, error) {
		r, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return r, nil
	})
	if err != nil {
		if ctx.Err() == nil {
			g.breaker.RecordFailure()
			g.logger.Warn("Inference call failed",
				zap.String("model", g.inner.GetModel()),
				zap.String("circuit", g.breaker.State().String()),
				zap.Error(err))
		}
		return nil, err
	}
	g.breaker.RecordSuccess()
	return result, nil
}

// GetModel implements LLMClient.
func (g *GuardedClient) GetModel() string { return g.inner.GetModel() }

// GetEndpoint implements LLMClient.
func (g *GuardedClient) GetEndpoint() string { return g.inner.GetEndpoint() }
