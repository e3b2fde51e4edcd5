package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/retry"
)

// Provider names accepted in inference configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewFromConfig creates the provider client named by cfg, wrapped with
// retries and a circuit breaker.
func NewFromConfig(cfg config.InferenceConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	var (
		client LLMClient
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		client, err = NewClient(clientCfg, logger)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("provider %q is not a language model provider", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: cfg.BreakerResetAfter,
	})
	return NewGuardedClient(client, breaker, retry.InferenceConfig(), logger), nil
}
