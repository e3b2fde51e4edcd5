package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
)

func TestNewFromConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)

	client, err := NewFromConfig(config.InferenceConfig{Provider: "openai", Model: "gpt-4o", BreakerThreshold: 3, BreakerResetAfter: time.Minute}, logger)
	require.NoError(t, err)
	guarded, ok := client.(*GuardedClient)
	require.True(t, ok)
	assert.IsType(t, &Client{}, guarded.inner)
	assert.Equal(t, 3, guarded.breaker.threshold)

	client, err = NewFromConfig(config.InferenceConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModel())
	assert.IsType(t, &AnthropicClient{}, client.(*GuardedClient).inner)
}

func TestNewFromConfig_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewFromConfig(config.InferenceConfig{Provider: "keyword"}, logger)
	assert.ErrorContains(t, err, "not a language model provider")

	_, err = NewFromConfig(config.InferenceConfig{Provider: "anthropic", Model: "claude"}, logger)
	assert.ErrorContains(t, err, "create anthropic client")
}
