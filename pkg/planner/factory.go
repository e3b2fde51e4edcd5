package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
)

// Inference providers that do not talk to a language model.
const (
	ProviderKeyword = "keyword"
	ProviderWasm    = "wasm"
)

// Components is what NewFromConfig builds.
type Components struct {
	Inferrer  Inferrer
	Explainer Explainer
	// Close releases provider resources such as a loaded plugin.
	Close func(ctx context.Context) error
}

// NewFromConfig builds the configured inferrer and explainer. The explainer
// uses the model only when the provider is a model and LLMExplain is set.
func NewFromConfig(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger) (*Components, error) {
	c := &Components{
		Explainer: NewTemplateExplainer(),
		Close:     func(context.Context) error { return nil },
	}
	switch cfg.Provider {
	case "", ProviderKeyword:
		c.Inferrer = NewKeywordInferrer()
	case ProviderWasm:
		plugin, err := NewPluginInferrer(ctx, cfg.PluginPath, logger)
		if err != nil {
			return nil, err
		}
		c.Inferrer = plugin
		c.Close = plugin.Close
	case llm.ProviderOpenAI, llm.ProviderAnthropic:
		client, err := llm.NewFromConfig(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.Inferrer = NewLLMInferrer(client, logger)
		if cfg.LLMExplain {
			c.Explainer = NewLLMExplainer(client, logger)
		}
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
	logger.Info("Inference configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Bool("llm_explain", cfg.LLMExplain))
	return c, nil
}
