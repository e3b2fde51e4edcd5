package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/prompts"
)

// inferenceTemperature keeps translations repeatable.
const inferenceTemperature = 0.0

// LLMInferrer asks a language model to translate the question.
type LLMInferrer struct {
	client llm.LLMClient
	logger *zap.Logger
}

// NewLLMInferrer creates an inferrer backed by client.
func NewLLMInferrer(client llm.LLMClient, logger *zap.Logger) *LLMInferrer {
	return &LLMInferrer{client: client, logger: logger.Named("llm-inferrer")}
}

func (i *LLMInferrer) Infer(ctx context.Context, req InferRequest) (*Inference, error) {
	ctx = llm.WithRequestID(ctx, req.RequestID)
	prompt := prompts.BuildIntentPrompt(req.Schema, req.Question, req.RecentEntities)
	result, err := i.client.GenerateResponse(ctx, prompt, prompts.BuildIntentSystemMessage(req.Schema.Family), inferenceTemperature)
	if err != nil {
		return nil, err
	}
	inf, err := decodeInference(result.Content)
	if err != nil {
		i.logger.Warn("Unusable model reply",
			zap.String("request_id", req.RequestID),
			zap.String("model", i.client.GetModel()),
			zap.Error(err))
		return nil, err
	}
	i.logger.Debug("Model inference",
		zap.String("request_id", req.RequestID),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.Float64("confidence", inf.Confidence))
	return inf, nil
}
