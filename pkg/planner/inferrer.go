// Package planner turns questions into validated-shape query intents. The
// natural-language step is delegated to an Inferrer; the planner repairs the
// inferred shape against the schema and applies limit, sort and confidence policy.
package planner

import (
	"context"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// InferRequest is the input of one inference.
type InferRequest struct {
	// RequestID is the id the resulting intent will carry.
	RequestID string
	Schema    *models.SchemaModel
	Question  string
	// RecentEntities are entities referenced earlier in the conversation,
	// most recent first.
	RecentEntities []string
}

// Inference is an inferred intent shape. Intent is nil when nothing in the
// schema matches the question. References may be unresolved or misspelled;
// the planner repairs them.
type Inference struct {
	Intent     *models.QueryIntent
	Confidence float64
	// Rationale is an optional free-text justification from the provider.
	Rationale string
}

// Inferrer maps (schema, question) to an intent shape with a confidence.
type Inferrer interface {
	Infer(ctx context.Context, req InferRequest) (*Inference, error)
}

// InferrerFunc adapts a function to Inferrer.
type InferrerFunc func(ctx context.Context, req InferRequest) (*Inference, error)

// Infer implements Inferrer.
func (f InferrerFunc) Infer(ctx context.Context, req InferRequest) (*Inference, error) {
	return f(ctx, req)
}
