package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// InvocationState is the lifecycle of one adapter invocation.
type InvocationState string

const (
	StateIdle          InvocationState = "idle"
	StateMaterializing InvocationState = "materializing"
	StateExecuting     InvocationState = "executing"
	StateNormalizing   InvocationState = "normalizing"
	StateDone          InvocationState = "done"
	StateFailed        InvocationState = "failed"
)

var invocationTransitions = map[InvocationState]InvocationState{
	StateIdle:          StateMaterializing,
	StateMaterializing: StateExecuting,
	StateExecuting:     StateNormalizing,
	StateNormalizing:   StateDone,
}

// Invocation drives one intent through an adapter:
// Idle -> Materializing -> Executing -> Normalizing -> Done, with Failed
// reachable from any non-Idle state. It is not reusable.
type Invocation struct {
	adapter   Adapter
	validator *safety.Validator

	mu    sync.Mutex
	state InvocationState
	query *models.NativeQuery
}

// NewInvocation prepares an invocation in the Idle state.
func NewInvocation(adapter Adapter, validator *safety.Validator) *Invocation {
	return &Invocation{adapter: adapter, validator: validator, state: StateIdle}
}

// State returns the current state.
func (i *Invocation) State() InvocationState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Query returns the materialized query, or nil before materialization.
func (i *Invocation) Query() *models.NativeQuery {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.query
}

func (i *Invocation) advance(to InvocationState) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if to == StateFailed {
		if i.state == StateIdle || i.state == StateDone || i.state == StateFailed {
			return fmt.Errorf("invocation cannot fail from %s", i.state)
		}
		i.state = to
		return nil
	}
	if invocationTransitions[i.state] != to {
		return fmt.Errorf("invalid invocation transition %s -> %s", i.state, to)
	}
	i.state = to
	return nil
}

func (i *Invocation) fail(err error, stage apperrors.Stage) error {
	_ = i.advance(StateFailed)
	ce := apperrors.EnsureStage(err, stage)
	if ce.Query == nil {
		ce.Query = i.Query()
	}
	return ce
}

// Run materializes, re-validates, executes and normalizes v.
// Errors are *apperrors.CoreError carrying the stage and any materialized query.
func (i *Invocation) Run(ctx context.Context, v *safety.ValidatedIntent) (*NormalizedResult, error) {
	if err := i.advance(StateMaterializing); err != nil {
		return nil, err
	}
	q, err := i.adapter.Materialize(v)
	if err != nil {
		return nil, i.fail(err, apperrors.StageMaterialize)
	}
	q.IntentID = v.Intent().ID
	q.MaxRows = v.Intent().Limit
	i.mu.Lock()
	i.query = q
	i.mu.Unlock()

	if err := i.validator.ValidateNative(q); err != nil {
		return nil, i.fail(err, apperrors.StageValidate)
	}
	return i.execute(ctx, q)
}

// RunNative executes an already materialized (possibly hand-edited) query
// after re-validating it.
func (i *Invocation) RunNative(ctx context.Context, q *models.NativeQuery) (*NormalizedResult, error) {
	if err := i.advance(StateMaterializing); err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.query = q
	i.mu.Unlock()
	if err := i.validator.ValidateNative(q); err != nil {
		return nil, i.fail(err, apperrors.StageValidate)
	}
	return i.execute(ctx, q)
}

func (i *Invocation) execute(ctx context.Context, q *models.NativeQuery) (*NormalizedResult, error) {
	if err := i.advance(StateExecuting); err != nil {
		return nil, err
	}
	if ce := apperrors.FromContext(ctx, apperrors.StageExecute); ce != nil {
		return nil, i.fail(ce, apperrors.StageExecute)
	}
	raw, err := i.adapter.Execute(ctx, q)
	if err != nil {
		// The context outcome wins over whatever the driver reported for it.
		if ce := apperrors.FromContext(ctx, apperrors.StageExecute); ce != nil {
			return nil, i.fail(ce, apperrors.StageExecute)
		}
		return nil, i.fail(err, apperrors.StageExecute)
	}

	if err := i.advance(StateNormalizing); err != nil {
		return nil, err
	}
	result, err := i.adapter.Normalize(raw, q)
	if err != nil {
		return nil, i.fail(apperrors.Wrap(apperrors.KindInternal, apperrors.StageNormalize, err, ""), apperrors.StageNormalize)
	}
	if ce := apperrors.FromContext(ctx, apperrors.StageNormalize); ce != nil {
		return nil, i.fail(ce, apperrors.StageNormalize)
	}

	if err := i.advance(StateDone); err != nil {
		return nil, err
	}
	return result, nil
}
