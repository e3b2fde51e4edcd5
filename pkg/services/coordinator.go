package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/planner"
	"github.com/ekaya-inc/ekaya-ask/pkg/safety"
)

// AskOptions tune a single run.
type AskOptions struct {
	// TimeoutMs overrides the default run timeout when positive.
	TimeoutMs int `json:"timeoutMs,omitempty"`
	// ResultLimit lowers the row limit when positive. It cannot exceed the engine maximum.
	ResultLimit int `json:"resultLimit,omitempty"`
	// RecentEntities are the entities discussed most recently, newest first.
	RecentEntities []string `json:"recentEntities,omitempty"`
}

// Coordinator drives questions and native queries through introspection,
// planning, validation and the adapter, and turns every outcome into an
// envelope. Runs on one connection complete in submission order; runs on
// different connections are independent.
type Coordinator struct {
	registry  *ConnectionRegistry
	planner   *planner.Planner
	validator *safety.Validator
	cfg       config.EngineConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator over registry.
func NewCoordinator(registry *ConnectionRegistry, p *planner.Planner, validator *safety.Validator, cfg config.EngineConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		registry:  registry,
		planner:   p,
		validator: validator,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
		now:       time.Now,
	}
}

// queueSlot is a connection's FIFO turn. Whoever takes it must release it.
type queueSlot struct {
	release func()
	taken   bool
}

func (s *queueSlot) take() func() {
	s.taken = true
	return s.release
}

type invocationResult struct {
	result  *datasource.NormalizedResult
	err     error
	elapsed time.Duration
}

type invokeFunc func(ctx context.Context, inv *datasource.Invocation) (*datasource.NormalizedResult, error)

// Ask answers question on connection id. It never returns nil and never
// panics; failures are reported in the envelope's error.
func (c *Coordinator) Ask(ctx context.Context, id, question string, opts AskOptions) *models.ResultEnvelope {
	env := &models.ResultEnvelope{ConnectionID: id, Question: question}
	c.guard(ctx, env, func(conn *connection, slot *queueSlot) error {
		schema, err := c.registry.schema(ctx, conn, false)
		if err != nil {
			return err
		}

		intent, err := c.planner.Plan(ctx, schema, question, planner.Options{
			RecentEntities: opts.RecentEntities,
			ResultLimit:    opts.ResultLimit,
		})
		if err != nil {
			return err
		}
		env.Intent = intent
		metrics.ObserveConfidence(intent.Confidence)

		validated, err := c.validator.Validate(intent, conn.currentAdapter().Dialect())
		if err != nil {
			return err
		}
		return c.execute(ctx, conn, env, slot, opts, func(ctx context.Context, inv *datasource.Invocation) (*datasource.NormalizedResult, error) {
			return inv.Run(ctx, validated)
		})
	})
	return env
}

// Execute re-runs a native query, typically a hand-edited one from an earlier
// envelope, after re-validating it. The query must be in the connection's dialect.
func (c *Coordinator) Execute(ctx context.Context, id string, q *models.NativeQuery, opts AskOptions) *models.ResultEnvelope {
	env := &models.ResultEnvelope{ConnectionID: id, Query: q}
	c.guard(ctx, env, func(conn *connection, slot *queueSlot) error {
		if q == nil {
			return apperrors.New(apperrors.KindSafety, apperrors.StageValidate, "no native query to execute")
		}
		dialect := conn.currentAdapter().Dialect()
		native := *q
		if native.Dialect == "" {
			native.Dialect = dialect.Name
		}
		if native.Family == "" {
			native.Family = dialect.Family
		}
		if native.Dialect != dialect.Name || native.Family != dialect.Family {
			return apperrors.New(apperrors.KindUnsupported, apperrors.StageValidate,
				"query is written for %s but connection %s speaks %s", native.Dialect, id, dialect.Name)
		}
		if opts.ResultLimit > 0 {
			native.MaxRows = opts.ResultLimit
		}
		env.Query = &native
		return c.execute(ctx, conn, env, slot, opts, func(ctx context.Context, inv *datasource.Invocation) (*datasource.NormalizedResult, error) {
			return inv.RunNative(ctx, &native)
		})
	})
	return env
}

// guard resolves the connection, waits for its FIFO turn and runs body,
// converting errors and panics into the envelope.
func (c *Coordinator) guard(ctx context.Context, env *models.ResultEnvelope, body func(conn *connection, slot *queueSlot) error) {
	start := c.now()
	var family, dialect string
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Run panicked",
				zap.String("connection_id", env.ConnectionID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			c.fail(env, apperrors.New(apperrors.KindInternal, "", "internal error: %v", r))
		}
		outcome := metrics.OutcomeOK
		if env.Error != nil {
			outcome = env.Error.Kind
		}
		metrics.ObserveRun(family, dialect, outcome, c.now().Sub(start))
	}()

	conn, err := c.registry.lookup(env.ConnectionID)
	if err != nil {
		c.fail(env, err)
		return
	}
	d := conn.currentAdapter().Dialect()
	family, dialect = string(d.Family), d.Name

	metrics.AddQueued(conn.id, 1)
	release, err := conn.queue.acquire(ctx)
	metrics.AddQueued(conn.id, -1)
	if err != nil {
		c.fail(env, apperrors.FromContext(ctx, apperrors.StageQueue))
		return
	}
	slot := &queueSlot{release: release}
	defer func() {
		if !slot.taken {
			release()
		}
	}()

	c.registry.beginRun(conn)
	if err := body(conn, slot); err != nil {
		c.fail(env, err)
		c.registry.recordFailure(conn, err)
		return
	}
	c.registry.recordSuccess(conn)
}

// timeout returns the run's budget for materialize, execute and normalize.
func (c *Coordinator) timeout(opts AskOptions) time.Duration {
	if opts.TimeoutMs > 0 {
		return time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if c.cfg.DefaultTimeout > 0 {
		return c.cfg.DefaultTimeout
	}
	return 30 * time.Second
}

// execute runs invoke under the run timeout on a separate goroutine that owns
// the queue slot. When the context ends, the backend gets CancelGrace to
// return before the run is reported as cancelled or timed out anyway; the
// slot is held until the backend call really returns.
func (c *Coordinator) execute(ctx context.Context, conn *connection, env *models.ResultEnvelope, slot *queueSlot, opts AskOptions, invoke invokeFunc) error {
	execCtx, cancel := context.WithTimeout(ctx, c.timeout(opts))
	defer cancel()

	inv := datasource.NewInvocation(conn.currentAdapter(), c.validator)
	release := slot.take()
	done := make(chan invocationResult, 1)
	started := c.now()

	go func() {
		defer release()
		var res invocationResult
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Adapter panicked",
					zap.String("connection_id", conn.id),
					zap.Any("panic", r),
					zap.Stack("stack"))
				res = invocationResult{err: apperrors.New(apperrors.KindInternal, apperrors.StageExecute, "adapter failure: %v", r)}
			}
			done <- res
		}()
		res.result, res.err = invoke(execCtx, inv)
		res.elapsed = c.now().Sub(started)
	}()

	res, ok := c.await(execCtx, done)
	if q := inv.Query(); q != nil {
		env.Query = q
	}
	if !ok {
		ce := apperrors.FromContext(execCtx, apperrors.StageExecute)
		ce.Query = inv.Query()
		c.logger.Warn("Backend did not stop within the cancel grace period",
			zap.String("connection_id", conn.id),
			zap.String("state", string(inv.State())),
			zap.Duration("grace", c.cfg.CancelGrace))
		env.ExecutionTimeMs = milliseconds(c.now().Sub(started))
		return ce
	}

	env.ExecutionTimeMs = milliseconds(res.elapsed)
	if res.err != nil {
		return res.err
	}
	if env.Query != nil {
		metrics.ObserveExecute(env.Query.Dialect, env.ExecutionTimeMs)
	}

	env.Columns = res.result.Columns
	env.Rows = res.result.Rows
	env.RowCount = res.result.RowCount
	env.HasMore = res.result.HasMore
	for _, n := range res.result.Notes {
		env.AddNote(n)
	}
	c.logger.Debug("Run completed",
		zap.String("connection_id", conn.id),
		zap.Int("rows", env.RowCount),
		zap.Bool("has_more", env.HasMore),
		zap.Float64("execution_ms", env.ExecutionTimeMs))
	return nil
}

// await waits for the invocation. After ctx ends it allows CancelGrace for the
// backend to acknowledge; false means the grace period ran out.
func (c *Coordinator) await(ctx context.Context, done <-chan invocationResult) (invocationResult, bool) {
	select {
	case res := <-done:
		return res, true
	case <-ctx.Done():
	}

	grace := c.cfg.CancelGrace
	if grace <= 0 {
		grace = 200 * time.Millisecond
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case res := <-done:
		return res, true
	case <-timer.C:
		return invocationResult{}, false
	}
}

// fail records err on env, keeping the partial query and best-effort intent.
func (c *Coordinator) fail(env *models.ResultEnvelope, err error) {
	env.Error = apperrors.ToEnvelopeError(err)
	if ce, ok := apperrors.As(err); ok {
		if ce.Query != nil {
			env.Query = ce.Query
		}
		if ce.Intent != nil && env.Intent == nil {
			env.Intent = ce.Intent
		}
	}
	fields := []zap.Field{
		zap.String("connection_id", env.ConnectionID),
		zap.String("kind", env.Error.Kind),
		zap.String("stage", env.Error.Stage),
		zap.String("error", logging.SanitizeError(err)),
	}
	if env.Query != nil {
		fields = append(fields, zap.String("query", logging.SanitizeQuery(env.Query.String())))
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindNoMatch, apperrors.KindLowConfidence, apperrors.KindSafety, apperrors.KindUnsupported:
		c.logger.Info("Run rejected", fields...)
	default:
		c.logger.Warn("Run failed", fields...)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
