// Package executor runs ingested batches with one of three strategies:
// single, parallel for independent batches, or the dependency-resolving
// orchestrator for batches whose actions feed each other.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/classifier"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/extractor"
	"github.com/ZanzyTHEbar/actionflow/internal/report"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs batches against a ToolInvoker.
type Executor struct {
	invoker    actionflow.ToolInvoker
	extractor  actionflow.ValueExtractor
	rules      *rules.Set
	bus        eventbus.EventBus
	maxWorkers int
	logger     *slog.Logger
	tracer     trace.Tracer

	metrics ExecutorMetrics
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithMaxWorkers bounds the number of concurrent tool invocations.
func WithMaxWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithExtractor sets the value extractor used to resolve placeholders.
func WithExtractor(x actionflow.ValueExtractor) ExecutorOption {
	return func(e *Executor) {
		e.extractor = x
	}
}

// WithRules sets the implicit dependency table.
func WithRules(r *rules.Set) ExecutorOption {
	return func(e *Executor) {
		e.rules = r
	}
}

// WithEventBus publishes batch and action lifecycle events.
func WithEventBus(bus eventbus.EventBus) ExecutorOption {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Executor. Without an extractor the rule-based one is used.
func New(invoker actionflow.ToolInvoker, options ...ExecutorOption) *Executor {
	e := &Executor{
		invoker:    invoker,
		maxWorkers: 5,
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.extractor == nil {
		e.extractor = extractor.NewRuleExtractor(e.logger)
	}
	return e
}

// Metrics returns a snapshot of the executor's counters.
func (e *Executor) Metrics() ExecutorMetrics {
	return e.metrics.Copy()
}

// Run executes the batch with the strategy chosen for mode. The returned
// error is structural (deadlock); per-action failures live in the results.
func (e *Executor) Run(ctx context.Context, batch *actionflow.Batch, mode classifier.Mode, requestCtx map[string]interface{}) ([]actionflow.ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
		attribute.String("batch.strategy", string(mode)),
		attribute.Int("batch.size", len(batch.Actions)),
	))
	defer span.End()

	logger := telemetry.WithBatchID(e.logger, batch.ID)
	logger.Info("Starting batch execution", "strategy", mode, "actions", len(batch.Actions))
	e.emitBatch(ctx, eventbus.EventBatchExecutionStarted, eventbus.BatchPayload{
		BatchID: batch.ID, Strategy: string(mode), Total: len(batch.Actions),
	})

	start := time.Now()
	var (
		results []actionflow.ExecutionResult
		err     error
	)
	switch mode {
	case classifier.ModeSingle:
		results = e.ExecuteSingle(ctx, batch, requestCtx)
	case classifier.ModeIndependent:
		results = e.ExecuteParallel(ctx, batch, requestCtx)
	case classifier.ModeDependent:
		results, err = e.Orchestrate(ctx, batch, requestCtx)
	default:
		err = actionflow.NewInternalError(actionflow.StageExecution, fmt.Sprintf("unknown strategy %q", mode), nil)
	}

	payload := eventbus.BatchPayload{BatchID: batch.ID, Strategy: string(mode), Total: len(batch.Actions)}
	for _, r := range results {
		if r.Success {
			payload.Completed++
		} else {
			payload.Failed++
		}
	}

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
		payload.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Batch execution aborted", "error", err, "duration", time.Since(start))
		e.emitBatch(ctx, eventbus.EventBatchExecutionFailure, payload)
	case ctx.Err() != nil:
		outcome = "cancelled"
		logger.Warn("Batch execution cancelled", "completed", payload.Completed, "failed", payload.Failed)
		e.emitBatch(context.WithoutCancel(ctx), eventbus.EventBatchExecutionCancelled, payload)
	default:
		if payload.Failed > 0 {
			outcome = "partial"
		}
		m := e.metrics.Copy()
		logger.Info(fmt.Sprintf("Executor metrics (executed=%d, successful=%d, failed=%d, skipped=%d, rounds=%d)",
			m.ActionsExecuted, m.ActionsSuccessful, m.ActionsFailed, m.ActionsSkipped, m.Rounds),
			"duration", time.Since(start))
		e.emitBatch(ctx, eventbus.EventBatchExecutionSuccess, payload)
	}
	telemetry.BatchesTotal.WithLabelValues(string(mode), outcome).Inc()

	return results, err
}

// ExecuteSingle invokes the only action of the batch.
func (e *Executor) ExecuteSingle(ctx context.Context, batch *actionflow.Batch, requestCtx map[string]interface{}) []actionflow.ExecutionResult {
	results := make([]actionflow.ExecutionResult, 0, len(batch.Actions))
	for _, a := range batch.Actions {
		results = append(results, e.invokeAction(ctx, batch, a, 0, requestCtx))
	}
	return results
}

// ExecuteParallel invokes every action concurrently, bounded by the worker
// limit. A failing action never cancels its siblings. Results are returned
// in completion order.
func (e *Executor) ExecuteParallel(ctx context.Context, batch *actionflow.Batch, requestCtx map[string]interface{}) []actionflow.ExecutionResult {
	var (
		mu      sync.Mutex
		results = make([]actionflow.ExecutionResult, 0, len(batch.Actions))
	)

	p := pool.New().WithMaxGoroutines(e.maxWorkers)
	for _, a := range batch.Actions {
		p.Go(func() {
			res := e.invokeAction(ctx, batch, a, 0, requestCtx)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	p.Wait()

	return results
}

// invokeAction runs one action's tool with its current concrete arguments.
// Every outcome, including an unknown tool or a cancelled context, becomes
// a terminal ExecutionResult.
func (e *Executor) invokeAction(ctx context.Context, batch *actionflow.Batch, a *actionflow.BatchAction, round int, requestCtx map[string]interface{}) actionflow.ExecutionResult {
	res := actionflow.NewResult(a.Action)
	logger := telemetry.WithActionID(telemetry.WithBatchID(e.logger, batch.ID), a.Action.ID, a.Action.ToolName)
	payload := eventbus.ActionPayload{
		BatchID: batch.ID, ActionID: a.Action.ID, ToolName: a.Action.ToolName,
		Sequence: a.Action.Sequence, Round: round,
	}

	if err := ctx.Err(); err != nil {
		return e.skip(ctx, batch, a, round, actionflow.NewCancelledError(actionflow.StageExecution, err))
	}

	category, ok := e.invoker.Lookup(a.Action.EntityType, a.Action.ToolName)
	if !ok {
		return e.skip(ctx, batch, a, round,
			actionflow.NewToolNotFoundError(actionflow.StageInvocation, a.Action.EntityType, a.Action.ToolName))
	}

	a.SetStatus(actionflow.ActionStatusRunning)
	e.emitAction(ctx, eventbus.EventActionExecutionStarted, payload)
	logger.Debug("Invoking tool", "category", category, "round", round)

	start := time.Now()
	inv, err := e.invoke(ctx, actionflow.ToolCall{
		Category:   category,
		ToolName:   a.Action.ToolName,
		EntityType: a.Action.EntityType,
		Args:       a.ConcreteArgs(),
		Context:    requestCtx,
	})
	duration := time.Since(start)
	res.ExecutedAt = time.Now().UTC()

	switch {
	case err != nil:
		res.Success = false
		res.Error = err.Error()
		res.ErrorCode = actionflow.CodeOf(err)
		if res.ErrorCode == "" {
			res.ErrorCode = actionflow.ErrCodeToolExecution
		}
		res.Result = "❌ " + res.Error
	case inv.OK:
		res.Success = true
		res.Result = inv.Message
		res.EntityInfo = inv.Entity
	default:
		res.Success = false
		res.Result = inv.Message
		res.Error = inv.Error
		if res.Error == "" {
			res.Error = inv.Message
		}
		res.Error = report.CondenseError(res.Error)
		res.ErrorCode = actionflow.ErrCodeToolExecution
	}

	e.metrics.recordInvocation(res, duration)
	if res.Success {
		a.SetStatus(actionflow.ActionStatusSucceeded)
		logger.Info("Action succeeded", "duration", duration)
		e.emitAction(ctx, eventbus.EventActionExecutionSuccess, payload)
	} else {
		a.SetStatus(actionflow.ActionStatusFailed)
		payload.Error = res.Error
		logger.Warn("Action failed", "error", res.Error, "code", res.ErrorCode, "duration", duration)
		e.emitAction(ctx, eventbus.EventActionExecutionFailure, payload)
	}
	return res
}

// invoke calls the tool, turning a panic into an execution error for this action only.
func (e *Executor) invoke(ctx context.Context, call actionflow.ToolCall) (inv actionflow.InvocationResult, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		inv, err = e.invoker.Invoke(ctx, call)
	})
	if r := pc.Recovered(); r != nil {
		e.logger.Error("Tool panicked", "tool", call.ToolName, "panic", r.Value, "stack", string(r.Stack))
		return actionflow.InvocationResult{}, actionflow.NewToolExecutionError(actionflow.StageInvocation, call.ToolName, fmt.Errorf("panic: %v", r.Value))
	}
	return inv, err
}

// skip marks an action Failed without invoking its tool.
func (e *Executor) skip(ctx context.Context, batch *actionflow.Batch, a *actionflow.BatchAction, round int, cause error) actionflow.ExecutionResult {
	res := actionflow.NewResult(a.Action)
	res.Success = false
	res.Error = cause.Error()
	var afErr *actionflow.Error
	if errors.As(cause, &afErr) {
		res.Error = afErr.Message
		if afErr.Cause != nil && afErr.Code != actionflow.ErrCodeCancelled {
			res.Error = fmt.Sprintf("%s: %v", afErr.Message, afErr.Cause)
		}
	}
	res.ErrorCode = actionflow.CodeOf(cause)
	res.Result = "❌ " + res.Error
	a.SetStatus(actionflow.ActionStatusFailed)
	e.metrics.recordSkipped(res)

	payload := eventbus.ActionPayload{
		BatchID: batch.ID, ActionID: a.Action.ID, ToolName: a.Action.ToolName,
		Sequence: a.Action.Sequence, Round: round, Error: res.Error,
	}
	eventType := eventbus.EventActionSkipped
	if res.ErrorCode == actionflow.ErrCodeExtraction || res.ErrorCode == actionflow.ErrCodeValidation {
		eventType = eventbus.EventActionExtractionFailed
	}
	telemetry.WithActionID(telemetry.WithBatchID(e.logger, batch.ID), a.Action.ID, a.Action.ToolName).
		Warn("Action not invoked", "reason", res.Error, "code", res.ErrorCode)
	e.emitAction(context.WithoutCancel(ctx), eventType, payload)
	return res
}

func (e *Executor) emitBatch(ctx context.Context, t eventbus.EventType, payload eventbus.BatchPayload) {
	e.publish(ctx, eventbus.NewEvent(t, payload, "executor", nil))
}

func (e *Executor) emitAction(ctx context.Context, t eventbus.EventType, payload eventbus.ActionPayload) {
	e.publish(ctx, eventbus.NewEvent(t, payload, "executor", nil))
}

func (e *Executor) publish(ctx context.Context, evt eventbus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Debug("Event not published", "type", evt.Type(), "error", err)
	}
}
