package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/extractor"
	"github.com/ZanzyTHEbar/actionflow/internal/placeholder"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// orchestration is the state of one dependent batch.
type orchestration struct {
	e          *Executor
	batch      *actionflow.Batch
	requestCtx map[string]interface{}
	deps       [][]int

	mu       sync.Mutex
	results  map[int]actionflow.ExecutionResult
	order    []actionflow.ExecutionResult
	entities map[string]int // Context key to the index of the action that produced it
}

// Orchestrate runs a dependent batch in rounds. Each round invokes every
// Ready action concurrently and waits for all of them; placeholders fed by
// the round's successes are then extracted and substituted. A round with
// nothing Ready while actions remain Pending is a deadlock.
//
// Results are returned in completion order. The only error is a deadlock.
func (e *Executor) Orchestrate(ctx context.Context, batch *actionflow.Batch, requestCtx map[string]interface{}) ([]actionflow.ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.orchestrate", trace.WithAttributes(
		attribute.String("batch.id", batch.ID),
	))
	defer span.End()

	o := &orchestration{
		e:          e,
		batch:      batch,
		requestCtx: requestCtx,
		deps:       dependencies(batch, e.rules),
		results:    make(map[int]actionflow.ExecutionResult),
		entities:   make(map[string]int),
	}
	logger := telemetry.WithBatchID(e.logger, batch.ID)

	round := 0
	defer func() {
		telemetry.OrchestratorRounds.Observe(float64(round))
		span.SetAttributes(attribute.Int("batch.rounds", round))
	}()

	for {
		o.cascade(ctx, round)

		pending := o.pending()
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			logger.Warn("Cancelling remaining actions", "pending", len(pending), "error", err)
			for _, i := range pending {
				o.fail(ctx, i, round, actionflow.NewCancelledError(actionflow.StageExecution, err))
			}
			break
		}

		ready := o.ready(pending)
		if len(ready) == 0 {
			d := o.deadlock(pending)
			logger.Error("Deadlock detected", "blocked_actions", d.BlockedActions, "blocked_placeholders", d.BlockedPlaceholders)
			e.publish(ctx, eventbus.NewEvent(eventbus.EventDeadlock, eventbus.BatchPayload{
				BatchID: batch.ID, Strategy: "dependent", Total: len(batch.Actions),
				Completed: len(d.Completed), Error: d.Error(),
			}, "orchestrator", nil))
			return nil, actionflow.NewDeadlockError(d)
		}

		round++
		e.metrics.recordRound()
		succeeded := o.runRound(ctx, round, ready)
		o.resolve(ctx, round, succeeded)
	}

	return o.completed(), nil
}

// dependencies lists, per action, the actions it must wait for: placeholder
// sources plus every action whose tool is an implicit prerequisite of its tool.
func dependencies(batch *actionflow.Batch, ruleSet *rules.Set) [][]int {
	byTool := make(map[string][]int)
	for i, a := range batch.Actions {
		byTool[a.Action.ToolName] = append(byTool[a.Action.ToolName], i)
	}

	deps := make([][]int, len(batch.Actions))
	for i, a := range batch.Actions {
		seen := map[int]bool{i: true}
		for _, s := range a.Sources() {
			if !seen[s] {
				seen[s] = true
				deps[i] = append(deps[i], s)
			}
		}
		for _, prereq := range ruleSet.PrerequisitesOf(a.Action.ToolName) {
			for _, s := range byTool[prereq] {
				if !seen[s] {
					seen[s] = true
					deps[i] = append(deps[i], s)
				}
			}
		}
		sort.Ints(deps[i])
	}
	return deps
}

func (o *orchestration) pending() []int {
	var out []int
	for i, a := range o.batch.Actions {
		if !a.Status().Terminal() {
			out = append(out, i)
		}
	}
	return out
}

// ready returns the pending actions whose dependencies all succeeded and
// whose arguments hold no placeholder.
func (o *orchestration) ready(pending []int) []int {
	var out []int
	for _, i := range pending {
		a := o.batch.Actions[i]
		ok := !a.HasPlaceholders()
		for _, d := range o.deps[i] {
			if o.batch.Actions[d].Status() != actionflow.ActionStatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			a.SetStatus(actionflow.ActionStatusReady)
			out = append(out, i)
		}
	}
	return out
}

// cascade fails every pending action with a failed dependency, repeating
// until nothing changes so failures propagate transitively.
func (o *orchestration) cascade(ctx context.Context, round int) {
	for changed := true; changed; {
		changed = false
		for _, i := range o.pending() {
			for _, d := range o.deps[i] {
				if o.batch.Actions[d].Status() == actionflow.ActionStatusFailed {
					o.fail(ctx, i, round, actionflow.NewUpstreamError(
						o.batch.Actions[i].Action.ID, o.batch.Actions[d].Action.ID))
					changed = true
					break
				}
			}
		}
	}
}

// runRound invokes every ready action and waits for all of them. A failure
// never cancels the rest of the round.
func (o *orchestration) runRound(ctx context.Context, round int, ready []int) []int {
	ctx, span := o.e.tracer.Start(ctx, "orchestrator.round", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("round.size", len(ready)),
	))
	defer span.End()

	o.e.publish(ctx, eventbus.NewEvent(eventbus.EventRoundStarted, eventbus.BatchPayload{
		BatchID: o.batch.ID, Strategy: "dependent", Total: len(ready),
	}, "orchestrator", nil).WithMetadata("round", round))

	var (
		mu        sync.Mutex
		succeeded []int
	)
	p := pool.New().WithMaxGoroutines(o.e.maxWorkers)
	for _, i := range ready {
		p.Go(func() {
			res := o.e.invokeAction(ctx, o.batch, o.batch.Actions[i], round, o.requestCtx)
			o.record(i, res)
			if res.Success {
				mu.Lock()
				succeeded = append(succeeded, i)
				mu.Unlock()
			}
		})
	}
	p.Wait()

	sort.Ints(succeeded)
	o.e.publish(ctx, eventbus.NewEvent(eventbus.EventRoundCompleted, eventbus.BatchPayload{
		BatchID: o.batch.ID, Strategy: "dependent", Total: len(ready),
		Completed: len(succeeded), Failed: len(ready) - len(succeeded),
	}, "orchestrator", nil).WithMetadata("round", round))
	return succeeded
}

// resolve substitutes extracted values into every pending action that
// references one of the sources. A failed extraction or validation fails
// the dependent without invoking its tool.
func (o *orchestration) resolve(ctx context.Context, round int, sources []int) {
	if len(sources) == 0 {
		return
	}
	fresh := make(map[int]bool, len(sources))
	for _, s := range sources {
		fresh[s] = true
	}

	p := pool.New().WithMaxGoroutines(o.e.maxWorkers)
	for _, i := range o.pending() {
		a := o.batch.Actions[i]
		if !referencesAny(a, fresh) {
			continue
		}
		p.Go(func() {
			for _, name := range a.ArgNames() {
				v, err := o.substitute(ctx, name, a.Args[name], fresh)
				if err != nil {
					o.fail(ctx, i, round, err)
					return
				}
				a.Args[name] = v
			}
		})
	}
	p.Wait()
}

func referencesAny(a *actionflow.BatchAction, sources map[int]bool) bool {
	for _, s := range a.Sources() {
		if sources[s] {
			return true
		}
	}
	return false
}

// substitute returns v with every placeholder fed by sources replaced by a
// validated literal.
func (o *orchestration) substitute(ctx context.Context, field string, v actionflow.ArgValue, sources map[int]bool) (actionflow.ArgValue, error) {
	switch v.Type {
	case actionflow.ArgValuePlaceholder:
		if !sources[v.Ref.Source] {
			return v, nil
		}
		value, err := o.extract(ctx, field, *v.Ref)
		if err != nil {
			return v, err
		}
		return actionflow.Literal(value), nil
	case actionflow.ArgValueList:
		items := make([]actionflow.ArgValue, len(v.Items))
		for i, item := range v.Items {
			sub, err := o.substitute(ctx, field, item, sources)
			if err != nil {
				return v, err
			}
			items[i] = sub
		}
		return actionflow.List(items...), nil
	}
	return v, nil
}

func (o *orchestration) extract(ctx context.Context, field string, ref actionflow.PlaceholderRef) (string, error) {
	o.mu.Lock()
	source := o.results[ref.Source]
	o.mu.Unlock()

	value, err := o.e.extractor.Extract(ctx, actionflow.ExtractionRequest{
		Field:       field,
		Placeholder: ref,
		Source:      source,
		SourceArgs:  o.batch.Actions[ref.Source].Action.Args,
	})
	if err != nil {
		if actionflow.IsError(err) {
			return "", err
		}
		return "", actionflow.NewExtractionError(field, err)
	}
	if err := extractor.Validate(field, value); err != nil {
		return "", actionflow.NewValidationError(actionflow.StageExtraction,
			fmt.Sprintf("extracted value for placeholder %s rejected", ref.Raw), err)
	}
	return value, nil
}

// record stores a terminal result and, on success, registers the entity it
// produced under its actual and planned names.
func (o *orchestration) record(i int, res actionflow.ExecutionResult) {
	a := o.batch.Actions[i]
	if res.Success && res.EntityInfo.Empty() {
		if entity := extractor.SourceEntity(res); !entity.Empty() {
			res.EntityInfo = entity
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[i] = res
	o.order = append(o.order, res)
	if res.Success {
		for _, key := range contextKeys(a.Action, res.EntityInfo) {
			o.entities[key] = i
		}
	}
}

func (o *orchestration) fail(ctx context.Context, i, round int, cause error) {
	o.record(i, o.e.skip(ctx, o.batch, o.batch.Actions[i], round, cause))
}

func (o *orchestration) completed() []actionflow.ExecutionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]actionflow.ExecutionResult, len(o.order))
	copy(out, o.order)
	return out
}

// contextKeys names an entity by "type:name" and bare name, for both the
// name the API returned and the name the planner used. The two differ when
// the API renamed the entity, e.g. after a conflict.
func contextKeys(action actionflow.PlannedAction, entity *actionflow.EntityRef) []string {
	entityType := action.EntityType
	var actual string
	if entity != nil {
		actual = entity.EntityName
		if entity.EntityType != "" {
			entityType = entity.EntityType
		}
	}
	if entityType == "" {
		entityType = placeholder.EntityNoun(action)
	}

	var keys []string
	for _, name := range []string{actual, action.ArgName()} {
		if name == "" {
			continue
		}
		keys = append(keys, strings.ToLower(entityType)+":"+name, name)
	}
	return keys
}

func (o *orchestration) deadlock(pending []int) *actionflow.DeadlockError {
	d := &actionflow.DeadlockError{Completed: o.completed()}

	seen := make(map[string]bool)
	for _, i := range pending {
		a := o.batch.Actions[i]
		d.BlockedActions = append(d.BlockedActions, fmt.Sprintf("%s (%s)", a.Action.ToolName, a.Action.ID))
		for _, name := range a.ArgNames() {
			for _, ref := range a.Args[name].Refs() {
				if !seen[ref.Raw] {
					seen[ref.Raw] = true
					d.BlockedPlaceholders = append(d.BlockedPlaceholders, ref.Raw)
				}
			}
		}
	}

	o.mu.Lock()
	for key := range o.entities {
		d.AvailableEntities = append(d.AvailableEntities, key)
	}
	o.mu.Unlock()
	sort.Strings(d.BlockedPlaceholders)
	sort.Strings(d.AvailableEntities)
	return d
}
