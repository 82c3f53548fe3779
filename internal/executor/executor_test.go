package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/classifier"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/placeholder"
	"github.com/ZanzyTHEbar/actionflow/internal/planeapi"
	"github.com/ZanzyTHEbar/actionflow/internal/registry"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockInvoker creates an entity named after the "name" argument for every call.
type mockInvoker struct {
	execFunc func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error)
	missing  map[string]bool

	mu    sync.Mutex
	calls []actionflow.ToolCall
}

func (m *mockInvoker) Invoke(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.execFunc != nil {
		return m.execFunc(ctx, call)
	}
	return created(call), nil
}

func (m *mockInvoker) Lookup(entityType, toolName string) (string, bool) {
	if m.missing[toolName] {
		return "", false
	}
	return "mock", true
}

func (m *mockInvoker) toolCalls() []actionflow.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]actionflow.ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockInvoker) callFor(tool string) (actionflow.ToolCall, bool) {
	for _, c := range m.toolCalls() {
		if c.ToolName == tool {
			return c, true
		}
	}
	return actionflow.ToolCall{}, false
}

func created(call actionflow.ToolCall) actionflow.InvocationResult {
	name, _ := call.Args["name"].(string)
	return actionflow.InvocationResult{
		OK:      true,
		Message: fmt.Sprintf("✅ Created '%s'", name),
		Entity: &actionflow.EntityRef{
			EntityID:   uuid.New().String(),
			EntityName: name,
			EntityType: placeholder.EntityNoun(actionflow.PlannedAction{ToolName: call.ToolName}),
		},
	}
}

func ingest(t *testing.T, actions ...actionflow.PlannedAction) *actionflow.Batch {
	t.Helper()
	batch, err := placeholder.Ingest(actions)
	require.NoError(t, err)
	return batch
}

func byTool(results []actionflow.ExecutionResult) map[string]actionflow.ExecutionResult {
	out := make(map[string]actionflow.ExecutionResult, len(results))
	for _, r := range results {
		out[r.ToolName] = r
	}
	return out
}

func TestExecuteSingle(t *testing.T) {
	inv := &mockInvoker{}
	e := New(inv)

	batch := ingest(t, actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}})
	results, err := e.Run(context.Background(), batch, classifier.ModeSingle, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "Alpha", results[0].EntityInfo.EntityName)
	assert.Equal(t, 1, results[0].Sequence)
	assert.Equal(t, actionflow.ActionStatusSucceeded, batch.Actions[0].Status())
}

func TestExecuteParallel_RunsConcurrently(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			time.Sleep(100 * time.Millisecond)
			return created(call), nil
		},
	}
	e := New(inv, WithMaxWorkers(5))

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "feature"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "chore"}},
	)

	start := time.Now()
	results, err := e.Run(context.Background(), batch, classifier.ModeIndependent, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Less(t, elapsed, 250*time.Millisecond, "independent actions should overlap")
}

func TestExecuteParallel_PartialFailure(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			if call.Args["name"] == "broken" {
				return actionflow.InvocationResult{OK: false, Message: "❌ tool failed: HTTP 400", Error: "HTTP 400"}, nil
			}
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "ok-1"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "broken"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "ok-2"}},
	)
	results, err := e.Run(context.Background(), batch, classifier.ModeIndependent, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
			assert.Equal(t, "HTTP 400", r.Error)
			assert.Equal(t, actionflow.ErrCodeToolExecution, r.ErrorCode)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Len(t, inv.toolCalls(), 3)
}

func TestExecuteParallel_PanickingToolFailsOnlyItsAction(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			if call.Args["name"] == "boom" {
				panic("nil map write")
			}
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "ok"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "boom"}},
	)
	var results []actionflow.ExecutionResult
	require.NotPanics(t, func() {
		var err error
		results, err = e.Run(context.Background(), batch, classifier.ModeIndependent, nil)
		require.NoError(t, err)
	})
	require.Len(t, results, 2)

	for _, r := range results {
		if r.ActionID == batch.Actions[1].Action.ID {
			assert.False(t, r.Success)
			assert.Equal(t, actionflow.ErrCodeToolExecution, r.ErrorCode)
			assert.Contains(t, r.Error, "panic: nil map write")
		} else {
			assert.True(t, r.Success)
		}
	}
	assert.Equal(t, actionflow.ActionStatusFailed, batch.Actions[1].Status())
	assert.Equal(t, actionflow.ActionStatusSucceeded, batch.Actions[0].Status())
}

func TestOrchestrate_Chain(t *testing.T) {
	inv := &mockInvoker{}
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	var (
		mu     sync.Mutex
		rounds int
	)
	_, err := bus.Subscribe([]eventbus.EventType{eventbus.EventRoundStarted}, func(ctx context.Context, evt eventbus.Event) error {
		mu.Lock()
		rounds++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	e := New(inv, WithEventBus(bus))
	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "comments_create", Args: map[string]interface{}{
			"issue_id": "<id of workitem: Login bug>", "comment_html": "triaged",
		}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{
			"name": "Login bug", "project_id": "<id of project: Alpha>",
		}},
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
	)

	results, err := e.Run(context.Background(), batch, classifier.ModeDependent, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success, r.ToolName)
	}

	calls := inv.toolCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "projects_create", calls[0].ToolName)
	assert.Equal(t, "workitems_create", calls[1].ToolName)
	assert.Equal(t, "comments_create", calls[2].ToolName)

	got := byTool(results)
	assert.Equal(t, got["projects_create"].EntityInfo.EntityID, calls[1].Args["project_id"])
	assert.Equal(t, got["workitems_create"].EntityInfo.EntityID, calls[2].Args["issue_id"])

	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, rounds)
	assert.Equal(t, 3, e.Metrics().Rounds)
}

func TestOrchestrate_ReadyActionsShareARound(t *testing.T) {
	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A", "project_id": "<id of project: Alpha>"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "B", "project_id": "<id of project: Alpha>"}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, peak, "both work items become ready in the same round")
}

func TestOrchestrate_ListPlaceholders(t *testing.T) {
	inv := &mockInvoker{}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "B"}},
		actionflow.PlannedAction{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint 1"}},
		actionflow.PlannedAction{ToolName: "cycles_add_work_items", Args: map[string]interface{}{
			"cycle_id": "<id of cycle: Sprint 1>",
			"issues":   []interface{}{"<id of workitem: A>", "<id of workitem: B>"},
		}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)

	ids := make(map[string]string)
	for _, r := range results {
		if r.EntityInfo != nil {
			ids[r.EntityInfo.EntityName] = r.EntityInfo.EntityID
		}
	}
	call, ok := inv.callFor("cycles_add_work_items")
	require.True(t, ok)
	assert.Equal(t, ids["Sprint 1"], call.Args["cycle_id"])
	assert.Equal(t, []interface{}{ids["A"], ids["B"]}, call.Args["issues"])
}

func TestOrchestrate_MalformedExtractionIsNotInvoked(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			if call.ToolName == "projects_create" {
				// An identifier where an id is expected.
				return actionflow.InvocationResult{
					OK:      true,
					Message: "✅ Created project 'Alpha'",
					Entity:  &actionflow.EntityRef{EntityID: "ALPHA", EntityName: "Alpha", EntityType: "project"},
				}, nil
			}
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A", "project_id": "<id of project: Alpha>"}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := byTool(results)
	assert.True(t, got["projects_create"].Success)
	assert.False(t, got["workitems_create"].Success)
	assert.Equal(t, actionflow.ErrCodeValidation, got["workitems_create"].ErrorCode)
	assert.Contains(t, got["workitems_create"].Error, "requires UUID format")

	_, invoked := inv.callFor("workitems_create")
	assert.False(t, invoked)
	assert.Equal(t, 1, e.Metrics().ExtractionFailures)
}

func TestOrchestrate_UpstreamFailureCascades(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			if call.ToolName == "projects_create" {
				return actionflow.InvocationResult{OK: false, Message: "❌ tool failed: HTTP 409", Error: "HTTP 409"}, nil
			}
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A", "project_id": "<id of project: Alpha>"}},
		actionflow.PlannedAction{ToolName: "comments_create", Args: map[string]interface{}{"issue_id": "<id of workitem: A>"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)

	got := byTool(results)
	assert.True(t, got["labels_create"].Success)
	assert.Equal(t, actionflow.ErrCodeToolExecution, got["projects_create"].ErrorCode)
	assert.Equal(t, actionflow.ErrCodeUpstream, got["workitems_create"].ErrorCode)
	assert.Equal(t, actionflow.ErrCodeUpstream, got["comments_create"].ErrorCode)
	assert.Len(t, inv.toolCalls(), 2)
}

func TestOrchestrate_PanickingToolCascadesLikeAFailure(t *testing.T) {
	inv := &mockInvoker{
		execFunc: func(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			if call.ToolName == "projects_create" {
				panic(errors.New("decoder blew up"))
			}
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A", "project_id": "<id of project: Alpha>"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := byTool(results)
	assert.True(t, got["labels_create"].Success)
	assert.Equal(t, actionflow.ErrCodeToolExecution, got["projects_create"].ErrorCode)
	assert.Contains(t, got["projects_create"].Error, "decoder blew up")
	assert.Equal(t, actionflow.ErrCodeUpstream, got["workitems_create"].ErrorCode)
}

func TestOrchestrate_RuleCycleDeadlocks(t *testing.T) {
	inv := &mockInvoker{}
	ruleSet := rules.New(
		rules.Rule{Prerequisite: "modules_create", Dependent: "cycles_create"},
		rules.Rule{Prerequisite: "cycles_create", Dependent: "modules_create"},
	)
	e := New(inv, WithRules(ruleSet))

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint"}},
		actionflow.PlannedAction{ToolName: "modules_create", Args: map[string]interface{}{"name": "Auth"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
	)
	results, err := e.Run(context.Background(), batch, classifier.ModeDependent, nil)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Equal(t, actionflow.ErrCodeDeadlock, actionflow.CodeOf(err))
	assert.True(t, actionflow.IsStructural(err))

	var d *actionflow.DeadlockError
	require.True(t, errors.As(err, &d))
	assert.Len(t, d.BlockedActions, 2)
	require.Len(t, d.Completed, 1)
	assert.Equal(t, "labels_create", d.Completed[0].ToolName)
	assert.Contains(t, d.AvailableEntities, "label:bug")
}

func TestOrchestrate_PlaceholderCycleDeadlocks(t *testing.T) {
	inv := &mockInvoker{}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint", "module_id": "<id of module: Auth>"}},
		actionflow.PlannedAction{ToolName: "modules_create", Args: map[string]interface{}{"name": "Auth", "cycle_id": "<id of cycle: Sprint>"}},
	)
	_, err := e.Orchestrate(context.Background(), batch, nil)

	var d *actionflow.DeadlockError
	require.True(t, errors.As(err, &d))
	assert.Equal(t, []string{"<id of cycle: Sprint>", "<id of module: Auth>"}, d.BlockedPlaceholders)
	assert.Empty(t, d.Completed)
	assert.Empty(t, inv.toolCalls())
}

func TestOrchestrate_ImplicitRuleOrdersActions(t *testing.T) {
	inv := &mockInvoker{}
	e := New(inv, WithRules(rules.Default()))

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
		actionflow.PlannedAction{ToolName: "workitems_update", Args: map[string]interface{}{"work_item_id": uuid.New().String(), "priority": "high"}},
	)
	_, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)

	calls := inv.toolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "labels_create", calls[0].ToolName)
	assert.Equal(t, "workitems_update", calls[1].ToolName)
}

func TestOrchestrate_UnknownToolIsDistinguishable(t *testing.T) {
	inv := &mockInvoker{missing: map[string]bool{"projects_explode": true}}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_explode", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
	)
	results, err := e.Orchestrate(context.Background(), batch, nil)
	require.NoError(t, err)

	got := byTool(results)
	assert.Equal(t, actionflow.ErrCodeToolNotFound, got["projects_explode"].ErrorCode)
	assert.True(t, got["labels_create"].Success)
}

func TestOrchestrate_CancelledBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &mockInvoker{
		execFunc: func(_ context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
			cancel()
			return created(call), nil
		},
	}
	e := New(inv)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
		actionflow.PlannedAction{ToolName: "workitems_create", Args: map[string]interface{}{"name": "A", "project_id": "<id of project: Alpha>"}},
	)
	results, err := e.Orchestrate(ctx, batch, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := byTool(results)
	assert.True(t, got["projects_create"].Success)
	assert.Equal(t, actionflow.ErrCodeCancelled, got["workitems_create"].ErrorCode)
	assert.Len(t, inv.toolCalls(), 1)
}

func TestOrchestrate_AgainstRegistry(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	reg, err := registry.NewDefault(api, registry.WithToolOptions(registry.WithAppURL("https://app.example.com")))
	require.NoError(t, err)
	e := New(reg)

	batch := ingest(t,
		actionflow.PlannedAction{ToolName: "projects_create", EntityType: "project", Args: map[string]interface{}{"name": "Mobile App"}},
		actionflow.PlannedAction{ToolName: "workitems_create", EntityType: "workitem", Args: map[string]interface{}{
			"name": "Login screen", "project_id": "<id of project: Mobile App>",
		}},
	)
	results, err := e.Run(context.Background(), batch, classifier.ModeDependent, map[string]interface{}{"workspace_slug": "acme"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := byTool(results)
	project := got["projects_create"]
	issue := got["workitems_create"]
	require.True(t, project.Success, project.Error)
	require.True(t, issue.Success, issue.Error)
	assert.Equal(t, "MA", project.EntityInfo.EntityIdentifier)
	assert.Equal(t, "MA-1", issue.EntityInfo.IssueIdentifier)
	assert.Equal(t, "https://app.example.com/acme/browse/MA-1/", issue.EntityInfo.EntityURL)

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, project.EntityInfo.EntityID, calls[1].Args["project_id"])
	assert.False(t, calls[1].Start.Before(calls[0].End))
}

func TestContextKeys_PlannedAndActualNames(t *testing.T) {
	action := actionflow.PlannedAction{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}}
	entity := &actionflow.EntityRef{EntityName: "Alpha 2", EntityType: "Project"}

	keys := contextKeys(action, entity)
	assert.Equal(t, []string{"project:Alpha 2", "Alpha 2", "project:Alpha", "Alpha"}, keys)

	keys = contextKeys(action, nil)
	assert.Equal(t, []string{"project:Alpha", "Alpha"}, keys)
}
