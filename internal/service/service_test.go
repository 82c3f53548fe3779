package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/classifier"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/planeapi"
	"github.com/ZanzyTHEbar/actionflow/internal/recorder"
	"github.com/ZanzyTHEbar/actionflow/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestContext = map[string]interface{}{"workspace_slug": "acme"}

func newService(t *testing.T, api *planeapi.MemoryAPI, opts ...Option) *Service {
	t.Helper()
	reg, err := registry.NewDefault(api, registry.WithToolOptions(registry.WithAppURL("https://app.example.com")))
	require.NoError(t, err)
	svc, err := New(reg, opts...)
	require.NoError(t, err)
	return svc
}

func projectAndIssue() []actionflow.PlannedAction {
	return []actionflow.PlannedAction{
		{ToolName: "projects_create", EntityType: "project", Args: map[string]interface{}{"name": "Mobile App"}},
		{ToolName: "workitems_create", EntityType: "workitem", Args: map[string]interface{}{
			"name": "Login screen", "project_id": "<id of project: Mobile App>",
		}},
	}
}

func TestExecute_ProjectAndIssue(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	rec := recorder.NewMemory()
	svc := newService(t, api, WithRecorder(rec))

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		ChatID: "chat-1", MessageID: "msg-1", Actions: projectAndIssue(), Context: requestContext,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, 2, resp.Summary.TotalPlanned)
	assert.Equal(t, 2, resp.Summary.Completed)
	assert.Equal(t, 0, resp.Summary.Failed)

	require.Len(t, resp.Actions, 2)
	assert.Equal(t, "create", resp.Actions[0].Action)
	assert.Equal(t, "MA", resp.Actions[0].ProjectIdentifier)
	assert.Equal(t, "MA", resp.Actions[1].ProjectIdentifier)
	require.NotNil(t, resp.Actions[1].Entity)
	assert.Equal(t, "MA-1", resp.Actions[1].Entity.IssueIdentifier)
	assert.Contains(t, resp.Actions[0].Message, "Mobile App")

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "projects_create", resp.Results[0].ToolName)
	assert.Equal(t, resp.ExecutedAt, resp.Results[0].ExecutedAt)

	calls := api.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, resp.Results[0].EntityInfo.EntityID, calls[1].Args["project_id"])

	steps, err := rec.Steps(context.Background(), actionflow.FlowRef{ChatID: "chat-1", MessageID: "msg-1", BatchID: resp.BatchID})
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestExecute_IndependentBatchRunsInParallel(t *testing.T) {
	api := planeapi.NewMemoryAPI(planeapi.WithLatency(100 * time.Millisecond))
	svc := newService(t, api)

	// Project-scoped tools need a project to exist first.
	setup, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		Actions: []actionflow.PlannedAction{{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}}},
		Context: requestContext,
	})
	require.NoError(t, err)
	projectID := setup.Results[0].EntityInfo.EntityID

	reqCtx := map[string]interface{}{"workspace_slug": "acme", "project_id": projectID}
	actions := []actionflow.PlannedAction{
		{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
		{ToolName: "labels_create", Args: map[string]interface{}{"name": "feature"}},
		{ToolName: "states_create", Args: map[string]interface{}{"name": "Review", "color": "#ffaa00", "group": "started"}},
	}
	mode, err := svc.Classify(actions)
	require.NoError(t, err)
	require.Equal(t, classifier.ModeIndependent, mode)

	start := time.Now()
	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{Actions: actions, Context: reqCtx})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, resp.Summary.Completed, "%+v", resp.Results)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestExecute_PartialFailure(t *testing.T) {
	api := planeapi.NewMemoryAPI(planeapi.WithFailure(registry.CategoryProjects, "create", "HTTP 409: project identifier already taken"))
	rec := recorder.NewMemory()
	svc := newService(t, api, WithRecorder(rec))

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		ChatID: "c", MessageID: "m",
		Actions: []actionflow.PlannedAction{
			{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
			{ToolName: "projects_create", Args: map[string]interface{}{"name": "Beta"}},
		},
		Context: requestContext,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Summary.Failed)
	for _, a := range resp.Actions {
		assert.False(t, a.Success)
		assert.Contains(t, a.Error, "HTTP 409")
	}

	steps, err := rec.Steps(context.Background(), actionflow.FlowRef{ChatID: "c", MessageID: "m"})
	require.NoError(t, err)
	assert.Len(t, steps, 2, "failed actions are recorded too")
}

func TestExecute_UnmatchedPlaceholderIsPlanningError(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	svc := newService(t, api)

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		Actions: []actionflow.PlannedAction{
			{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug", "project_id": "<id of project: Nowhere>"}},
			{ToolName: "states_create", Args: map[string]interface{}{"name": "Done"}},
		},
		Context: requestContext,
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, actionflow.ErrCodePlanning, actionflow.CodeOf(err))
	assert.True(t, actionflow.IsStructural(err))
	assert.Empty(t, api.Calls())
}

func TestExecute_DeadlockRecordsCompletedSteps(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	rec := recorder.NewMemory()
	svc := newService(t, api, WithRecorder(rec))

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		ChatID: "chat-9", MessageID: "msg-9",
		Actions: []actionflow.PlannedAction{
			{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
			{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint", "module_id": "<id of module: Auth>"}},
			{ToolName: "modules_create", Args: map[string]interface{}{"name": "Auth", "cycle_id": "<id of cycle: Sprint>"}},
		},
		Context: requestContext,
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, actionflow.ErrCodeDeadlock, actionflow.CodeOf(err))

	var d *actionflow.DeadlockError
	require.True(t, errors.As(err, &d))
	require.Len(t, d.Completed, 1)

	steps, err := rec.Steps(context.Background(), actionflow.FlowRef{ChatID: "chat-9", MessageID: "msg-9"})
	require.NoError(t, err)
	require.Len(t, steps, 1, "work done before the deadlock is recorded")
	assert.Equal(t, "projects_create", steps[0].ToolName)
	assert.True(t, steps[0].Success)
}

func TestExecute_UnknownToolAbortsBeforeExecution(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	svc := newService(t, api)

	_, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		Actions: []actionflow.PlannedAction{
			{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
			{ToolName: "projects_teleport", Args: map[string]interface{}{"name": "Beta"}},
		},
		Context: requestContext,
	})
	require.Error(t, err)
	assert.Equal(t, actionflow.ErrCodeToolNotFound, actionflow.CodeOf(err))
	assert.True(t, actionflow.IsStructural(err))
	assert.Empty(t, api.Calls())
}

func TestExecute_RetrievalToolsAreHiddenFromActions(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	svc := newService(t, api)

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		Actions: []actionflow.PlannedAction{
			{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}},
			{ToolName: "projects_list", Args: map[string]interface{}{}},
		},
		Context: requestContext,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "projects_create", resp.Actions[0].ToolName)
}

func TestExecute_RollbackFlagIsAccepted(t *testing.T) {
	api := planeapi.NewMemoryAPI()
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	warnings := make(chan eventbus.Event, 1)
	_, err := bus.Subscribe([]eventbus.EventType{eventbus.EventSystemWarning}, func(ctx context.Context, evt eventbus.Event) error {
		warnings <- evt
		return nil
	})
	require.NoError(t, err)
	svc := newService(t, api, WithEventBus(bus))

	resp, err := svc.Execute(context.Background(), actionflow.ExecuteRequest{
		Actions:           []actionflow.PlannedAction{{ToolName: "projects_create", Args: map[string]interface{}{"name": "Alpha"}}},
		Context:           requestContext,
		RollbackOnFailure: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Summary.Completed)

	require.NoError(t, bus.Close())
	select {
	case evt := <-warnings:
		assert.Equal(t, "service", evt.Source())
	default:
		t.Fatal("expected a system warning for rollback_on_failure")
	}
}

func TestClassify_RuleFlip(t *testing.T) {
	svc := newService(t, planeapi.NewMemoryAPI())

	independent := []actionflow.PlannedAction{
		{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
		{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint"}},
	}
	mode, err := svc.Classify(independent)
	require.NoError(t, err)
	assert.Equal(t, classifier.ModeIndependent, mode)

	withRule := []actionflow.PlannedAction{
		{ToolName: "workitems_update", Args: map[string]interface{}{"issue_id": "0d8f6a52-0a0b-4c44-9d5e-6b4c6bb1e7a1"}},
		{ToolName: "labels_create", Args: map[string]interface{}{"name": "bug"}},
	}
	mode, err = svc.Classify(withRule)
	require.NoError(t, err)
	assert.Equal(t, classifier.ModeDependent, mode)
}

func TestStateMachine_MissingTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	bc := NewBatchContext(actionflow.ExecuteRequest{})
	err := sm.Execute(context.Background(), bc)
	require.Error(t, err)
	assert.Equal(t, StateError, bc.State())
	stage, _ := bc.Failure()
	assert.Equal(t, string(StateInit), stage)
}

func TestStateMachine_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sm := NewStateMachine(nil)
	sm.RegisterTransition(StateInit, func(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
		t.Fatal("transition must not run on a cancelled context")
		return StateComplete, nil
	})
	bc := NewBatchContext(actionflow.ExecuteRequest{})
	err := sm.Execute(ctx, bc)
	assert.Equal(t, actionflow.ErrCodeCancelled, actionflow.CodeOf(err))
	assert.Equal(t, StateCancelled, bc.State())
	assert.True(t, errors.Is(err, context.Canceled))
}
