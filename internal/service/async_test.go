package service

import (
	"context"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/planeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTerminal(t *testing.T, svc *Service, id string) *AsyncExecutionStatus {
	t.Helper()
	var status *AsyncExecutionStatus
	require.Eventually(t, func() bool {
		var err error
		status, err = svc.Status(id)
		require.NoError(t, err)
		return status.CurrentState == StateComplete || status.CurrentState == StateError || status.CurrentState == StateCancelled
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestExecuteAsync_Completes(t *testing.T) {
	svc := newService(t, planeapi.NewMemoryAPI())

	id, err := svc.ExecuteAsync(context.Background(), actionflow.ExecuteRequest{
		ChatID: "c", MessageID: "m", Actions: projectAndIssue(), Context: requestContext,
	})
	require.NoError(t, err)

	status := waitTerminal(t, svc, id)
	assert.True(t, status.IsComplete)
	assert.False(t, status.HasError)
	assert.NotEmpty(t, status.BatchID)

	resp, err := svc.Result(id)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Summary.Completed)

	cancelled, err := svc.Cancel(id)
	require.NoError(t, err)
	assert.False(t, cancelled, "finished executions cannot be cancelled")

	assert.Equal(t, map[string]string{id: string(StateComplete)}, svc.ListAsyncExecutions())
	assert.Equal(t, 1, svc.CleanupCompletedExecutions(0))
	_, err = svc.Status(id)
	assert.Error(t, err)
}

func TestExecuteAsync_Cancel(t *testing.T) {
	api := planeapi.NewMemoryAPI(planeapi.WithLatency(300 * time.Millisecond))
	svc := newService(t, api)

	id, err := svc.ExecuteAsync(context.Background(), actionflow.ExecuteRequest{
		Actions: projectAndIssue(), Context: requestContext,
	})
	require.NoError(t, err)

	_, err = svc.Result(id)
	assert.Error(t, err, "result is not available while running")

	cancelled, err := svc.Cancel(id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	status := waitTerminal(t, svc, id)
	assert.Equal(t, StateCancelled, status.CurrentState)
	assert.True(t, status.HasError)

	_, err = svc.Result(id)
	require.Error(t, err)
	assert.Equal(t, actionflow.ErrCodeCancelled, actionflow.CodeOf(err))
	assert.Empty(t, api.Calls(), "the cancelled invocation never reached the API")
}

func TestExecuteAsync_UnknownID(t *testing.T) {
	svc := newService(t, planeapi.NewMemoryAPI())
	_, err := svc.Status("missing")
	assert.Error(t, err)
	_, err = svc.Result("missing")
	assert.Error(t, err)
	_, err = svc.Cancel("missing")
	assert.Error(t, err)
}
