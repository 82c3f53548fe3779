package actionflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_FormatAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewToolExecutionError(StageInvocation, "projects_create", cause)

	assert.Equal(t, "[invocation:TOOL_EXECUTION_ERROR] execution failed for tool 'projects_create': boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeToolExecution, CodeOf(fmt.Errorf("wrapped: %w", err)))
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(NewPlanningError("unmatched placeholder", nil)))
	assert.True(t, IsStructural(NewDeadlockError(&DeadlockError{})))
	assert.True(t, IsStructural(NewToolNotFoundError(StageIngest, "projects", "nope")))
	assert.False(t, IsStructural(NewExtractionError("project_id", nil)))
	assert.False(t, IsStructural(errors.New("plain")))
}

func TestDeadlockError_CarriesCompletedResults(t *testing.T) {
	d := &DeadlockError{
		BlockedPlaceholders: []string{"<id of project: X>"},
		AvailableEntities:   []string{"project:Demo"},
		Completed:           []ExecutionResult{{ToolName: "projects_create", Success: true}},
	}
	err := NewDeadlockError(d)

	var got *DeadlockError
	require.True(t, errors.As(err, &got))
	assert.Len(t, got.Completed, 1)
	assert.Contains(t, err.Error(), "<id of project: X>")
}

func TestNewCancelledError_Message(t *testing.T) {
	assert.Equal(t, "execution cancelled", NewCancelledError(StageExecution, context.Canceled).Message)
	assert.Contains(t, NewCancelledError(StageExecution, context.DeadlineExceeded).Message, "deadline")
}
