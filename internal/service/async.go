package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/google/uuid"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	BatchID      string        `json:"batch_id,omitempty"`
	ChatID       string        `json:"chat_id,omitempty"`
	MessageID    string        `json:"message_id,omitempty"`
	CurrentState BatchState    `json:"current_state"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ExecuteAsync starts req in the background and returns its execution id.
// The execution is detached from ctx; use Cancel to stop it.
func (s *Service) ExecuteAsync(ctx context.Context, req actionflow.ExecuteRequest) (string, error) {
	executionID := uuid.New().String()
	bc := NewBatchContext(req)

	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	bc.cancel = cancel

	s.asyncExecutionsMutex.Lock()
	s.asyncExecutions[executionID] = bc
	s.asyncExecutionsMutex.Unlock()

	meta := map[string]interface{}{
		"execution_id": executionID,
		"chat_id":      req.ChatID,
		"message_id":   req.MessageID,
	}
	s.publish(ctx, eventbus.NewEvent(eventbus.EventAsyncBatchStarted, len(req.Actions), "service", meta))

	go func() {
		defer cancel()

		err := s.createStateMachine().Execute(asyncCtx, bc)

		eventType := eventbus.EventAsyncBatchSuccess
		metadata := map[string]interface{}{
			"execution_id": executionID,
			"batch_id":     bc.BatchID(),
			"duration_ms":  bc.TotalDuration().Milliseconds(),
		}
		switch {
		case bc.State() == StateCancelled:
			eventType = eventbus.EventAsyncBatchCancelled
		case err != nil:
			eventType = eventbus.EventAsyncBatchFailure
			stage, _ := bc.Failure()
			metadata["error"] = err.Error()
			metadata["error_stage"] = stage
		}
		s.publish(context.Background(), eventbus.NewEvent(eventType, bc.Response(), "service", metadata))
	}()

	return executionID, nil
}

func (s *Service) lookup(executionID string) (*BatchContext, error) {
	s.asyncExecutionsMutex.RLock()
	defer s.asyncExecutionsMutex.RUnlock()
	bc, exists := s.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	return bc, nil
}

// Status retrieves the current status of an async execution.
func (s *Service) Status(executionID string) (*AsyncExecutionStatus, error) {
	bc, err := s.lookup(executionID)
	if err != nil {
		return nil, err
	}

	state := bc.State()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		BatchID:      bc.BatchID(),
		ChatID:       bc.Request.ChatID,
		MessageID:    bc.Request.MessageID,
		CurrentState: state,
		Duration:     bc.TotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateError || state == StateCancelled,
	}
	if stage, lastErr := bc.Failure(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = stage
	}
	return status, nil
}

// Result retrieves the response of a finished async execution. A cancelled
// execution returns whatever response it produced along with the error.
func (s *Service) Result(executionID string) (*actionflow.Response, error) {
	bc, err := s.lookup(executionID)
	if err != nil {
		return nil, err
	}

	switch state := bc.State(); state {
	case StateComplete:
		return bc.Response(), nil
	case StateError, StateCancelled:
		stage, lastErr := bc.Failure()
		return bc.Response(), fmt.Errorf("execution failed during stage '%s': %w", stage, lastErr)
	default:
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", state)
	}
}

// Cancel cancels an ongoing async execution. It returns false when the
// execution had already finished.
func (s *Service) Cancel(executionID string) (bool, error) {
	bc, err := s.lookup(executionID)
	if err != nil {
		return false, err
	}
	if bc.IsTerminal() {
		return false, nil
	}
	if bc.cancel == nil {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	bc.cancel()
	return true, nil
}

// ListAsyncExecutions returns every async execution id with its current state.
func (s *Service) ListAsyncExecutions() map[string]string {
	s.asyncExecutionsMutex.RLock()
	defer s.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string, len(s.asyncExecutions))
	for id, bc := range s.asyncExecutions {
		result[id] = string(bc.State())
	}
	return result
}

// CleanupCompletedExecutions removes finished executions older than olderThan.
func (s *Service) CleanupCompletedExecutions(olderThan time.Duration) int {
	s.asyncExecutionsMutex.Lock()
	defer s.asyncExecutionsMutex.Unlock()

	count := 0
	for id, bc := range s.asyncExecutions {
		if !bc.IsTerminal() {
			continue
		}
		bc.mu.RLock()
		finished := bc.endTime
		bc.mu.RUnlock()
		if time.Since(finished) > olderThan {
			delete(s.asyncExecutions, id)
			count++
		}
	}
	return count
}
