package service

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
	"github.com/ZanzyTHEbar/actionflow/internal/placeholder"
	"github.com/ZanzyTHEbar/actionflow/internal/report"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
)

// createStateMachine builds the request workflow.
func (s *Service) createStateMachine() *StateMachine {
	sm := NewStateMachine(s.eventBus)

	sm.RegisterTransition(StateInit, s.initTransition)
	sm.RegisterTransition(StateIngest, s.ingestTransition)
	sm.RegisterTransition(StateClassify, s.classifyTransition)
	sm.RegisterTransition(StateExecution, s.executionTransition)
	sm.RegisterTransition(StateRecording, s.recordingTransition)

	return sm
}

func (s *Service) initTransition(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
	if bc.Request.RollbackOnFailure {
		// Tools have no compensating actions; the flag is accepted and ignored.
		s.logger.Warn("rollback_on_failure requested but not supported; failed batches are not rolled back",
			"chat_id", bc.Request.ChatID, "message_id", bc.Request.MessageID)
		s.publish(ctx, eventbus.NewEvent(eventbus.EventSystemWarning,
			"rollback_on_failure is not supported", "service", map[string]interface{}{
				"chat_id":    bc.Request.ChatID,
				"message_id": bc.Request.MessageID,
			}))
	}
	return StateIngest, nil
}

func (s *Service) ingestTransition(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
	batch, err := placeholder.Ingest(bc.Request.Actions)
	if err != nil {
		return StateError, err
	}

	// Unknown tools are configuration errors and abort before anything runs.
	for _, a := range batch.Actions {
		if _, ok := s.invoker.Lookup(a.Action.EntityType, a.Action.ToolName); !ok {
			return StateError, actionflow.NewToolNotFoundError(actionflow.StageIngest, a.Action.EntityType, a.Action.ToolName)
		}
	}

	bc.setBatch(batch)
	telemetry.WithBatchID(s.logger, batch.ID).Debug("Batch ingested", "actions", len(batch.Actions))
	return StateClassify, nil
}

func (s *Service) classifyTransition(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
	bc.mu.RLock()
	batch := bc.batch
	bc.mu.RUnlock()

	bc.setMode(s.classifier.Classify(batch.Planned()))
	return StateExecution, nil
}

func (s *Service) executionTransition(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
	bc.mu.RLock()
	batch, mode := bc.batch, bc.mode
	bc.mu.RUnlock()

	start := time.Now()
	results, err := s.executor.Run(ctx, batch, mode, bc.Request.Context)
	if err != nil {
		var d *actionflow.DeadlockError
		if errors.As(err, &d) && len(d.Completed) > 0 {
			s.recordSteps(ctx, bc, batch.ID, d.Completed)
		}
		return StateError, err
	}

	resp := report.Build(batch.ID, len(batch.Actions), results, start, s.kinds)
	bc.setResponse(&resp)
	return StateRecording, nil
}

func (s *Service) recordingTransition(ctx context.Context, eb eventbus.EventBus, bc *BatchContext) (BatchState, error) {
	resp := bc.Response()
	s.recordSteps(ctx, bc, resp.BatchID, resp.Results)
	bc.Complete()
	return StateComplete, nil
}

// recordSteps persists results as flow steps when the request names a chat
// message. Failures are logged and published, never returned.
func (s *Service) recordSteps(ctx context.Context, bc *BatchContext, batchID string, results []actionflow.ExecutionResult) {
	if s.recorder == nil || bc.Request.ChatID == "" || bc.Request.MessageID == "" {
		return
	}

	ref := actionflow.FlowRef{ChatID: bc.Request.ChatID, MessageID: bc.Request.MessageID, BatchID: batchID}
	if err := s.recorder.RecordSteps(context.WithoutCancel(ctx), ref, results); err != nil {
		telemetry.WithBatchID(s.logger, batchID).Error("Failed to record flow steps", "error", err)
		s.publish(ctx, eventbus.NewEvent(eventbus.EventSystemError, err.Error(), "service", map[string]interface{}{
			"batch_id": batchID,
			"stage":    actionflow.StageRecording,
		}))
	}
}
