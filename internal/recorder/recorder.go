// Package recorder persists executed actions as flow steps of the chat
// message that planned them.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/actionflow"
)

// Execution status values stored with each step.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StepTypeTool marks steps produced by tool execution.
const StepTypeTool = "tool"

// Open builds the recorder selected by cfg.Driver.
func Open(ctx context.Context, cfg actionflow.RecorderConfig, logger *slog.Logger) (actionflow.Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, logger)
	case "sqlite":
		return NewSQLite(cfg.DSN, logger)
	}
	return nil, actionflow.NewConfigurationError(fmt.Sprintf("unknown recorder driver %q", cfg.Driver), nil)
}

func status(r actionflow.ExecutionResult) string {
	if r.Success {
		return StatusSuccess
	}
	return StatusFailed
}

func encodeStep(r actionflow.ExecutionResult) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal execution data: %w", err)
	}
	return data, nil
}

func decodeStep(data []byte) (actionflow.ExecutionResult, error) {
	var r actionflow.ExecutionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("unmarshal execution data: %w", err)
	}
	return r, nil
}

func validRef(ref actionflow.FlowRef) error {
	if ref.ChatID == "" || ref.MessageID == "" {
		return actionflow.NewRecorderError("validate", fmt.Errorf("chat_id and message_id are required"))
	}
	return nil
}
