package recorder

import (
	"context"
	"sync"

	"github.com/ZanzyTHEbar/actionflow"
)

// Memory keeps flow steps in process. It is the default recorder.
type Memory struct {
	mu    sync.RWMutex
	steps map[actionflow.FlowRef][]actionflow.ExecutionResult
	order []actionflow.FlowRef
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{steps: make(map[actionflow.FlowRef][]actionflow.ExecutionResult)}
}

// RecordSteps appends results under ref.
func (m *Memory) RecordSteps(ctx context.Context, ref actionflow.FlowRef, results []actionflow.ExecutionResult) error {
	if err := validRef(ref); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return actionflow.NewRecorderError("record", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.steps[ref]; !ok {
		m.order = append(m.order, ref)
	}
	m.steps[ref] = append(m.steps[ref], results...)
	return nil
}

// Steps returns the steps recorded for ref. An empty BatchID matches every
// batch of the message.
func (m *Memory) Steps(ctx context.Context, ref actionflow.FlowRef) ([]actionflow.ExecutionResult, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []actionflow.ExecutionResult
	for _, key := range m.order {
		if key.ChatID != ref.ChatID || key.MessageID != ref.MessageID {
			continue
		}
		if ref.BatchID != "" && key.BatchID != ref.BatchID {
			continue
		}
		out = append(out, m.steps[key]...)
	}
	return out, nil
}

// Close implements actionflow.Recorder.
func (m *Memory) Close() error { return nil }

var _ actionflow.Recorder = (*Memory)(nil)
