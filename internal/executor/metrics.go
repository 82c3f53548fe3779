package executor

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
)

// ExecutorMetrics tracks statistics about batch execution.
type ExecutorMetrics struct {
	ActionsExecuted    int
	ActionsSuccessful  int
	ActionsFailed      int
	ActionsSkipped     int // Failed without invoking the tool
	ExtractionFailures int
	Rounds             int
	TotalDuration      time.Duration
	LongestActionTime  time.Duration
	ShortestActionTime time.Duration

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ExecutorMetrics{
		ActionsExecuted:    m.ActionsExecuted,
		ActionsSuccessful:  m.ActionsSuccessful,
		ActionsFailed:      m.ActionsFailed,
		ActionsSkipped:     m.ActionsSkipped,
		ExtractionFailures: m.ExtractionFailures,
		Rounds:             m.Rounds,
		TotalDuration:      m.TotalDuration,
		LongestActionTime:  m.LongestActionTime,
		ShortestActionTime: m.ShortestActionTime,
	}
}

func (m *ExecutorMetrics) recordInvocation(res actionflow.ExecutionResult, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ActionsExecuted++
	m.TotalDuration += d
	if d > m.LongestActionTime {
		m.LongestActionTime = d
	}
	if m.ShortestActionTime == 0 || (d < m.ShortestActionTime && d > 0) {
		m.ShortestActionTime = d
	}
	if res.Success {
		m.ActionsSuccessful++
	} else {
		m.ActionsFailed++
	}
	telemetry.ActionsTotal.WithLabelValues(res.ToolName, statusLabel(res)).Inc()
}

func (m *ExecutorMetrics) recordSkipped(res actionflow.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ActionsSkipped++
	m.ActionsFailed++
	if res.ErrorCode == actionflow.ErrCodeExtraction || res.ErrorCode == actionflow.ErrCodeValidation {
		m.ExtractionFailures++
	}
	telemetry.ActionsTotal.WithLabelValues(res.ToolName, statusLabel(res)).Inc()
}

func (m *ExecutorMetrics) recordRound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rounds++
}

func statusLabel(res actionflow.ExecutionResult) string {
	if res.Success {
		return "succeeded"
	}
	if res.ErrorCode != "" {
		return res.ErrorCode
	}
	return "failed"
}
