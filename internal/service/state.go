package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/classifier"
	"github.com/ZanzyTHEbar/actionflow/internal/eventbus"
)

// BatchState is the stage a batch request has reached.
type BatchState string

const (
	// StateInit is the initial state of the request
	StateInit BatchState = "init"
	// StateIngest resolves placeholders and checks tools
	StateIngest BatchState = "ingest"
	// StateClassify picks the execution strategy
	StateClassify BatchState = "classify"
	// StateExecution runs the batch
	StateExecution BatchState = "execution"
	// StateRecording persists flow steps
	StateRecording BatchState = "recording"
	// StateError represents an error state
	StateError BatchState = "error"
	// StateComplete represents the completed state
	StateComplete BatchState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled BatchState = "cancelled"
)

// BatchContext carries one request through the state machine. It is safe
// for concurrent readers while the machine runs.
type BatchContext struct {
	Request actionflow.ExecuteRequest

	mu           sync.RWMutex
	batch        *actionflow.Batch
	mode         classifier.Mode
	response     *actionflow.Response
	lastError    error
	errorStage   string
	currentState BatchState

	startTime       time.Time
	endTime         time.Time
	stateStartTimes map[BatchState]time.Time
	cancel          context.CancelFunc
}

// NewBatchContext creates a context for req in StateInit.
func NewBatchContext(req actionflow.ExecuteRequest) *BatchContext {
	now := time.Now()
	return &BatchContext{
		Request:         req,
		currentState:    StateInit,
		startTime:       now,
		stateStartTimes: map[BatchState]time.Time{StateInit: now},
	}
}

// State returns the current state.
func (bc *BatchContext) State() BatchState {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.currentState
}

// Response returns the batch response once execution has produced one.
func (bc *BatchContext) Response() *actionflow.Response {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.response
}

// Failure returns the stage of the last error and the error itself.
func (bc *BatchContext) Failure() (string, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.errorStage, bc.lastError
}

// BatchID returns the id assigned at ingestion, or "".
func (bc *BatchContext) BatchID() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.batch == nil {
		return ""
	}
	return bc.batch.ID
}

// IsTerminal checks if the current state is Complete, Error or Cancelled.
func (bc *BatchContext) IsTerminal() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.isTerminal()
}

func (bc *BatchContext) isTerminal() bool {
	return bc.currentState == StateComplete || bc.currentState == StateError || bc.currentState == StateCancelled
}

func (bc *BatchContext) setState(state BatchState) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.isTerminal() {
		return
	}
	bc.currentState = state
	bc.stateStartTimes[state] = time.Now()
}

func (bc *BatchContext) setBatch(b *actionflow.Batch) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.batch = b
}

func (bc *BatchContext) setMode(m classifier.Mode) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.mode = m
}

func (bc *BatchContext) setResponse(r *actionflow.Response) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.response = r
}

// SetError records err and transitions to StateError.
func (bc *BatchContext) SetError(err error, stage string) {
	bc.finish(StateError, err, stage)
}

// SetCancelled records the cancellation and transitions to StateCancelled.
func (bc *BatchContext) SetCancelled(err error, stage string) {
	bc.finish(StateCancelled, err, stage)
}

// Complete marks the request as complete.
func (bc *BatchContext) Complete() {
	bc.finish(StateComplete, nil, "")
}

func (bc *BatchContext) finish(state BatchState, err error, stage string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.isTerminal() {
		return
	}
	bc.lastError = err
	bc.errorStage = stage
	bc.currentState = state
	bc.endTime = time.Now()
	bc.stateStartTimes[state] = bc.endTime
}

// TotalDuration returns the duration of the request so far.
func (bc *BatchContext) TotalDuration() time.Duration {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.isTerminal() {
		return bc.endTime.Sub(bc.startTime)
	}
	return time.Since(bc.startTime)
}

// StateTransition runs one state and returns the next.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, bc *BatchContext) (BatchState, error)

// StateMachine drives a BatchContext through registered transitions.
type StateMachine struct {
	transitions map[BatchState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[BatchState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition for state.
func (sm *StateMachine) RegisterTransition(state BatchState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the context reaches a terminal state and
// returns the last error.
func (sm *StateMachine) Execute(ctx context.Context, bc *BatchContext) error {
	for !bc.IsTerminal() {
		current := bc.State()
		if err := ctx.Err(); err != nil {
			bc.SetCancelled(actionflow.NewCancelledError(string(current), err), string(current))
			break
		}

		transition, exists := sm.transitions[current]
		if !exists {
			bc.SetError(fmt.Errorf("no transition defined for state: %s", current), string(current))
			break
		}

		next, err := transition(ctx, sm.eventBus, bc)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				bc.SetCancelled(err, string(current))
			} else {
				bc.SetError(err, string(current))
			}
			continue
		}
		bc.setState(next)
	}

	_, err := bc.Failure()
	return err
}
