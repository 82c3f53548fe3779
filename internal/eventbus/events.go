package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Batch execution events
	EventBatchExecutionStarted   EventType = "batch_execution_started"
	EventBatchExecutionSuccess   EventType = "batch_execution_success"
	EventBatchExecutionFailure   EventType = "batch_execution_failure"
	EventBatchExecutionCancelled EventType = "batch_execution_cancelled"

	// Orchestrator events
	EventRoundStarted   EventType = "round_started"
	EventRoundCompleted EventType = "round_completed"
	EventDeadlock       EventType = "deadlock_detected"

	// Action execution events
	EventActionExecutionStarted EventType = "action_execution_started"
	EventActionExecutionSuccess EventType = "action_execution_success"
	EventActionExecutionFailure EventType = "action_execution_failure"
	EventActionSkipped          EventType = "action_skipped"
	EventActionExtractionFailed EventType = "action_extraction_failure"

	// Async batch events
	EventAsyncBatchStarted   EventType = "async_batch_started"
	EventAsyncBatchSuccess   EventType = "async_batch_success"
	EventAsyncBatchFailure   EventType = "async_batch_failure"
	EventAsyncBatchCancelled EventType = "async_batch_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// BatchPayload is attached to batch-level events.
type BatchPayload struct {
	BatchID   string `json:"batch_id"`
	Strategy  string `json:"strategy,omitempty"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// ActionPayload is attached to action-level events.
type ActionPayload struct {
	BatchID  string `json:"batch_id"`
	ActionID string `json:"action_id"`
	ToolName string `json:"tool_name"`
	Sequence int    `json:"sequence"`
	Round    int    `json:"round,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, draining queued events
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}
