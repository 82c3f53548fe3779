package actionflow

import "context"

// ToolInvoker turns a (category, tool) pair into a call against the remote API.
type ToolInvoker interface {
	// Invoke runs the tool. A returned error is a configuration or infrastructure
	// failure (unknown tool, cancelled context); remote API failures are reported
	// through InvocationResult.OK.
	Invoke(ctx context.Context, call ToolCall) (InvocationResult, error)

	// Lookup reports whether the tool exists, resolving its category.
	Lookup(entityType, toolName string) (category string, ok bool)
}

// ToolCall carries one invocation.
type ToolCall struct {
	Category   string
	ToolName   string
	EntityType string
	Args       map[string]interface{}
	Context    map[string]interface{} // Request context used for auto-fill
}

// ExtractionRequest describes a value to pull out of an upstream result.
type ExtractionRequest struct {
	Field       string          // Argument name being filled
	Placeholder PlaceholderRef  // What the planner asked for
	Source      ExecutionResult // Result of the referenced action
	SourceArgs  map[string]interface{}
}

// ValueExtractor locates a concrete value inside an upstream result.
type ValueExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (string, error)
}

// Recorder persists flow-step records for executed actions.
type Recorder interface {
	RecordSteps(ctx context.Context, ref FlowRef, results []ExecutionResult) error
	Steps(ctx context.Context, ref FlowRef) ([]ExecutionResult, error)
	Close() error
}

// Cache provides storage for expensive lookups such as LLM extractions.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
