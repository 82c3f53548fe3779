package actionflow

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ActionStatus represents the possible states of a planned action during a batch.
type ActionStatus string

const (
	// ActionStatusPending indicates the action is waiting for dependencies.
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusReady indicates every dependency is satisfied.
	ActionStatusReady ActionStatus = "ready"
	// ActionStatusRunning indicates the tool is being invoked.
	ActionStatusRunning ActionStatus = "running"
	// ActionStatusSucceeded indicates the tool reported success.
	ActionStatusSucceeded ActionStatus = "succeeded"
	// ActionStatusFailed indicates the action failed or was never invoked.
	ActionStatusFailed ActionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed
}

// PlannedAction is one tool invocation selected by the planner.
type PlannedAction struct {
	ID         string                 `json:"id,omitempty" yaml:"id,omitempty"`
	ToolName   string                 `json:"tool_name" yaml:"tool_name"`
	EntityType string                 `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Args       map[string]interface{} `json:"args" yaml:"args"`
	ArtifactID string                 `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
	VersionID  string                 `json:"version_id,omitempty" yaml:"version_id,omitempty"`
	Sequence   int                    `json:"sequence" yaml:"sequence"`
}

// ArgName returns the planned "name" argument, if any.
func (a PlannedAction) ArgName() string {
	if v, ok := a.Args["name"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ArgValueType defines the kind of a resolved argument.
type ArgValueType string

const (
	// ArgValueLiteral is a concrete value passed through unchanged.
	ArgValueLiteral ArgValueType = "literal"

	// ArgValuePlaceholder is a value produced by another action in the batch.
	ArgValuePlaceholder ArgValueType = "placeholder"

	// ArgValueList is a list whose items may themselves be placeholders.
	ArgValueList ArgValueType = "list"
)

// PlaceholderRef points at the action whose result supplies a value.
type PlaceholderRef struct {
	Source      int    `json:"source"`                // Index of the source action in the batch
	Raw         string `json:"raw"`                   // Placeholder text as planned
	Description string `json:"description"`           // Free-text description of the referenced value
	EntityType  string `json:"entity_type,omitempty"` // Set for structured "<id of type: name>" placeholders
	EntityName  string `json:"entity_name,omitempty"`
}

// ArgValue is a tool argument resolved once at ingestion.
type ArgValue struct {
	Type  ArgValueType    `json:"type"`
	Value interface{}     `json:"value,omitempty"` // Literal value
	Ref   *PlaceholderRef `json:"ref,omitempty"`
	Items []ArgValue      `json:"items,omitempty"`
}

// Literal builds a literal ArgValue.
func Literal(v interface{}) ArgValue {
	return ArgValue{Type: ArgValueLiteral, Value: v}
}

// Placeholder builds a placeholder ArgValue.
func Placeholder(ref PlaceholderRef) ArgValue {
	return ArgValue{Type: ArgValuePlaceholder, Ref: &ref}
}

// List builds a list ArgValue.
func List(items ...ArgValue) ArgValue {
	return ArgValue{Type: ArgValueList, Items: items}
}

// Refs returns every placeholder reachable from v.
func (v ArgValue) Refs() []*PlaceholderRef {
	switch v.Type {
	case ArgValuePlaceholder:
		return []*PlaceholderRef{v.Ref}
	case ArgValueList:
		var refs []*PlaceholderRef
		for _, item := range v.Items {
			refs = append(refs, item.Refs()...)
		}
		return refs
	}
	return nil
}

// Resolved reports whether v holds no placeholder.
func (v ArgValue) Resolved() bool {
	return len(v.Refs()) == 0
}

// Concrete converts v back into a plain value. Unresolved placeholders yield their raw text.
func (v ArgValue) Concrete() interface{} {
	switch v.Type {
	case ArgValuePlaceholder:
		return v.Ref.Raw
	case ArgValueList:
		out := make([]interface{}, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.Concrete()
		}
		return out
	}
	return v.Value
}

// EntityRef is a structured reference to the entity a tool affected or created.
type EntityRef struct {
	EntityURL         string `json:"entity_url,omitempty"`
	EntityName        string `json:"entity_name,omitempty"`
	EntityType        string `json:"entity_type,omitempty"`
	EntityID          string `json:"entity_id,omitempty"`
	EntityIdentifier  string `json:"entity_identifier,omitempty"`
	IssueIdentifier   string `json:"issue_identifier,omitempty"`
	ProjectIdentifier string `json:"project_identifier,omitempty"`
}

// Empty reports whether no field is set.
func (e *EntityRef) Empty() bool {
	return e == nil || *e == EntityRef{}
}

// InvocationResult is the uniform payload every tool returns.
type InvocationResult struct {
	OK      bool       `json:"ok"`
	Message string     `json:"message"`
	Entity  *EntityRef `json:"entity,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ExecutionResult is the terminal outcome of one planned action.
type ExecutionResult struct {
	ActionID     string     `json:"action_id"`
	ToolName     string     `json:"tool_name"`
	ArtifactType string     `json:"artifact_type,omitempty"`
	ArtifactID   string     `json:"artifact_id,omitempty"`
	VersionID    string     `json:"version_id,omitempty"`
	Sequence     int        `json:"sequence"`
	Result       string     `json:"result"`
	EntityInfo   *EntityRef `json:"entity_info,omitempty"`
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ExecutedAt   time.Time  `json:"executed_at"`
}

// NewResult starts an ExecutionResult correlated with the planned action.
func NewResult(action PlannedAction) ExecutionResult {
	return ExecutionResult{
		ActionID:     action.ID,
		ToolName:     action.ToolName,
		ArtifactType: action.EntityType,
		ArtifactID:   action.ArtifactID,
		VersionID:    action.VersionID,
		Sequence:     action.Sequence,
		ExecutedAt:   time.Now().UTC(),
	}
}

// BatchAction is a planned action after ingestion.
type BatchAction struct {
	Index  int
	Action PlannedAction
	Args   map[string]ArgValue

	status ActionStatus
	mutex  sync.Mutex
}

// Status safely returns the current status.
func (a *BatchAction) Status() ActionStatus {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.status
}

// SetStatus safely updates the status.
func (a *BatchAction) SetStatus(status ActionStatus) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.status = status
}

// ArgNames returns argument names in a stable order.
func (a *BatchAction) ArgNames() []string {
	names := make([]string, 0, len(a.Args))
	for name := range a.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sources returns the indexes of actions referenced by placeholders, deduplicated.
func (a *BatchAction) Sources() []int {
	seen := make(map[int]bool)
	var out []int
	for _, name := range a.ArgNames() {
		for _, ref := range a.Args[name].Refs() {
			if !seen[ref.Source] {
				seen[ref.Source] = true
				out = append(out, ref.Source)
			}
		}
	}
	return out
}

// HasPlaceholders reports whether any argument is still unresolved.
func (a *BatchAction) HasPlaceholders() bool {
	for _, v := range a.Args {
		if !v.Resolved() {
			return true
		}
	}
	return false
}

// ConcreteArgs returns the plain argument map handed to the tool.
func (a *BatchAction) ConcreteArgs() map[string]interface{} {
	out := make(map[string]interface{}, len(a.Args))
	for name, v := range a.Args {
		out[name] = v.Concrete()
	}
	return out
}

// Batch is an ingested set of planned actions.
type Batch struct {
	ID      string
	Actions []*BatchAction
}

// NewBatch wraps ingested actions, setting every status to pending.
func NewBatch(id string, actions []*BatchAction) *Batch {
	for i, a := range actions {
		a.Index = i
		a.status = ActionStatusPending
	}
	return &Batch{ID: id, Actions: actions}
}

// Planned returns the original planned actions in batch order.
func (b *Batch) Planned() []PlannedAction {
	out := make([]PlannedAction, len(b.Actions))
	for i, a := range b.Actions {
		out[i] = a.Action
	}
	return out
}

// FlowRef identifies where execution results are recorded.
type FlowRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	BatchID   string `json:"batch_id"`
}

// ExecuteRequest is one batch-execution request.
type ExecuteRequest struct {
	ChatID            string                 `json:"chat_id" yaml:"chat_id"`
	MessageID         string                 `json:"message_id" yaml:"message_id"`
	Actions           []PlannedAction        `json:"actions" yaml:"actions"`
	Context           map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
	RollbackOnFailure bool                   `json:"rollback_on_failure,omitempty" yaml:"rollback_on_failure,omitempty"`
}

// ActionSummary counts outcomes for a batch.
type ActionSummary struct {
	TotalPlanned    int     `json:"total_planned"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CleanAction is the trimmed per-action view returned to callers.
type CleanAction struct {
	Action            string     `json:"action"`
	ToolName          string     `json:"tool_name"`
	ArtifactType      string     `json:"artifact_type,omitempty"`
	ArtifactID        string     `json:"artifact_id,omitempty"`
	VersionID         string     `json:"version_id,omitempty"`
	Sequence          int        `json:"sequence"`
	Success           bool       `json:"success"`
	ExecutedAt        time.Time  `json:"executed_at"`
	Entity            *EntityRef `json:"entity,omitempty"`
	ProjectIdentifier string     `json:"project_identifier,omitempty"`
	Message           string     `json:"message,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// Response is the uniform execution report of a batch.
type Response struct {
	BatchID    string            `json:"batch_id"`
	ExecutedAt time.Time         `json:"executed_at"`
	Summary    ActionSummary     `json:"action_summary"`
	Actions    []CleanAction     `json:"actions"`
	Results    []ExecutionResult `json:"results"`
}
