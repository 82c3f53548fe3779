package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
)

// MethodResult is what the remote API returned for one method call.
type MethodResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// MethodExecutor performs the HTTP call behind a tool. A returned error is a
// transport failure and may be retried; an unsuccessful MethodResult is not.
type MethodExecutor interface {
	Execute(ctx context.Context, category Category, method string, args map[string]interface{}) (MethodResult, error)
}

// Tool is a generated tool bound to a MethodExecutor.
type Tool struct {
	meta       ToolMetadata
	exec       MethodExecutor
	pre        PreHandler
	post       PostHandler
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	appURL     string
	logger     *slog.Logger
}

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) ToolOption {
	return func(t *Tool) {
		t.timeout = timeout
	}
}

// WithRetries sets how many times a transport failure is retried.
func WithRetries(maxRetries int, delay time.Duration) ToolOption {
	return func(t *Tool) {
		t.maxRetries = maxRetries
		t.retryDelay = delay
	}
}

// WithAppURL sets the web app base used to build entity URLs.
func WithAppURL(appURL string) ToolOption {
	return func(t *Tool) {
		t.appURL = strings.TrimRight(appURL, "/")
	}
}

// WithToolLogger sets the logger.
func WithToolLogger(logger *slog.Logger) ToolOption {
	return func(t *Tool) {
		t.logger = logger
	}
}

func withHooks(pre PreHandler, post PostHandler) ToolOption {
	return func(t *Tool) {
		t.pre = pre
		t.post = post
	}
}

// NewTool creates a tool from metadata.
func NewTool(meta ToolMetadata, exec MethodExecutor, options ...ToolOption) *Tool {
	tool := &Tool{
		meta:       meta,
		exec:       exec,
		timeout:    30 * time.Second,
		retryDelay: 500 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(tool)
	}
	return tool
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.meta.Name }

// Metadata returns the declaration the tool was generated from.
func (t *Tool) Metadata() ToolMetadata { return t.meta }

// Invoke runs the full pipeline: auto-fill, defaults, validation, pre-hook,
// the method call, post-hook and payload formatting.
// Only cancellation of ctx is returned as an error.
func (t *Tool) Invoke(ctx context.Context, args, requestCtx map[string]interface{}) (actionflow.InvocationResult, error) {
	in := t.prepare(args, requestCtx)

	if err := t.Validate(in); err != nil {
		return t.failure(err), nil
	}

	if t.pre != nil {
		adjusted, err := t.pre(ctx, t.meta, in)
		if err != nil {
			return t.failure(fmt.Errorf("pre-processing failed: %w", err)), nil
		}
		in = adjusted
	}

	result, err := t.call(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return actionflow.InvocationResult{}, actionflow.NewCancelledError(actionflow.StageInvocation, ctx.Err())
		}
		return t.failure(err), nil
	}

	if t.post != nil {
		result, err = t.post(ctx, t.meta, in, result)
		if err != nil {
			return t.failure(fmt.Errorf("post-processing failed: %w", err)), nil
		}
	}

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "the API reported a failure without details"
		}
		return t.failure(errors.New(msg)), nil
	}
	return t.success(in, result.Data), nil
}

func (t *Tool) prepare(args, requestCtx map[string]interface{}) map[string]interface{} {
	in := make(map[string]interface{}, len(args)+len(t.meta.Parameters))
	for k, v := range args {
		in[k] = v
	}
	for _, p := range t.meta.Parameters {
		if present(in[p.Name]) {
			continue
		}
		if p.AutoFillFromContext {
			if v, ok := requestCtx[p.Name]; ok && present(v) {
				in[p.Name] = v
				continue
			}
		}
		if p.Default != nil {
			in[p.Name] = p.Default
		}
	}
	return in
}

// Validate checks required fields, types and constraints.
func (t *Tool) Validate(args map[string]interface{}) error {
	verr := &ValidationError{Tool: t.meta.Name}
	for _, p := range t.meta.Parameters {
		v, ok := args[p.Name]
		if !ok || !present(v) {
			if p.Required {
				verr.Missing = append(verr.Missing, p.Name)
			}
			continue
		}
		if err := checkType(p, v); err != nil {
			verr.Problems = append(verr.Problems, err.Error())
			continue
		}
		if p.Constraint != "" {
			if err := CheckConstraint(p.Constraint, v); err != nil {
				verr.Problems = append(verr.Problems, fmt.Sprintf("field '%s': %v", p.Name, err))
			}
		}
	}
	if len(verr.Missing) == 0 && len(verr.Problems) == 0 {
		return nil
	}
	sort.Strings(verr.Missing)
	return verr
}

// ValidationError lists every problem found in a tool's arguments.
type ValidationError struct {
	Tool     string
	Missing  []string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return fmt.Sprintf("validation error for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func present(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func checkType(p ParamSpec, v interface{}) error {
	base := p.BaseType()
	ok := true
	switch base {
	case "str", "string":
		_, ok = v.(string)
	case "int", "integer":
		ok = isInteger(v)
	case "float", "number":
		ok = isInteger(v) || isFloat(v)
	case "bool", "boolean":
		_, ok = v.(bool)
	case "list":
		switch v.(type) {
		case []interface{}, []string:
		default:
			ok = false
		}
	case "dict":
		_, ok = v.(map[string]interface{})
	}
	if !ok {
		return fmt.Errorf("field '%s' must be of type %s, got %T", p.Name, base, v)
	}
	return nil
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	}
	return false
}

func isFloat(v interface{}) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

func (t *Tool) call(ctx context.Context, args map[string]interface{}) (MethodResult, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Warn("retrying tool call", "tool", t.meta.Name, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return MethodResult{}, ctx.Err()
			case <-time.After(t.retryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
		result, err := t.exec.Execute(attemptCtx, t.meta.Category, t.meta.Method, args)
		cancel()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return MethodResult{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = actionflow.NewTimeoutError(actionflow.StageInvocation, err)
		} else {
			lastErr = err
		}
	}
	return MethodResult{}, lastErr
}

func (t *Tool) failure(err error) actionflow.InvocationResult {
	return actionflow.InvocationResult{
		OK:      false,
		Message: fmt.Sprintf("❌ %s failed: %v", t.meta.Name, err),
		Error:   err.Error(),
	}
}

func (t *Tool) success(args, data map[string]interface{}) actionflow.InvocationResult {
	entity := t.entityFromData(args, data)
	return actionflow.InvocationResult{
		OK:      true,
		Message: formatSuccess(t.meta, entity, data),
		Entity:  entity,
	}
}
