package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CategoryTools is the generated tool set of one category, keyed by method.
type CategoryTools map[string]*Tool

// Tool returns the tool bound to method.
func (c CategoryTools) Tool(method string) (*Tool, bool) {
	t, ok := c[method]
	return t, ok
}

// Methods lists the category's methods in order.
func (c CategoryTools) Methods() []string {
	out := make([]string, 0, len(c))
	for m := range c {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Registry holds every generated tool and implements actionflow.ToolInvoker.
type Registry struct {
	categories map[Category]CategoryTools
	byName     map[string]*Tool
	pre        map[string]PreHandler
	post       map[string]PostHandler
	toolOpts   []ToolOption
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithPreHandler registers a named pre-hook referenced from metadata.
func WithPreHandler(name string, h PreHandler) Option {
	return func(r *Registry) {
		r.pre[name] = h
	}
}

// WithPostHandler registers a named post-hook referenced from metadata.
func WithPostHandler(name string, h PostHandler) Option {
	return func(r *Registry) {
		r.post[name] = h
	}
}

// WithToolOptions applies options to every generated tool.
func WithToolOptions(opts ...ToolOption) Option {
	return func(r *Registry) {
		r.toolOpts = append(r.toolOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New generates tools from catalog, binding each to exec.
func New(exec MethodExecutor, catalog []ToolMetadata, options ...Option) (*Registry, error) {
	r := &Registry{
		categories: make(map[Category]CategoryTools),
		byName:     make(map[string]*Tool),
		pre:        builtinPreHandlers(),
		post:       builtinPostHandlers(),
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
	}
	for _, option := range options {
		option(r)
	}

	for _, meta := range catalog {
		var pre PreHandler
		var post PostHandler
		if meta.PreHandler != "" {
			h, ok := r.pre[meta.PreHandler]
			if !ok {
				return nil, actionflow.NewConfigurationError(fmt.Sprintf("tool %q references unknown pre handler %q", meta.Name, meta.PreHandler), nil)
			}
			pre = h
		}
		if meta.PostHandler != "" {
			h, ok := r.post[meta.PostHandler]
			if !ok {
				return nil, actionflow.NewConfigurationError(fmt.Sprintf("tool %q references unknown post handler %q", meta.Name, meta.PostHandler), nil)
			}
			post = h
		}

		opts := append([]ToolOption{WithToolLogger(r.logger)}, r.toolOpts...)
		opts = append(opts, withHooks(pre, post))
		tool := NewTool(meta, exec, opts...)

		if r.categories[meta.Category] == nil {
			r.categories[meta.Category] = make(CategoryTools)
		}
		r.categories[meta.Category][meta.Method] = tool
		r.byName[meta.Name] = tool
	}

	r.logger.Debug("tool registry generated", "tools", len(r.byName), "categories", len(r.categories))
	return r, nil
}

// NewDefault generates the registry from the built-in catalog.
func NewDefault(exec MethodExecutor, options ...Option) (*Registry, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return New(exec, catalog, options...)
}

// Category returns the tools of c.
func (r *Registry) Category(c Category) CategoryTools {
	return r.categories[c]
}

// Tools returns every tool sorted by name.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) find(entityType, toolName string) (*Tool, bool) {
	tool, ok := r.byName[toolName]
	if !ok {
		return nil, false
	}
	// A declared entity type must agree with the tool's category.
	if entityType != "" {
		if c, known := entityCategories[strings.ToLower(entityType)]; known && c != tool.meta.Category {
			return nil, false
		}
	}
	return tool, true
}

// Lookup implements actionflow.ToolInvoker.
func (r *Registry) Lookup(entityType, toolName string) (string, bool) {
	tool, ok := r.find(entityType, toolName)
	if !ok {
		return string(CategoryFor(entityType, toolName)), false
	}
	return string(tool.meta.Category), true
}

// IsRetrieval reports whether toolName only reads state.
func (r *Registry) IsRetrieval(toolName string) bool {
	if tool, ok := r.byName[toolName]; ok {
		return tool.meta.Kind == KindRetrieval
	}
	return false
}

// ToolKind returns the catalog kind of toolName, if the tool is known.
func (r *Registry) ToolKind(toolName string) (string, bool) {
	if tool, ok := r.byName[toolName]; ok {
		return string(tool.meta.Kind), true
	}
	return "", false
}

// Invoke implements actionflow.ToolInvoker.
func (r *Registry) Invoke(ctx context.Context, call actionflow.ToolCall) (actionflow.InvocationResult, error) {
	tool, ok := r.find(call.EntityType, call.ToolName)
	if !ok {
		category := call.Category
		if category == "" {
			category = string(CategoryFor(call.EntityType, call.ToolName))
		}
		return actionflow.InvocationResult{}, actionflow.NewToolNotFoundError(actionflow.StageInvocation, category, call.ToolName)
	}
	category := string(tool.meta.Category)

	ctx, span := r.tracer.Start(ctx, "tool."+call.ToolName, trace.WithAttributes(
		attribute.String("tool.category", category),
		attribute.String("tool.name", call.ToolName),
	))
	defer span.End()

	start := time.Now()
	result, err := tool.Invoke(ctx, call.Args, call.Context)
	telemetry.ToolDuration.WithLabelValues(category, call.ToolName).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		telemetry.ToolInvocations.WithLabelValues(category, call.ToolName, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	case !result.OK:
		telemetry.ToolInvocations.WithLabelValues(category, call.ToolName, "failure").Inc()
		span.SetStatus(codes.Error, result.Error)
		r.logger.Warn("tool reported failure", "tool", call.ToolName, "error", result.Error)
		return result, nil
	}

	telemetry.ToolInvocations.WithLabelValues(category, call.ToolName, "success").Inc()
	if result.Entity.Empty() {
		entityType := call.EntityType
		if entityType == "" {
			entityType = tool.meta.ReturnsEntityType
		}
		result.Entity = InferEntity(entityType, call.Args)
	}
	return result, nil
}

var _ actionflow.ToolInvoker = (*Registry)(nil)
