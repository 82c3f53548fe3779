package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/cache"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
)

// Completer runs the extraction prompt against a model.
type Completer interface {
	Complete(ctx context.Context, input map[string]interface{}) (string, error)
}

// LLMExtractor asks a model to locate the referenced entity in unstructured results.
type LLMExtractor struct {
	completer Completer
	cache     actionflow.Cache
	logger    *slog.Logger
}

// LLMOption configures an LLMExtractor.
type LLMOption func(*LLMExtractor)

// WithCache memoizes extractions.
func WithCache(c actionflow.Cache) LLMOption {
	return func(e *LLMExtractor) {
		e.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LLMOption {
	return func(e *LLMExtractor) {
		e.logger = logger
	}
}

// NewLLMExtractor creates a model-backed extractor.
func NewLLMExtractor(completer Completer, opts ...LLMOption) *LLMExtractor {
	e := &LLMExtractor{completer: completer, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type extractedEntity struct {
	EntityType       string  `json:"entity_type"`
	EntityName       string  `json:"entity_name"`
	EntityID         string  `json:"entity_id"`
	EntityIdentifier *string `json:"entity_identifier"`
}

// Extract implements actionflow.ValueExtractor.
func (e *LLMExtractor) Extract(ctx context.Context, req actionflow.ExtractionRequest) (string, error) {
	key := cache.Key(req.Field, req.Placeholder.Raw, req.Source.ToolName, req.Source.Result)
	if e.cache != nil {
		if v, err := e.cache.Get(ctx, key); err == nil {
			if s, ok := v.(string); ok {
				telemetry.Extractions.WithLabelValues("llm", "cached").Inc()
				return s, nil
			}
		}
	}

	entityType, entityName := req.Placeholder.EntityType, req.Placeholder.EntityName
	if entityType == "" {
		entityType = req.Source.ArtifactType
	}
	if entityName == "" {
		entityName, _ = req.SourceArgs["name"].(string)
	}

	raw, err := e.completer.Complete(ctx, map[string]interface{}{
		"entity_type": entityType,
		"entity_name": entityName,
		"description": req.Placeholder.Description,
		"tool_name":   req.Source.ToolName,
		"result":      req.Source.Result,
	})
	if err != nil {
		telemetry.Extractions.WithLabelValues("llm", "error").Inc()
		return "", actionflow.NewExtractionError(req.Field, fmt.Errorf("model call failed: %w", err))
	}

	parsed, err := parseExtracted(raw)
	if err != nil {
		telemetry.Extractions.WithLabelValues("llm", "miss").Inc()
		return "", actionflow.NewExtractionError(req.Field, err)
	}
	entity := &actionflow.EntityRef{
		EntityType: parsed.EntityType,
		EntityName: parsed.EntityName,
		EntityID:   parsed.EntityID,
	}
	if parsed.EntityIdentifier != nil {
		entity.EntityIdentifier = *parsed.EntityIdentifier
	}

	value, err := SelectField(req.Field, entity)
	if err != nil {
		telemetry.Extractions.WithLabelValues("llm", "miss").Inc()
		return "", actionflow.NewExtractionError(req.Field, err)
	}
	if err := Validate(req.Field, value); err != nil {
		telemetry.Extractions.WithLabelValues("llm", "invalid").Inc()
		return "", actionflow.NewExtractionError(req.Field, err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, value); err != nil {
			e.logger.Warn("failed to cache extraction", "field", req.Field, "error", err)
		}
	}
	telemetry.Extractions.WithLabelValues("llm", "hit").Inc()
	return value, nil
}

// parseExtracted accepts a bare JSON object, optionally wrapped in a markdown fence.
func parseExtracted(raw string) (extractedEntity, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return extractedEntity{}, fmt.Errorf("model response contains no JSON object")
	}

	var out extractedEntity
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return extractedEntity{}, fmt.Errorf("model response is not valid JSON: %w", err)
	}
	return out, nil
}

var _ actionflow.ValueExtractor = (*LLMExtractor)(nil)
