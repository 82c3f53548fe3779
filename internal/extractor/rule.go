// Package extractor locates concrete values for placeholders inside upstream
// tool results.
package extractor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/telemetry"
)

// RuleExtractor reads the structured entity of the source result. It is
// deterministic and never calls a model.
type RuleExtractor struct {
	logger *slog.Logger
}

// NewRuleExtractor creates a rule-based extractor.
func NewRuleExtractor(logger *slog.Logger) *RuleExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleExtractor{logger: logger}
}

// Extract implements actionflow.ValueExtractor.
func (r *RuleExtractor) Extract(ctx context.Context, req actionflow.ExtractionRequest) (string, error) {
	entity := SourceEntity(req.Source)
	if entity.Empty() {
		telemetry.Extractions.WithLabelValues("rule", "miss").Inc()
		return "", actionflow.NewExtractionError(req.Field,
			fmt.Errorf("no entity information in the result of '%s'", req.Source.ToolName))
	}

	value, err := SelectField(req.Field, entity)
	if err != nil {
		if id := uuidSearch.FindString(req.Source.Result); id != "" && RequiresUUID(req.Field) {
			value, err = id, nil
		}
	}
	if err != nil {
		telemetry.Extractions.WithLabelValues("rule", "miss").Inc()
		return "", actionflow.NewExtractionError(req.Field, err)
	}

	telemetry.Extractions.WithLabelValues("rule", "hit").Inc()
	r.logger.Debug("placeholder resolved", "field", req.Field, "placeholder", req.Placeholder.Raw, "source", req.Source.ToolName)
	return value, nil
}

// SourceEntity returns the structured entity of a result, parsing the message when needed.
func SourceEntity(res actionflow.ExecutionResult) *actionflow.EntityRef {
	if !res.EntityInfo.Empty() {
		return res.EntityInfo
	}
	return ParseEntityInfo(res.ToolName, res.Result)
}

// SelectField picks the entity attribute a field expects. Slug and identifier
// fields take the short identifier, falling back to the id; everything else is
// an entity reference and takes the id.
func SelectField(field string, entity *actionflow.EntityRef) (string, error) {
	switch field {
	case "workspace_slug", "identifier":
		if entity.EntityIdentifier != "" {
			return entity.EntityIdentifier, nil
		}
		if entity.EntityID != "" {
			return entity.EntityID, nil
		}
	default:
		if entity.EntityID != "" {
			return entity.EntityID, nil
		}
	}
	return "", fmt.Errorf("no entity id found for '%s'", entity.EntityName)
}

var _ actionflow.ValueExtractor = (*RuleExtractor)(nil)
