// Package classifier decides which execution strategy a batch needs.
package classifier

import (
	"log/slog"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/placeholder"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
)

// Mode is the outcome of classification.
type Mode string

const (
	// ModeSingle is a batch of exactly one action.
	ModeSingle Mode = "single"
	// ModeIndependent batches can run fully in parallel.
	ModeIndependent Mode = "independent"
	// ModeDependent batches must go through the orchestrator.
	ModeDependent Mode = "dependent"
)

// Classifier inspects planned batches against an implicit dependency table.
type Classifier struct {
	rules  *rules.Set
	logger *slog.Logger
}

// New creates a Classifier. A nil rule set means no implicit dependencies.
func New(ruleSet *rules.Set, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{rules: ruleSet, logger: logger}
}

// Classify returns the strategy for a batch.
func (c *Classifier) Classify(batch []actionflow.PlannedAction) Mode {
	if len(batch) == 1 {
		return ModeSingle
	}
	for _, a := range batch {
		if placeholder.ArgsContain(a.Args) {
			c.logger.Debug("batch has placeholder dependencies", "tool", a.ToolName)
			return ModeDependent
		}
	}
	if r, ok := c.rules.ConflictIn(toolNames(batch)); ok {
		// Both tools present is enough, whatever their planned order.
		c.logger.Debug("batch has implicit dependency",
			"prerequisite", r.Prerequisite, "dependent", r.Dependent)
		return ModeDependent
	}
	return ModeIndependent
}

func toolNames(batch []actionflow.PlannedAction) []string {
	names := make([]string, len(batch))
	for i, a := range batch {
		names[i] = a.ToolName
	}
	return names
}
