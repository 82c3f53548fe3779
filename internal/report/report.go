// Package report turns execution results into the uniform batch response:
// ordered results, an action summary and the trimmed per-action view.
package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/extractor"
)

const (
	maxErrorLen      = 200
	maxValidationLen = 150
)

// KindLookup resolves the catalog kind ("action" or "retrieval") of a tool.
type KindLookup interface {
	ToolKind(toolName string) (string, bool)
}

// Normalize returns the results ordered by planned sequence, stamped with one
// batch-level timestamp. Ties keep completion order. The input is not modified.
func Normalize(results []actionflow.ExecutionResult, batchTime time.Time) []actionflow.ExecutionResult {
	out := make([]actionflow.ExecutionResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	for i := range out {
		out[i].ExecutedAt = batchTime
	}
	return out
}

// Summary counts outcomes. Duration is rounded to two decimals.
func Summary(totalPlanned int, results []actionflow.ExecutionResult, start, end time.Time) actionflow.ActionSummary {
	s := actionflow.ActionSummary{
		TotalPlanned:    totalPlanned,
		DurationSeconds: math.Round(end.Sub(start).Seconds()*100) / 100,
	}
	for _, r := range results {
		if r.Success {
			s.Completed++
		} else {
			s.Failed++
		}
	}
	return s
}

// Build assembles the response for a finished batch. Results and the response
// carry the batch start time.
func Build(batchID string, totalPlanned int, results []actionflow.ExecutionResult, start time.Time, kinds KindLookup) actionflow.Response {
	batchTime := start.UTC()
	ordered := Normalize(results, batchTime)
	return actionflow.Response{
		BatchID:    batchID,
		ExecutedAt: batchTime,
		Summary:    Summary(totalPlanned, ordered, start, time.Now()),
		Actions:    CleanActions(ordered, kinds),
		Results:    ordered,
	}
}

// CleanActions trims results for callers. Retrieval tools are dropped.
func CleanActions(results []actionflow.ExecutionResult, kinds KindLookup) []actionflow.CleanAction {
	out := make([]actionflow.CleanAction, 0, len(results))
	for _, r := range results {
		if IsRetrieval(kinds, r.ToolName) {
			continue
		}
		out = append(out, cleanAction(r))
	}
	return out
}

func cleanAction(r actionflow.ExecutionResult) actionflow.CleanAction {
	a := actionflow.CleanAction{
		Action:       ActionName(r.ToolName),
		ToolName:     r.ToolName,
		ArtifactType: r.ArtifactType,
		ArtifactID:   r.ArtifactID,
		VersionID:    r.VersionID,
		Sequence:     r.Sequence,
		Success:      r.Success,
		ExecutedAt:   r.ExecutedAt,
	}

	if !r.Success {
		a.Error = Truncate(r.Error, maxErrorLen)
		return a
	}

	if e := r.EntityInfo; !e.Empty() {
		essential := &actionflow.EntityRef{
			EntityURL:       e.EntityURL,
			EntityName:      e.EntityName,
			EntityType:      e.EntityType,
			EntityID:        e.EntityID,
			IssueIdentifier: e.IssueIdentifier,
		}
		if !essential.Empty() {
			a.Entity = essential
		}
		a.ProjectIdentifier = extractor.ProjectIdentifier(e)
	}

	if r.Result != "" {
		a.Message = successMessage(r.Result)
	}
	return a
}

// ActionName is the tool name without its category prefix: "workitems_create" -> "create".
func ActionName(toolName string) string {
	if _, after, ok := strings.Cut(toolName, "_"); ok {
		return after
	}
	if toolName == "" {
		return "unknown"
	}
	return toolName
}

func successMessage(result string) string {
	if msg := ExtractSuccessMessage(result); msg != "" {
		return msg
	}
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "created"):
		return "Created successfully"
	case strings.Contains(lower, "updated"):
		return "Updated successfully"
	}
	return "Action completed successfully"
}

// ExtractSuccessMessage returns the first line starting with "✅", without the marker.
func ExtractSuccessMessage(result string) string {
	for _, line := range strings.Split(result, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "✅") {
			return strings.TrimSpace(strings.TrimPrefix(line, "✅"))
		}
	}
	return ""
}

// CondenseError shortens tool-layer error text. Missing-field reports are kept
// whole; other validation errors keep their first line.
func CondenseError(msg string) string {
	if i := strings.Index(msg, "Missing required fields:"); i >= 0 {
		line, _, _ := strings.Cut(msg[i:], "\n")
		return line
	}
	if strings.Contains(strings.ToLower(msg), "validation error") {
		first, _, _ := strings.Cut(msg, "\n")
		if r := []rune(first); len(r) > maxValidationLen {
			return string(r[:maxValidationLen])
		}
		return first
	}
	return Truncate(msg, maxErrorLen)
}

// Truncate cuts s to n characters, appending "..." when anything was removed.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var (
	readOnlyPatterns  = []string{"list_", "get_", "retrieve_", "_list", "_retrieve", "_get", "_search", "search_"}
	modifyingPatterns = []string{"_create", "_update", "_delete", "_add", "_remove", "_archive", "_unarchive"}
	retrievalUtils    = map[string]bool{
		"structured_db_tool": true,
		"vector_search_tool": true,
		"pages_search_tool":  true,
		"docs_search_tool":   true,
	}
)

// IsRetrieval reports whether a tool only reads state. The catalog kind wins;
// unknown tools fall back to name patterns, with modifying patterns taking precedence.
func IsRetrieval(kinds KindLookup, toolName string) bool {
	if kinds != nil {
		if kind, ok := kinds.ToolKind(toolName); ok {
			switch kind {
			case "retrieval":
				return true
			case "action":
				return false
			}
		}
	}

	name := strings.TrimSpace(toolName)
	if name == "" || retrievalUtils[name] {
		return true
	}
	for _, p := range modifyingPatterns {
		if strings.Contains(name, p) {
			return false
		}
	}
	for _, p := range readOnlyPatterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
