// Package batchfile loads planned batches from YAML or JSON files so they can
// be executed without a planner.
package batchfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
	"gopkg.in/yaml.v3"
)

// File is a batch as written on disk.
type File struct {
	Name              string                     `yaml:"name" json:"name"`
	Description       string                     `yaml:"description" json:"description"`
	ChatID            string                     `yaml:"chat_id" json:"chat_id"`
	MessageID         string                     `yaml:"message_id" json:"message_id"`
	Context           map[string]interface{}     `yaml:"context" json:"context"`
	RollbackOnFailure bool                       `yaml:"rollback_on_failure" json:"rollback_on_failure"`
	Actions           []actionflow.PlannedAction `yaml:"actions" json:"actions"`
}

// Loader decodes a File from raw bytes.
type Loader interface {
	Decode(data []byte) (*File, error)
	Format() string // e.g., "yaml", "json"
}

// loaderRegistry holds registered loaders by format name.
var loaderRegistry = make(map[string]Loader)

// RegisterLoader registers a Loader for its format.
func RegisterLoader(loader Loader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name.
func GetLoader(format string) (Loader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements Loader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Decode(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse batch YAML: %w", err)
	}
	return &f, nil
}

func (YAMLLoader) Format() string { return "yaml" }

// JSONLoader implements Loader for JSON files.
type JSONLoader struct{}

func (JSONLoader) Decode(data []byte) (*File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse batch JSON: %w", err)
	}
	return &f, nil
}

func (JSONLoader) Format() string { return "json" }

func init() {
	RegisterLoader(YAMLLoader{})
	RegisterLoader(JSONLoader{})
}

// FormatOf picks the loader format from a file extension, defaulting to YAML.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	}
	return "yaml"
}

// Validate checks for duplicate action ids and actions without a tool.
func (f *File) Validate() error {
	if len(f.Actions) == 0 {
		return actionflow.NewPlanningError("batch file contains no actions", nil)
	}
	ids := make(map[string]struct{}, len(f.Actions))
	for i, a := range f.Actions {
		if a.ToolName == "" {
			return actionflow.NewPlanningError(fmt.Sprintf("action %d has no tool_name", i), nil)
		}
		if a.ID == "" {
			continue
		}
		if _, exists := ids[a.ID]; exists {
			return actionflow.NewPlanningError(fmt.Sprintf("duplicate action id found: %s", a.ID), nil)
		}
		ids[a.ID] = struct{}{}
	}
	return nil
}

// ToRequest converts the file into an execution request.
func (f *File) ToRequest() actionflow.ExecuteRequest {
	actions := make([]actionflow.PlannedAction, len(f.Actions))
	for i, a := range f.Actions {
		a.Args = normalizeArgs(a.Args)
		actions[i] = a
	}
	return actionflow.ExecuteRequest{
		ChatID:            f.ChatID,
		MessageID:         f.MessageID,
		Actions:           actions,
		Context:           f.Context,
		RollbackOnFailure: f.RollbackOnFailure,
	}
}

// normalizeArgs turns json.Number into int64 or float64 so tools see plain numbers.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		return normalizeArgs(t)
	}
	return v
}

// Load reads, decodes and validates a batch file.
func Load(path string) (*File, error) {
	format := FormatOf(path)
	loader, ok := GetLoader(format)
	if !ok {
		return nil, actionflow.NewConfigurationError(fmt.Sprintf("no %s batch loader registered", format), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, actionflow.NewConfigurationError(fmt.Sprintf("failed to open batch file %s", path), err)
	}
	f, err := loader.Decode(data)
	if err != nil {
		return nil, actionflow.NewPlanningError(fmt.Sprintf("invalid batch file %s", path), err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadRequest loads a batch file and returns its execution request.
func LoadRequest(path string) (actionflow.ExecuteRequest, error) {
	f, err := Load(path)
	if err != nil {
		return actionflow.ExecuteRequest{}, err
	}
	return f.ToRequest(), nil
}
