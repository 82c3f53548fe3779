package registry

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/actionflow"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Tools []ToolMetadata `yaml:"tools"`
}

// DefaultCatalog returns the built-in tool metadata.
func DefaultCatalog() ([]ToolMetadata, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes and validates a YAML tool catalog.
func ParseCatalog(data []byte) ([]ToolMetadata, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, actionflow.NewConfigurationError("failed to parse tool catalog", err)
	}

	seen := make(map[string]bool, len(file.Tools))
	for i, meta := range file.Tools {
		if meta.Name == "" {
			return nil, actionflow.NewConfigurationError(fmt.Sprintf("catalog entry %d has no name", i), nil)
		}
		if seen[meta.Name] {
			return nil, actionflow.NewConfigurationError(fmt.Sprintf("duplicate tool %q in catalog", meta.Name), nil)
		}
		seen[meta.Name] = true

		if !meta.Category.Valid() {
			return nil, actionflow.NewConfigurationError(fmt.Sprintf("tool %q has unknown category %q", meta.Name, meta.Category), nil)
		}
		if meta.Method == "" {
			return nil, actionflow.NewConfigurationError(fmt.Sprintf("tool %q has no method", meta.Name), nil)
		}
		if meta.Kind == "" {
			file.Tools[i].Kind = KindAction
		}
		for _, p := range meta.Parameters {
			if p.Constraint == "" {
				continue
			}
			if err := ValidateConstraint(p.Constraint); err != nil {
				return nil, actionflow.NewConfigurationError(
					fmt.Sprintf("tool %q parameter %q has an invalid constraint", meta.Name, p.Name), err)
			}
		}
	}
	return file.Tools, nil
}

// LoadCatalog reads a catalog file from disk.
func LoadCatalog(path string) ([]ToolMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, actionflow.NewConfigurationError(fmt.Sprintf("failed to read tool catalog %s", path), err)
	}
	return ParseCatalog(data)
}
