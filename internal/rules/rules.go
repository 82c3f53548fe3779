// Package rules holds the implicit dependency table: ordering constraints
// between tool pairs that are not expressed through placeholders.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule says that Dependent must run after Prerequisite when both are in a batch.
type Rule struct {
	Prerequisite string `yaml:"prerequisite" json:"prerequisite"`
	Dependent    string `yaml:"dependent" json:"dependent"`
}

// Set is an immutable implicit dependency table.
type Set struct {
	rules []Rule
	byDep map[string][]string
}

// New builds a Set from rules. Self-pairs and duplicates are dropped.
func New(rules ...Rule) *Set {
	s := &Set{byDep: make(map[string][]string)}
	seen := make(map[Rule]bool)
	for _, r := range rules {
		if r.Prerequisite == "" || r.Dependent == "" || r.Prerequisite == r.Dependent || seen[r] {
			continue
		}
		seen[r] = true
		s.rules = append(s.rules, r)
		s.byDep[r.Dependent] = append(s.byDep[r.Dependent], r.Prerequisite)
	}
	return s
}

// Default returns the built-in table for the project-management API.
func Default() *Set {
	return New(
		Rule{Prerequisite: "projects_create", Dependent: "projects_update_features"},
		Rule{Prerequisite: "workitems_create", Dependent: "cycles_add_work_items"},
		Rule{Prerequisite: "workitems_create", Dependent: "modules_add_work_items"},
		Rule{Prerequisite: "cycles_create", Dependent: "cycles_add_work_items"},
		Rule{Prerequisite: "modules_create", Dependent: "modules_add_work_items"},
		Rule{Prerequisite: "labels_create", Dependent: "workitems_update"},
		Rule{Prerequisite: "states_create", Dependent: "workitems_update"},
	)
}

// Rules returns a copy of the table.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// PrerequisitesOf returns the prerequisite tool names for a dependent tool.
func (s *Set) PrerequisitesOf(tool string) []string {
	if s == nil {
		return nil
	}
	return s.byDep[tool]
}

// ConflictIn returns the first rule whose two tools both appear in tools, in either order.
func (s *Set) ConflictIn(tools []string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	present := make(map[string]bool, len(tools))
	for _, t := range tools {
		present[t] = true
	}
	for _, r := range s.rules {
		if present[r.Prerequisite] && present[r.Dependent] {
			return r, true
		}
	}
	return Rule{}, false
}

type file struct {
	Rules []Rule `yaml:"rules"`
}

// Parse reads a YAML rule table:
//
//	rules:
//	  - prerequisite: projects_create
//	    dependent: projects_update_features
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	for i, r := range f.Rules {
		if r.Prerequisite == "" || r.Dependent == "" {
			return nil, fmt.Errorf("rule %d: prerequisite and dependent are required", i)
		}
	}
	return New(f.Rules...), nil
}

// Load reads a YAML rule table from disk.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}
