// Package registry generates the tool set from declarative metadata and
// invokes tools against a MethodExecutor.
package registry

import (
	"strings"
)

// Category groups tools by the API resource they operate on.
type Category string

const (
	CategoryProjects  Category = "projects"
	CategoryWorkItems Category = "workitems"
	CategoryCycles    Category = "cycles"
	CategoryModules   Category = "modules"
	CategoryLabels    Category = "labels"
	CategoryStates    Category = "states"
	CategoryPages     Category = "pages"
	CategoryComments  Category = "comments"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryProjects,
	CategoryWorkItems,
	CategoryCycles,
	CategoryModules,
	CategoryLabels,
	CategoryStates,
	CategoryPages,
	CategoryComments,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

var entityCategories = map[string]Category{
	"project":   CategoryProjects,
	"projects":  CategoryProjects,
	"workitem":  CategoryWorkItems,
	"workitems": CategoryWorkItems,
	"work_item": CategoryWorkItems,
	"issue":     CategoryWorkItems,
	"issues":    CategoryWorkItems,
	"epic":      CategoryWorkItems,
	"cycle":     CategoryCycles,
	"cycles":    CategoryCycles,
	"module":    CategoryModules,
	"modules":   CategoryModules,
	"label":     CategoryLabels,
	"labels":    CategoryLabels,
	"state":     CategoryStates,
	"states":    CategoryStates,
	"page":      CategoryPages,
	"pages":     CategoryPages,
	"comment":   CategoryComments,
	"comments":  CategoryComments,
}

// CategoryFor maps an entity type to its category. When the entity type is
// unknown the tool-name prefix before the first "_" is used.
func CategoryFor(entityType, toolName string) Category {
	if c, ok := entityCategories[strings.ToLower(strings.TrimSpace(entityType))]; ok {
		return c
	}
	prefix, _, _ := strings.Cut(toolName, "_")
	if c, ok := entityCategories[prefix]; ok {
		return c
	}
	return Category(prefix)
}

// Kind separates tools that change state from tools that only read it.
type Kind string

const (
	KindAction    Kind = "action"
	KindRetrieval Kind = "retrieval"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"` // str, int, float, bool, list, dict; "Optional[...]" allows null
	Required    bool        `yaml:"required"`
	Default     interface{} `yaml:"default"`
	Description string      `yaml:"description"`

	// AutoFillFromContext copies the value from the request context when absent.
	AutoFillFromContext bool `yaml:"auto_fill_from_context"`

	// Constraint is a govaluate expression over "value" that must hold.
	Constraint string `yaml:"constraint"`
}

// Optional reports whether a null value satisfies the parameter type.
func (p ParamSpec) Optional() bool {
	return !p.Required || strings.HasPrefix(p.Type, "Optional[")
}

// BaseType strips Optional[...] and List[...] wrappers down to the checked type.
func (p ParamSpec) BaseType() string {
	t := strings.TrimSpace(p.Type)
	if inner, ok := unwrap(t, "Optional["); ok {
		t = inner
	}
	if _, ok := unwrap(t, "List["); ok {
		return "list"
	}
	if _, ok := unwrap(t, "Dict["); ok {
		return "dict"
	}
	return strings.ToLower(t)
}

func unwrap(t, prefix string) (string, bool) {
	if strings.HasPrefix(t, prefix) && strings.HasSuffix(t, "]") {
		return strings.TrimSpace(t[len(prefix) : len(t)-1]), true
	}
	return t, false
}

// ToolMetadata declares one generated tool.
type ToolMetadata struct {
	Name              string      `yaml:"name"`
	Category          Category    `yaml:"category"`
	Method            string      `yaml:"method"`
	Description       string      `yaml:"description"`
	Kind              Kind        `yaml:"kind"`
	ReturnsEntityType string      `yaml:"returns_entity_type"`
	Parameters        []ParamSpec `yaml:"parameters"`
	PreHandler        string      `yaml:"pre_handler"`
	PostHandler       string      `yaml:"post_handler"`
}

// Param returns the parameter named name.
func (m ToolMetadata) Param(name string) (ParamSpec, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
