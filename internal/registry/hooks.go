package registry

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// PreHandler adjusts or rejects arguments before the method runs.
type PreHandler func(ctx context.Context, meta ToolMetadata, args map[string]interface{}) (map[string]interface{}, error)

// PostHandler inspects or rewrites a method result.
type PostHandler func(ctx context.Context, meta ToolMetadata, args map[string]interface{}, result MethodResult) (MethodResult, error)

func builtinPreHandlers() map[string]PreHandler {
	return map[string]PreHandler{
		"project_identifier": projectIdentifier,
		"project_features":   projectFeatures,
	}
}

func builtinPostHandlers() map[string]PostHandler {
	return map[string]PostHandler{}
}

const maxIdentifierLength = 5

// projectIdentifier fills in or normalizes the short project key.
func projectIdentifier(_ context.Context, _ ToolMetadata, args map[string]interface{}) (map[string]interface{}, error) {
	ident, _ := args["identifier"].(string)
	ident = strings.TrimSpace(ident)
	if ident == "" {
		name, _ := args["name"].(string)
		ident = GenerateIdentifier(name)
		if ident == "" {
			return nil, fmt.Errorf("cannot derive a project identifier from name %q", name)
		}
	}
	args["identifier"] = normalizeIdentifier(ident)
	return args, nil
}

// GenerateIdentifier derives an uppercase key of at most five characters from a name.
// Multi-word names use initials, single words use their leading letters.
func GenerateIdentifier(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	if len(words) == 1 {
		b.WriteString(words[0])
	} else {
		for _, w := range words {
			b.WriteRune([]rune(w)[0])
		}
	}
	return normalizeIdentifier(b.String())
}

func normalizeIdentifier(s string) string {
	var out []rune
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
		if len(out) == maxIdentifierLength {
			break
		}
	}
	return string(out)
}

var featureFields = []string{"cycle_view", "module_view", "page_view", "archive_in", "close_in"}

// projectFeatures rejects feature updates that would change nothing.
func projectFeatures(_ context.Context, _ ToolMetadata, args map[string]interface{}) (map[string]interface{}, error) {
	for _, f := range featureFields {
		if v, ok := args[f]; ok && v != nil {
			return args, nil
		}
	}
	return nil, fmt.Errorf("at least one of %s must be provided", strings.Join(featureFields, ", "))
}
