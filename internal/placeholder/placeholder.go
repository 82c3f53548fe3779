// Package placeholder turns raw planner arguments into resolved ArgValues.
//
// A placeholder is an argument that names a value another action in the same
// batch will produce. Two spellings are accepted:
//
//	<id of project: Motor Bike>          structured: entity type and planned name
//	the id of the project just created   descriptive: free text
//
// Ingest matches every placeholder to exactly one source action up front so
// scheduling never has to re-read argument text.
package placeholder

import (
	"regexp"
	"strings"
)

const (
	structuredMarker  = "<id of"
	descriptivePrefix = "the id of "
)

var structuredPattern = regexp.MustCompile(`<id of (\w+): (.+)>`)

// IsPlaceholder reports whether v is a placeholder string.
func IsPlaceholder(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if strings.Contains(s, structuredMarker) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), descriptivePrefix)
}

// Contains reports whether v, or anything nested in it, is a placeholder.
func Contains(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return IsPlaceholder(t)
	case []interface{}:
		for _, item := range t {
			if Contains(item) {
				return true
			}
		}
	case []string:
		for _, item := range t {
			if IsPlaceholder(item) {
				return true
			}
		}
	case map[string]interface{}:
		for _, item := range t {
			if Contains(item) {
				return true
			}
		}
	}
	return false
}

// ArgsContain reports whether any argument holds a placeholder.
func ArgsContain(args map[string]interface{}) bool {
	for _, v := range args {
		if Contains(v) {
			return true
		}
	}
	return false
}

// ParseStructured splits "<id of type: name>" into its parts.
func ParseStructured(s string) (entityType, entityName string, ok bool) {
	m := structuredPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), strings.TrimSpace(m[2]), true
}

// Description returns the free-text part of a placeholder.
func Description(s string) string {
	trimmed := strings.TrimSpace(s)
	if t, n, ok := ParseStructured(trimmed); ok {
		return t + ": " + n
	}
	if strings.HasPrefix(strings.ToLower(trimmed), descriptivePrefix) {
		return strings.TrimSpace(trimmed[len(descriptivePrefix):])
	}
	return trimmed
}
