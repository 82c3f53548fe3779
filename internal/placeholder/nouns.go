package placeholder

import (
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
)

var verbs = map[string]bool{
	"create": true, "update": true, "delete": true, "add": true, "remove": true,
	"list": true, "get": true, "retrieve": true, "archive": true, "unarchive": true,
	"search": true, "publish": true, "attach": true, "set": true, "assign": true,
	"close": true, "move": true, "transfer": true, "features": true,
}

// Role words in free-text descriptions and the tool verb they point at.
var roleWords = []struct {
	pattern *regexp.Regexp
	verb    string
}{
	{regexp.MustCompile(`\b(created|new|newly)\b`), "create"},
	{regexp.MustCompile(`\bupdated\b`), "update"},
	{regexp.MustCompile(`\barchived\b`), "archive"},
	{regexp.MustCompile(`\badded\b`), "add"},
}

// describedVerb returns the tool verb a description refers to, or "".
func describedVerb(desc string) string {
	for _, r := range roleWords {
		if r.pattern.MatchString(desc) {
			return r.verb
		}
	}
	return ""
}

// performs reports whether verb is one of the tool name's tokens.
func performs(toolName, verb string) bool {
	for _, tok := range strings.Split(strings.ToLower(toolName), "_") {
		if tok == verb {
			return true
		}
	}
	return false
}

// Aliases under which an entity may be described in free text.
var aliases = map[string][]string{
	"workitem": {"work item", "issue", "task"},
	"issue":    {"work item", "workitem"},
	"epic":     {"work item"},
	"project":  {},
}

// Singular lowercases and strips a plural suffix.
func Singular(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}

// EntityNoun returns the singular entity an action acts on: its entity_type,
// or the first non-verb token of its tool name.
func EntityNoun(a actionflow.PlannedAction) string {
	if a.EntityType != "" {
		return Singular(a.EntityType)
	}
	tokens := strings.Split(strings.ToLower(a.ToolName), "_")
	for i, tok := range tokens {
		if tok == "" || verbs[tok] {
			continue
		}
		// "work_items" reads as one noun
		if tok == "work" && i+1 < len(tokens) && strings.HasPrefix(tokens[i+1], "item") {
			return "workitem"
		}
		return Singular(tok)
	}
	return ""
}

func mentions(text, noun string) bool {
	if noun == "" {
		return false
	}
	candidates := append([]string{noun, noun + "s"}, aliases[noun]...)
	for _, c := range candidates {
		pattern := `\b` + regexp.QuoteMeta(c) + `s?\b`
		if regexp.MustCompile(pattern).MatchString(text) {
			return true
		}
	}
	return false
}

func mentionsName(text, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(text)
}
