package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
)

var (
	browsePattern    = regexp.MustCompile(`/browse/([A-Za-z0-9]+)-(\d+)/?`)
	identifierPrefix = regexp.MustCompile(`^([A-Za-z0-9]+)-\d+$`)
	quotedName       = regexp.MustCompile(`['"]([^'"]+)['"]`)
)

var entityLines = map[string]func(*actionflow.EntityRef, string){
	"Entity URL":        func(e *actionflow.EntityRef, v string) { e.EntityURL = v },
	"Entity Name":       func(e *actionflow.EntityRef, v string) { e.EntityName = v },
	"Entity Type":       func(e *actionflow.EntityRef, v string) { e.EntityType = v },
	"Entity ID":         func(e *actionflow.EntityRef, v string) { e.EntityID = v },
	"Entity Identifier": func(e *actionflow.EntityRef, v string) { e.EntityIdentifier = v },
}

// ParseEntityInfo recovers an entity reference from a tool's result text.
// It understands a JSON object with an "entity" key, "Entity ...:" lines, and
// plain creation messages. Returns nil when nothing is found.
func ParseEntityInfo(toolName, result string) *actionflow.EntityRef {
	if e := fromJSON(result); !e.Empty() {
		return complete(e)
	}
	if e := fromLines(result); !e.Empty() {
		return complete(e)
	}
	if e := fromCreateText(toolName, result); !e.Empty() {
		return complete(e)
	}
	return nil
}

func fromJSON(result string) *actionflow.EntityRef {
	trimmed := strings.TrimSpace(result)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var payload struct {
		Entity *actionflow.EntityRef `json:"entity"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil
	}
	return payload.Entity
}

func fromLines(result string) *actionflow.EntityRef {
	e := &actionflow.EntityRef{}
	for _, line := range strings.Split(result, "\n") {
		label, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		if set, known := entityLines[strings.TrimSpace(label)]; known {
			set(e, strings.TrimSpace(value))
		}
	}
	return e
}

func fromCreateText(toolName, result string) *actionflow.EntityRef {
	lower := strings.ToLower(result)
	if !strings.Contains(toolName, "create") {
		return nil
	}
	if !strings.Contains(lower, "created successfully") && !strings.Contains(result, "✅") {
		return nil
	}
	e := &actionflow.EntityRef{}
	if m := quotedName.FindStringSubmatch(result); m != nil {
		e.EntityName = m[1]
	}
	if id := uuidSearch.FindString(result); id != "" {
		e.EntityID = id
	}
	if m := browsePattern.FindStringSubmatch(result); m != nil {
		e.IssueIdentifier = m[1] + "-" + m[2]
	}
	return e
}

// complete derives issue and project identifiers that are implied by other fields.
func complete(e *actionflow.EntityRef) *actionflow.EntityRef {
	if e.IssueIdentifier == "" {
		if m := browsePattern.FindStringSubmatch(e.EntityURL); m != nil {
			e.IssueIdentifier = m[1] + "-" + m[2]
		}
	}
	if e.ProjectIdentifier == "" {
		e.ProjectIdentifier = ProjectIdentifier(e)
	}
	return e
}

// ProjectIdentifier returns the short project key implied by an entity.
func ProjectIdentifier(e *actionflow.EntityRef) string {
	if e.Empty() {
		return ""
	}
	if e.ProjectIdentifier != "" {
		return e.ProjectIdentifier
	}
	if e.EntityType == "project" && e.EntityIdentifier != "" {
		return e.EntityIdentifier
	}
	for _, ident := range []string{e.IssueIdentifier, e.EntityIdentifier} {
		if m := identifierPrefix.FindStringSubmatch(ident); m != nil {
			return m[1]
		}
	}
	if m := browsePattern.FindStringSubmatch(e.EntityURL); m != nil {
		return m[1]
	}
	return ""
}
