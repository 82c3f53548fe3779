package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
)

func (t *Tool) entityFromData(args, data map[string]interface{}) *actionflow.EntityRef {
	if len(data) == 0 {
		return nil
	}
	id := stringField(data, "id")
	if id == "" {
		return nil
	}
	entity := &actionflow.EntityRef{
		EntityID:   id,
		EntityName: stringField(data, "name"),
		EntityType: t.meta.ReturnsEntityType,
	}

	switch t.meta.Category {
	case CategoryProjects:
		entity.EntityIdentifier = stringField(data, "identifier")
		entity.ProjectIdentifier = entity.EntityIdentifier
	case CategoryWorkItems:
		projectIdent := stringField(data, "project_identifier")
		if seq := stringField(data, "sequence_id"); seq != "" && projectIdent != "" {
			entity.IssueIdentifier = projectIdent + "-" + seq
			entity.EntityIdentifier = entity.IssueIdentifier
		}
		entity.ProjectIdentifier = projectIdent
	}

	workspace, _ := args["workspace_slug"].(string)
	projectID := stringField(data, "project")
	if projectID == "" {
		projectID, _ = args["project_id"].(string)
	}
	entity.EntityURL = entityURL(t.appURL, workspace, projectID, entity)
	return entity
}

func entityURL(appURL, workspace, projectID string, e *actionflow.EntityRef) string {
	if appURL == "" || workspace == "" {
		return ""
	}
	base := appURL + "/" + workspace
	switch e.EntityType {
	case "project":
		return fmt.Sprintf("%s/projects/%s/issues/", base, e.EntityID)
	case "workitem":
		if e.IssueIdentifier != "" {
			return fmt.Sprintf("%s/browse/%s/", base, e.IssueIdentifier)
		}
		if projectID != "" {
			return fmt.Sprintf("%s/projects/%s/issues/%s", base, projectID, e.EntityID)
		}
	case "cycle", "module", "page":
		if projectID != "" {
			return fmt.Sprintf("%s/projects/%s/%ss/%s", base, projectID, e.EntityType, e.EntityID)
		}
	}
	return ""
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int, int64:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

var methodVerbs = map[string]string{
	"create":          "Created",
	"update":          "Updated",
	"update_features": "Updated features of",
	"archive":         "Archived",
	"delete":          "Deleted",
	"add_work_items":  "Added work items to",
}

// formatSuccess renders the human-readable payload, followed by the
// "Entity ...:" lines downstream extraction relies on.
func formatSuccess(meta ToolMetadata, entity *actionflow.EntityRef, data map[string]interface{}) string {
	var b strings.Builder

	verb, ok := methodVerbs[meta.Method]
	switch {
	case ok && entity != nil && entity.EntityName != "":
		fmt.Fprintf(&b, "✅ %s %s '%s'", verb, meta.ReturnsEntityType, entity.EntityName)
	case ok:
		fmt.Fprintf(&b, "✅ %s %s", verb, meta.ReturnsEntityType)
	default:
		fmt.Fprintf(&b, "✅ Successfully executed %s", meta.Name)
	}

	if !entity.Empty() {
		writeLine(&b, "Entity URL", entity.EntityURL)
		writeLine(&b, "Entity Name", entity.EntityName)
		writeLine(&b, "Entity Type", entity.EntityType)
		writeLine(&b, "Entity ID", entity.EntityID)
		writeLine(&b, "Entity Identifier", entity.EntityIdentifier)
	}

	if meta.Kind == KindRetrieval && len(data) > 0 {
		if raw, err := json.Marshal(data); err == nil {
			b.WriteString("\nData: ")
			b.Write(raw)
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "\n%s: %s", label, value)
	}
}
