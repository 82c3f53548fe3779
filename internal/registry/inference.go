package registry

import (
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
)

// InferEntity builds an entity reference from invocation arguments when the
// API response carried none. Returns nil when nothing identifies an entity.
func InferEntity(entityType string, args map[string]interface{}) *actionflow.EntityRef {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	ref := &actionflow.EntityRef{EntityType: entityType}

	idKeys := []string{"id"}
	if entityType != "" {
		idKeys = append([]string{entityType + "_id"}, idKeys...)
	}
	if CategoryFor(entityType, "") == CategoryWorkItems {
		idKeys = append(idKeys, "issue_id", "work_item_id")
	}
	for _, key := range idKeys {
		if v, ok := args[key].(string); ok && v != "" {
			ref.EntityID = v
			break
		}
	}
	if v, ok := args["name"].(string); ok {
		ref.EntityName = v
	}
	if v, ok := args["identifier"].(string); ok {
		ref.EntityIdentifier = v
	}

	if ref.EntityID == "" && ref.EntityName == "" && ref.EntityIdentifier == "" {
		return nil
	}
	return ref
}
