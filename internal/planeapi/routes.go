package planeapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/actionflow/internal/registry"
)

type route struct {
	verb string
	path string // {name} segments are taken from the arguments
}

const projectBase = "/workspaces/{workspace_slug}/projects/{project_id}"

var routes = map[registry.Category]map[string]route{
	registry.CategoryProjects: {
		"create":          {http.MethodPost, "/workspaces/{workspace_slug}/projects/"},
		"update":          {http.MethodPatch, projectBase + "/"},
		"update_features": {http.MethodPatch, projectBase + "/features/"},
		"archive":         {http.MethodPost, projectBase + "/archive/"},
		"list":            {http.MethodGet, "/workspaces/{workspace_slug}/projects/"},
		"retrieve":        {http.MethodGet, projectBase + "/"},
	},
	registry.CategoryWorkItems: {
		"create":   {http.MethodPost, projectBase + "/work-items/"},
		"update":   {http.MethodPatch, projectBase + "/work-items/{issue_id}/"},
		"delete":   {http.MethodDelete, projectBase + "/work-items/{issue_id}/"},
		"list":     {http.MethodGet, projectBase + "/work-items/"},
		"retrieve": {http.MethodGet, projectBase + "/work-items/{issue_id}/"},
	},
	registry.CategoryCycles: {
		"create":         {http.MethodPost, projectBase + "/cycles/"},
		"add_work_items": {http.MethodPost, projectBase + "/cycles/{cycle_id}/cycle-issues/"},
		"list":           {http.MethodGet, projectBase + "/cycles/"},
	},
	registry.CategoryModules: {
		"create":         {http.MethodPost, projectBase + "/modules/"},
		"add_work_items": {http.MethodPost, projectBase + "/modules/{module_id}/module-issues/"},
		"list":           {http.MethodGet, projectBase + "/modules/"},
	},
	registry.CategoryLabels: {
		"create": {http.MethodPost, projectBase + "/labels/"},
		"list":   {http.MethodGet, projectBase + "/labels/"},
	},
	registry.CategoryStates: {
		"create": {http.MethodPost, projectBase + "/states/"},
		"list":   {http.MethodGet, projectBase + "/states/"},
	},
	registry.CategoryPages: {
		"create": {http.MethodPost, projectBase + "/pages/"},
	},
	registry.CategoryComments: {
		"create": {http.MethodPost, projectBase + "/work-items/{issue_id}/comments/"},
	},
}

// expand fills path parameters from args and returns the remaining body fields.
func (r route) expand(args map[string]interface{}) (string, map[string]interface{}, error) {
	body := make(map[string]interface{}, len(args))
	for k, v := range args {
		body[k] = v
	}

	path := r.path
	for {
		start := strings.Index(path, "{")
		if start < 0 {
			break
		}
		end := strings.Index(path[start:], "}")
		if end < 0 {
			return "", nil, fmt.Errorf("malformed route %q", r.path)
		}
		name := path[start+1 : start+end]
		value, ok := args[name].(string)
		if !ok || value == "" {
			return "", nil, fmt.Errorf("path parameter %q is missing", name)
		}
		path = path[:start] + value + path[start+end+1:]
		delete(body, name)
	}
	return path, body, nil
}
