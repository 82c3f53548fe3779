package planeapi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/actionflow/internal/registry"
	"github.com/google/uuid"
)

// MemoryAPI is an in-process registry.MethodExecutor that keeps entities in
// maps. It backs dry runs and tests.
type MemoryAPI struct {
	mu       sync.Mutex
	entities map[registry.Category]map[string]map[string]interface{}
	sequence map[string]int // per-project work item counter
	failures map[string]string
	latency  time.Duration
	calls    []Call
}

// Call records one executed method.
type Call struct {
	Category registry.Category
	Method   string
	Args     map[string]interface{}
	Start    time.Time
	End      time.Time
}

// MemoryOption configures a MemoryAPI.
type MemoryOption func(*MemoryAPI)

// WithLatency delays every call, honouring cancellation.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *MemoryAPI) {
		m.latency = d
	}
}

// WithFailure makes category.method report an API error.
func WithFailure(category registry.Category, method, message string) MemoryOption {
	return func(m *MemoryAPI) {
		m.failures[string(category)+"."+method] = message
	}
}

// NewMemoryAPI creates an empty in-memory API.
func NewMemoryAPI(opts ...MemoryOption) *MemoryAPI {
	m := &MemoryAPI{
		entities: make(map[registry.Category]map[string]map[string]interface{}),
		sequence: make(map[string]int),
		failures: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Calls returns the executed methods in completion order.
func (m *MemoryAPI) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Entity returns a stored entity.
func (m *MemoryAPI) Entity(category registry.Category, id string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[category][id]
	return e, ok
}

// Execute implements registry.MethodExecutor.
func (m *MemoryAPI) Execute(ctx context.Context, category registry.Category, method string, args map[string]interface{}) (registry.MethodResult, error) {
	start := time.Now()
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return registry.MethodResult{}, ctx.Err()
		case <-time.After(m.latency):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Category: category, Method: method, Args: args, Start: start, End: time.Now()})

	if msg, ok := m.failures[string(category)+"."+method]; ok {
		return registry.MethodResult{Error: msg}, nil
	}

	switch method {
	case "create":
		return m.create(category, args), nil
	case "update", "update_features", "archive":
		return m.update(category, idArg(category, args), args), nil
	case "delete":
		id := idArg(category, args)
		if _, ok := m.entities[category][id]; !ok {
			return notFound(category, id), nil
		}
		delete(m.entities[category], id)
		return registry.MethodResult{Success: true}, nil
	case "retrieve":
		id := idArg(category, args)
		e, ok := m.entities[category][id]
		if !ok {
			return notFound(category, id), nil
		}
		return registry.MethodResult{Success: true, Data: clone(e)}, nil
	case "list":
		return m.list(category, args), nil
	case "add_work_items":
		return m.addWorkItems(category, args), nil
	}
	return registry.MethodResult{Error: fmt.Sprintf("no API route for %s.%s", category, method)}, nil
}

func (m *MemoryAPI) create(category registry.Category, args map[string]interface{}) registry.MethodResult {
	projectID, _ := args["project_id"].(string)
	if category != registry.CategoryProjects {
		if _, ok := m.entities[registry.CategoryProjects][projectID]; !ok {
			return notFound(registry.CategoryProjects, projectID)
		}
	}

	e := clone(args)
	delete(e, "workspace_slug")
	delete(e, "project_id")
	e["id"] = uuid.New().String()
	if projectID != "" {
		e["project"] = projectID
	}

	if category == registry.CategoryWorkItems {
		m.sequence[projectID]++
		e["sequence_id"] = m.sequence[projectID]
		if p, ok := m.entities[registry.CategoryProjects][projectID]; ok {
			e["project_identifier"] = p["identifier"]
		}
	}

	if m.entities[category] == nil {
		m.entities[category] = make(map[string]map[string]interface{})
	}
	m.entities[category][e["id"].(string)] = e
	return registry.MethodResult{Success: true, Data: clone(e)}
}

func (m *MemoryAPI) update(category registry.Category, id string, args map[string]interface{}) registry.MethodResult {
	e, ok := m.entities[category][id]
	if !ok {
		return notFound(category, id)
	}
	for k, v := range args {
		switch k {
		case "workspace_slug", "project_id", "issue_id":
			continue
		}
		e[k] = v
	}
	return registry.MethodResult{Success: true, Data: clone(e)}
}

func (m *MemoryAPI) list(category registry.Category, args map[string]interface{}) registry.MethodResult {
	projectID, _ := args["project_id"].(string)
	ids := make([]string, 0, len(m.entities[category]))
	for id, e := range m.entities[category] {
		if category != registry.CategoryProjects && e["project"] != projectID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	results := make([]interface{}, len(ids))
	for i, id := range ids {
		results[i] = clone(m.entities[category][id])
	}
	return registry.MethodResult{Success: true, Data: map[string]interface{}{"results": results}}
}

func (m *MemoryAPI) addWorkItems(category registry.Category, args map[string]interface{}) registry.MethodResult {
	id := idArg(category, args)
	e, ok := m.entities[category][id]
	if !ok {
		return notFound(category, id)
	}
	var added []interface{}
	switch issues := args["issues"].(type) {
	case []interface{}:
		added = issues
	case []string:
		for _, s := range issues {
			added = append(added, s)
		}
	}
	for _, issue := range added {
		issueID, _ := issue.(string)
		if _, ok := m.entities[registry.CategoryWorkItems][issueID]; !ok {
			return notFound(registry.CategoryWorkItems, issueID)
		}
	}
	existing, _ := e["issues"].([]interface{})
	e["issues"] = append(existing, added...)
	return registry.MethodResult{Success: true, Data: clone(e)}
}

func idArg(category registry.Category, args map[string]interface{}) string {
	key := map[registry.Category]string{
		registry.CategoryProjects:  "project_id",
		registry.CategoryWorkItems: "issue_id",
		registry.CategoryCycles:    "cycle_id",
		registry.CategoryModules:   "module_id",
	}[category]
	id, _ := args[key].(string)
	return id
}

func notFound(category registry.Category, id string) registry.MethodResult {
	return registry.MethodResult{Error: fmt.Sprintf("HTTP 404: %s %q not found", category, id)}
}

func clone(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ registry.MethodExecutor = (*MemoryAPI)(nil)
