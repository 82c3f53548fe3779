package placeholder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/google/uuid"
)

// Ingest validates a planned batch and resolves every argument into an ArgValue.
// Ambiguous, unmatched or self-referencing placeholders are planning errors.
func Ingest(actions []actionflow.PlannedAction) (*actionflow.Batch, error) {
	if len(actions) == 0 {
		return nil, actionflow.NewPlanningError("batch contains no actions", nil)
	}

	planned := normalize(actions)
	m := newMatcher(planned)

	batchActions := make([]*actionflow.BatchAction, len(planned))
	for i, action := range planned {
		if action.ToolName == "" {
			return nil, actionflow.NewPlanningError(fmt.Sprintf("action %d has no tool_name", i), nil)
		}
		args := make(map[string]actionflow.ArgValue, len(action.Args))
		for name, raw := range action.Args {
			v, err := m.resolve(i, name, raw)
			if err != nil {
				return nil, err
			}
			args[name] = v
		}
		batchActions[i] = &actionflow.BatchAction{Action: action, Args: args}
	}

	return actionflow.NewBatch(uuid.New().String(), batchActions), nil
}

// normalize copies the actions, filling in ids and sequence hints.
func normalize(actions []actionflow.PlannedAction) []actionflow.PlannedAction {
	out := make([]actionflow.PlannedAction, len(actions))
	hasSequence := false
	for _, a := range actions {
		if a.Sequence != 0 {
			hasSequence = true
			break
		}
	}
	for i, a := range actions {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if !hasSequence {
			a.Sequence = i + 1
		}
		if a.Args == nil {
			a.Args = map[string]interface{}{}
		}
		out[i] = a
	}
	return out
}

type matcher struct {
	actions []actionflow.PlannedAction
	nouns   []string
}

func newMatcher(actions []actionflow.PlannedAction) *matcher {
	m := &matcher{actions: actions, nouns: make([]string, len(actions))}
	for i, a := range actions {
		m.nouns[i] = EntityNoun(a)
	}
	return m
}

func (m *matcher) resolve(self int, field string, raw interface{}) (actionflow.ArgValue, error) {
	switch t := raw.(type) {
	case string:
		if !IsPlaceholder(t) {
			return actionflow.Literal(t), nil
		}
		ref, err := m.match(self, field, t)
		if err != nil {
			return actionflow.ArgValue{}, err
		}
		return actionflow.Placeholder(ref), nil
	case []interface{}:
		if !Contains(t) {
			return actionflow.Literal(t), nil
		}
		items := make([]actionflow.ArgValue, len(t))
		for i, item := range t {
			v, err := m.resolve(self, field, item)
			if err != nil {
				return actionflow.ArgValue{}, err
			}
			items[i] = v
		}
		return actionflow.List(items...), nil
	case []string:
		generic := make([]interface{}, len(t))
		for i, s := range t {
			generic[i] = s
		}
		return m.resolve(self, field, generic)
	case map[string]interface{}:
		if Contains(t) {
			return actionflow.ArgValue{}, actionflow.NewPlanningError(
				fmt.Sprintf("action '%s' argument '%s': placeholders inside nested objects are not supported", m.actions[self].ToolName, field), nil)
		}
	}
	return actionflow.Literal(raw), nil
}

func (m *matcher) match(self int, field, raw string) (actionflow.PlaceholderRef, error) {
	ref := actionflow.PlaceholderRef{Raw: raw, Description: Description(raw)}

	var candidates []int
	if entityType, entityName, ok := ParseStructured(raw); ok {
		ref.EntityType = entityType
		ref.EntityName = entityName
		candidates = m.structured(self, entityType, entityName)
	} else {
		candidates = m.descriptive(self, strings.ToLower(ref.Description))
	}

	switch len(candidates) {
	case 1:
		ref.Source = candidates[0]
		return ref, nil
	case 0:
		return ref, actionflow.NewPlanningError(
			fmt.Sprintf("action '%s' argument '%s': placeholder %q matches no other action in the batch", m.actions[self].ToolName, field, raw), nil)
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = m.actions[c].ToolName
		}
		return ref, actionflow.NewPlanningError(
			fmt.Sprintf("action '%s' argument '%s': placeholder %q is ambiguous between %v", m.actions[self].ToolName, field, raw, names), nil)
	}
}

// structured matches on type and name, then on name alone. A name that no
// other action plans yields no candidate.
func (m *matcher) structured(self int, entityType, entityName string) []int {
	want := Singular(entityType)
	var byTypeAndName, byName []int
	for i, a := range m.actions {
		if i == self || !strings.EqualFold(a.ArgName(), entityName) {
			continue
		}
		byName = append(byName, i)
		if m.nouns[i] == want {
			byTypeAndName = append(byTypeAndName, i)
		}
	}
	if len(byTypeAndName) > 0 {
		return byTypeAndName
	}
	return byName
}

func (m *matcher) descriptive(self int, desc string) []int {
	var candidates []int
	for i := range m.actions {
		if i != self && mentions(desc, m.nouns[i]) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) <= 1 {
		return candidates
	}

	var named []int
	for _, c := range candidates {
		if mentionsName(desc, m.actions[c].ArgName()) {
			named = append(named, c)
		}
	}
	if len(named) > 0 {
		candidates = named
	}
	if len(candidates) <= 1 {
		return candidates
	}

	if verb := describedVerb(desc); verb != "" {
		var performing []int
		for _, c := range candidates {
			if performs(m.actions[c].ToolName, verb) {
				performing = append(performing, c)
			}
		}
		if len(performing) > 0 {
			candidates = performing
		}
	}
	if len(candidates) <= 1 {
		return candidates
	}

	seq := m.actions[self].Sequence
	var earlier []int
	for _, c := range candidates {
		if m.actions[c].Sequence < seq {
			earlier = append(earlier, c)
		}
	}
	if len(earlier) > 0 {
		candidates = earlier
	}
	sort.Ints(candidates)
	return candidates
}
