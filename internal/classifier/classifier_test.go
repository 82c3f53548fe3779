package classifier

import (
	"testing"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/rules"
	"github.com/stretchr/testify/assert"
)

func action(tool string, args map[string]interface{}) actionflow.PlannedAction {
	return actionflow.PlannedAction{ToolName: tool, Args: args}
}

func TestClassify_Single(t *testing.T) {
	c := New(rules.Default(), nil)
	mode := c.Classify([]actionflow.PlannedAction{
		action("workitems_create", map[string]interface{}{"project_id": "<id of project: X>"}),
	})
	assert.Equal(t, ModeSingle, mode)
}

func TestClassify_IndependentThenRuleFlips(t *testing.T) {
	c := New(rules.New(rules.Rule{Prerequisite: "a_create", Dependent: "a_publish"}), nil)

	batch := []actionflow.PlannedAction{
		action("a_create", map[string]interface{}{"name": "x"}),
		action("b_create", map[string]interface{}{"name": "y"}),
	}
	assert.Equal(t, ModeIndependent, c.Classify(batch))

	// dependent listed before its prerequisite still flips
	flipped := append([]actionflow.PlannedAction{action("a_publish", nil)}, batch...)
	assert.Equal(t, ModeDependent, c.Classify(flipped))
}

func TestClassify_PlaceholderMakesDependent(t *testing.T) {
	c := New(nil, nil)
	mode := c.Classify([]actionflow.PlannedAction{
		action("create_project", map[string]interface{}{"name": "Demo"}),
		action("create_issue", map[string]interface{}{"project_id": "the id of the project just created"}),
	})
	assert.Equal(t, ModeDependent, mode)

	mode = c.Classify([]actionflow.PlannedAction{
		action("projects_create", map[string]interface{}{"name": "Demo"}),
		action("labels_create", map[string]interface{}{"ids": []interface{}{"<id of project: Demo>"}}),
	})
	assert.Equal(t, ModeDependent, mode)
}
