package placeholder

import (
	"testing"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("<id of project: Motor Bike>"))
	assert.True(t, IsPlaceholder("The id of the project just created"))
	assert.False(t, IsPlaceholder("Motor Bike"))
	assert.False(t, IsPlaceholder(42))
	assert.True(t, Contains([]interface{}{"a", "<id of workitem: Bug>"}))
	assert.True(t, Contains(map[string]interface{}{"nested": []interface{}{"<id of cycle: S1>"}}))
	assert.False(t, ArgsContain(map[string]interface{}{"name": "x", "n": 3}))
}

func TestParseStructured(t *testing.T) {
	typ, name, ok := ParseStructured("<id of project: Motor Bike >")
	require.True(t, ok)
	assert.Equal(t, "project", typ)
	assert.Equal(t, "Motor Bike", name)

	_, _, ok = ParseStructured("the id of the project")
	assert.False(t, ok)
}

func TestEntityNoun(t *testing.T) {
	assert.Equal(t, "project", EntityNoun(actionflow.PlannedAction{ToolName: "create_project"}))
	assert.Equal(t, "workitem", EntityNoun(actionflow.PlannedAction{ToolName: "workitems_create"}))
	assert.Equal(t, "cycle", EntityNoun(actionflow.PlannedAction{ToolName: "cycles_add_work_items"}))
	assert.Equal(t, "epic", EntityNoun(actionflow.PlannedAction{ToolName: "workitems_create", EntityType: "epic"}))
	assert.Equal(t, "property", Singular("properties"))
}

func TestIngest_DescriptivePlaceholder(t *testing.T) {
	batch, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "create_project", Args: map[string]interface{}{"name": "Demo"}},
		{ToolName: "create_issue", Args: map[string]interface{}{"project_id": "the id of the project just created", "name": "First"}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Actions, 2)

	b := batch.Actions[1]
	assert.Equal(t, actionflow.ArgValuePlaceholder, b.Args["project_id"].Type)
	assert.Equal(t, 0, b.Args["project_id"].Ref.Source)
	assert.Equal(t, actionflow.ArgValueLiteral, b.Args["name"].Type)
	assert.Equal(t, 1, batch.Actions[0].Action.Sequence)
	assert.Equal(t, 2, b.Action.Sequence)
	assert.NotEmpty(t, b.Action.ID)
	assert.NotEmpty(t, batch.ID)
}

func TestIngest_StructuredPlaceholderByName(t *testing.T) {
	batch, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "workitems_create", EntityType: "workitem", Args: map[string]interface{}{"name": "Login bug"}},
		{ToolName: "workitems_create", EntityType: "workitem", Args: map[string]interface{}{"name": "Signup bug"}},
		{ToolName: "cycles_add_work_items", EntityType: "cycle", Args: map[string]interface{}{
			"issues": []interface{}{"<id of workitem: Signup bug>", "<id of workitem: Login bug>"},
		}},
	})
	require.NoError(t, err)

	issues := batch.Actions[2].Args["issues"]
	require.Equal(t, actionflow.ArgValueList, issues.Type)
	assert.Equal(t, 1, issues.Items[0].Ref.Source)
	assert.Equal(t, 0, issues.Items[1].Ref.Source)
	assert.Equal(t, "Signup bug", issues.Items[0].Ref.EntityName)
	assert.ElementsMatch(t, []int{0, 1}, batch.Actions[2].Sources())
}

func TestIngest_UnmatchedPlaceholderIsPlanningError(t *testing.T) {
	_, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "workitems_create", Args: map[string]interface{}{"project_id": "<id of project: X>"}},
	})
	require.Error(t, err)
	assert.Equal(t, actionflow.ErrCodePlanning, actionflow.CodeOf(err))
	assert.True(t, actionflow.IsStructural(err))
}

func TestIngest_AmbiguousPlaceholderIsPlanningError(t *testing.T) {
	_, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "projects_create", Sequence: 1, Args: map[string]interface{}{"name": "A"}},
		{ToolName: "projects_create", Sequence: 2, Args: map[string]interface{}{"name": "B"}},
		{ToolName: "workitems_create", Sequence: 3, Args: map[string]interface{}{"project_id": "the id of the project"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestIngest_DescriptiveNarrowsByName(t *testing.T) {
	batch, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "projects_create", Sequence: 1, Args: map[string]interface{}{"name": "Alpha"}},
		{ToolName: "projects_create", Sequence: 2, Args: map[string]interface{}{"name": "Beta"}},
		{ToolName: "workitems_create", Sequence: 3, Args: map[string]interface{}{"project_id": "the id of the Beta project"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Actions[2].Args["project_id"].Ref.Source)
}

func TestIngest_Rejections(t *testing.T) {
	_, err := Ingest(nil)
	assert.Error(t, err)

	_, err = Ingest([]actionflow.PlannedAction{{ToolName: ""}})
	assert.Error(t, err)

	_, err = Ingest([]actionflow.PlannedAction{
		{ToolName: "projects_create", Args: map[string]interface{}{"name": "A"}},
		{ToolName: "workitems_create", Args: map[string]interface{}{"meta": map[string]interface{}{"p": "<id of project: A>"}}},
	})
	assert.Error(t, err)
}

func TestIngest_StructuredPlaceholderWithUnplannedNameIsPlanningError(t *testing.T) {
	_, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "cycles_create", Args: map[string]interface{}{"name": "Sprint 2"}},
		{ToolName: "cycles_add_work_items", Args: map[string]interface{}{"cycle_id": "<id of cycle: Sprint 1>"}},
	})
	require.Error(t, err)
	assert.Equal(t, actionflow.ErrCodePlanning, actionflow.CodeOf(err))
	assert.Contains(t, err.Error(), "matches no other action")
}

func TestIngest_StructuredPlaceholderFallsBackToName(t *testing.T) {
	batch, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "workitems_create", Args: map[string]interface{}{"name": "Login bug"}},
		{ToolName: "comments_create", Args: map[string]interface{}{"issue_id": "<id of issue: Login bug>"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Actions[1].Args["issue_id"].Ref.Source)
}

func TestIngest_DescriptiveNarrowsByRole(t *testing.T) {
	batch, err := Ingest([]actionflow.PlannedAction{
		{ToolName: "projects_create", Args: map[string]interface{}{"name": "Demo"}},
		{ToolName: "projects_update_features", Args: map[string]interface{}{"project_id": "<id of project: Demo>"}},
		{ToolName: "workitems_create", Args: map[string]interface{}{"name": "First", "project_id": "the id of the project just created"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Actions[1].Args["project_id"].Ref.Source)
	assert.Equal(t, 0, batch.Actions[2].Args["project_id"].Ref.Source)
}

func TestDescribedVerb(t *testing.T) {
	assert.Equal(t, "create", describedVerb("the id of the newly created cycle"))
	assert.Equal(t, "update", describedVerb("the id of the updated project"))
	assert.Equal(t, "", describedVerb("the id of the project"))
	assert.True(t, performs("projects_update_features", "update"))
	assert.False(t, performs("projects_update_features", "create"))
}
