package actionflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgValue_RefsAndConcrete(t *testing.T) {
	v := List(
		Literal("a"),
		Placeholder(PlaceholderRef{Source: 2, Raw: "<id of workitem: Bug>"}),
	)

	refs := v.Refs()
	assert.Len(t, refs, 1)
	assert.Equal(t, 2, refs[0].Source)
	assert.False(t, v.Resolved())
	assert.Equal(t, []interface{}{"a", "<id of workitem: Bug>"}, v.Concrete())

	v.Items[1] = Literal("7c0b3a4e-6f8e-4f5b-9d7e-1a2b3c4d5e6f")
	assert.True(t, v.Resolved())
}

func TestBatchAction_SourcesDeduplicated(t *testing.T) {
	a := &BatchAction{Args: map[string]ArgValue{
		"project_id": Placeholder(PlaceholderRef{Source: 0}),
		"parent_id":  Placeholder(PlaceholderRef{Source: 0}),
		"cycle_id":   Placeholder(PlaceholderRef{Source: 1}),
		"name":       Literal("x"),
	}}

	assert.ElementsMatch(t, []int{0, 1}, a.Sources())
	assert.True(t, a.HasPlaceholders())
}

func TestNewBatch_SetsPending(t *testing.T) {
	b := NewBatch("b1", []*BatchAction{{}, {}})

	for i, a := range b.Actions {
		assert.Equal(t, i, a.Index)
		assert.Equal(t, ActionStatusPending, a.Status())
	}
	assert.True(t, ActionStatusFailed.Terminal())
	assert.False(t, ActionStatusRunning.Terminal())
}

func TestEntityRef_Empty(t *testing.T) {
	var nilRef *EntityRef
	assert.True(t, nilRef.Empty())
	assert.True(t, (&EntityRef{}).Empty())
	assert.False(t, (&EntityRef{EntityID: "x"}).Empty())
}
