package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_ConflictIn_EitherOrder(t *testing.T) {
	s := New(Rule{Prerequisite: "a_create", Dependent: "a_publish"})

	_, ok := s.ConflictIn([]string{"a_create", "other"})
	assert.False(t, ok)

	r, ok := s.ConflictIn([]string{"a_publish", "x", "a_create"})
	require.True(t, ok)
	assert.Equal(t, "a_create", r.Prerequisite)
}

func TestNew_DropsSelfAndDuplicates(t *testing.T) {
	s := New(
		Rule{Prerequisite: "a", Dependent: "a"},
		Rule{Prerequisite: "a", Dependent: "b"},
		Rule{Prerequisite: "a", Dependent: "b"},
		Rule{Prerequisite: "c", Dependent: "b"},
	)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "c"}, s.PrerequisitesOf("b"))
	assert.Empty(t, s.PrerequisitesOf("a"))
}

func TestNilSet_IsEmpty(t *testing.T) {
	var s *Set
	_, ok := s.ConflictIn([]string{"a", "b"})
	assert.False(t, ok)
	assert.Nil(t, s.PrerequisitesOf("b"))
	assert.Zero(t, s.Len())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "rules:\n  - prerequisite: x_create\n    dependent: x_publish\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Rule{{Prerequisite: "x_create", Dependent: "x_publish"}}, s.Rules())

	_, err = Parse([]byte("rules:\n  - prerequisite: only\n"))
	assert.Error(t, err)
}

func TestDefault_NotEmpty(t *testing.T) {
	d := Default()
	assert.NotZero(t, d.Len())
	assert.Contains(t, d.PrerequisitesOf("cycles_add_work_items"), "workitems_create")
}
