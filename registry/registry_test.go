package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

func simpleWorkflow(t *testing.T, id string) *workflow.Workflow {
	t.Helper()
	w := workflow.New(id, id, "")
	require.NoError(t, w.AddNode(&sdk.NodeSpec{
		ID: "start", Kind: sdk.KindInput, Config: sdk.ConfigMap{},
	}))
	return w
}

func referencingWorkflow(t *testing.T, id, target string) *workflow.Workflow {
	t.Helper()
	w := workflow.New(id, id, "")
	require.NoError(t, w.AddNode(&sdk.NodeSpec{
		ID:   "ref",
		Kind: sdk.KindReference,
		Config: sdk.ConfigMap{
			"executionMode": "SYNC",
			"workflowId":    target,
		},
	}))
	return w
}

func TestRegisterAndGet(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(simpleWorkflow(t, "parse-logs"), StatusActive, "", "1.0.0"))

	wf, ok := r.Get("parse-logs")
	require.True(t, ok)
	assert.Equal(t, "parse-logs", wf.ID)
	assert.True(t, r.Has("parse-logs"))
	assert.False(t, r.Has("ghost"))

	err := r.Register(nil, StatusActive, "", "")
	assert.Error(t, err)
}

func TestRegisterUpdatePreservesReverseEdges(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(simpleWorkflow(t, "child"), StatusActive, "", "1"))
	require.NoError(t, r.Register(referencingWorkflow(t, "parent", "child"), StatusActive, "", "1"))

	assert.Equal(t, []string{"parent"}, r.Dependents("child"))

	// Re-registering the child must not lose who references it.
	require.NoError(t, r.Register(simpleWorkflow(t, "child"), StatusActive, "updated", "2"))
	assert.Equal(t, []string{"parent"}, r.Dependents("child"))

	entry, ok := r.GetEntry("child")
	require.True(t, ok)
	assert.Equal(t, "2", entry.Version)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestForwardReferenceBeforeTargetRegistered(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(referencingWorkflow(t, "parent", "child"), StatusActive, "", "1"))

	// The target is known only as a dependency stub.
	assert.False(t, r.Has("child"))
	_, ok := r.Get("child")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Statistics().Total)

	// Registering it later completes the edge.
	require.NoError(t, r.Register(simpleWorkflow(t, "child"), StatusActive, "", "1"))
	assert.True(t, r.Has("child"))
	assert.Equal(t, []string{"parent"}, r.Dependents("child"))
	assert.Equal(t, 2, r.Statistics().Total)
}

func TestDependencyCycleDetection(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(referencingWorkflow(t, "a", "b"), StatusActive, "", "1"))
	require.NoError(t, r.Register(referencingWorkflow(t, "b", "c"), StatusActive, "", "1"))
	require.NoError(t, r.Register(referencingWorkflow(t, "c", "a"), StatusActive, "", "1"))

	assert.True(t, r.HasDependencyCycle("a"))

	r2 := New(nil)
	require.NoError(t, r2.Register(referencingWorkflow(t, "a", "b"), StatusActive, "", "1"))
	require.NoError(t, r2.Register(simpleWorkflow(t, "b"), StatusActive, "", "1"))
	assert.False(t, r2.HasDependencyCycle("a"))
}

func TestSearchAndActiveIDs(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(simpleWorkflow(t, "disk-diagnosis"), StatusActive, "", "1"))
	require.NoError(t, r.Register(simpleWorkflow(t, "network-diagnosis"), StatusDraft, "", "1"))
	require.NoError(t, r.Register(simpleWorkflow(t, "cleanup"), StatusActive, "", "1"))

	assert.Equal(t, []string{"disk-diagnosis", "network-diagnosis"}, r.Search("DIAGNOSIS"))
	assert.Equal(t, []string{"cleanup", "disk-diagnosis"}, r.ActiveIDs())
}

func TestSetStatusAndStatistics(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(simpleWorkflow(t, "wf"), StatusActive, "", "1"))
	require.NoError(t, r.SetStatus("wf", StatusDeprecated))

	stats := r.Statistics()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusDeprecated])

	assert.Error(t, r.SetStatus("ghost", StatusRetired))
}
