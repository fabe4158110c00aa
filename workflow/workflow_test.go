package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagflow/diagflow/sdk"
)

func node(id string, kind sdk.NodeKind) *sdk.NodeSpec {
	return &sdk.NodeSpec{ID: id, Name: id, Kind: kind, Config: sdk.ConfigMap{}}
}

func buildDiamond(t *testing.T) *Workflow {
	t.Helper()
	w := New("diamond", "diamond", "")
	require.NoError(t, w.AddNode(node("a", sdk.KindInput)))
	require.NoError(t, w.AddNode(node("b", sdk.KindScript)))
	require.NoError(t, w.AddNode(node("c", sdk.KindScript)))
	require.NoError(t, w.AddNode(node("d", sdk.KindAggregation)))
	require.NoError(t, w.AddConnection("a", "b"))
	require.NoError(t, w.AddConnection("a", "c"))
	require.NoError(t, w.AddConnection("b", "d"))
	require.NoError(t, w.AddConnection("c", "d"))
	return w
}

func TestAddNodeRejectsDuplicatesAndUnknownKinds(t *testing.T) {
	w := New("wf", "wf", "")
	require.NoError(t, w.AddNode(node("a", sdk.KindInput)))

	err := w.AddNode(node("a", sdk.KindScript))
	assert.ErrorContains(t, err, "duplicate node id")

	err = w.AddNode(node("b", sdk.NodeKind("teleport")))
	assert.ErrorContains(t, err, "unknown kind")
}

func TestAddConnectionRequiresBothEndpoints(t *testing.T) {
	w := New("wf", "wf", "")
	require.NoError(t, w.AddNode(node("a", sdk.KindInput)))

	err := w.AddConnection("a", "ghost")
	assert.ErrorContains(t, err, "non-existent node")
}

func TestSourcesAndSinks(t *testing.T) {
	w := buildDiamond(t)
	assert.Equal(t, []string{"a"}, w.Sources())
	assert.Equal(t, []string{"d"}, w.Sinks())
}

func TestTopologicalOrderIsDeterministic(t *testing.T) {
	w := buildDiamond(t)

	first, err := w.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, first)

	for i := 0; i < 10; i++ {
		again, err := w.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTopologicalOrderFollowsInsertionRank(t *testing.T) {
	// "late" becomes ready before "early", but insertion rank still
	// decides the order.
	w := New("wf", "wf", "")
	for _, id := range []string{"a", "b", "early", "late"} {
		require.NoError(t, w.AddNode(node(id, sdk.KindScript)))
	}
	require.NoError(t, w.AddConnection("a", "late"))
	require.NoError(t, w.AddConnection("b", "early"))

	order, err := w.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "early", "late"}, order)
}

func TestCycleDetection(t *testing.T) {
	w := New("cyclic", "cyclic", "")
	require.NoError(t, w.AddNode(node("a", sdk.KindInput)))
	require.NoError(t, w.AddNode(node("b", sdk.KindScript)))
	require.NoError(t, w.AddNode(node("c", sdk.KindScript)))
	require.NoError(t, w.AddConnection("a", "b"))
	require.NoError(t, w.AddConnection("b", "c"))
	require.NoError(t, w.AddConnection("c", "a"))

	assert.True(t, w.HasCycles())
	_, err := w.TopologicalOrder()
	assert.ErrorContains(t, err, "cycle")

	vr := w.Validate()
	assert.False(t, vr.Valid())
}

func TestRemoveNodeDropsEdges(t *testing.T) {
	w := buildDiamond(t)
	w.RemoveNode("b")

	assert.Equal(t, 3, w.Size())
	assert.Equal(t, []string{"c"}, w.Successors("a"))
	assert.Equal(t, []string{"c"}, w.Predecessors("d"))
	for _, conn := range w.Connections() {
		assert.NotEqual(t, "b", conn.From)
		assert.NotEqual(t, "b", conn.To)
	}
}

func TestValidateEmptyWorkflow(t *testing.T) {
	w := New("empty", "empty", "")
	vr := w.Validate()
	assert.False(t, vr.Valid())
	assert.Contains(t, vr.Errors[0], "no nodes")
}

func TestValidateReferenceNodeConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  sdk.ConfigMap
		wantErr string
	}{
		{
			name:    "missing workflowId",
			config:  sdk.ConfigMap{"executionMode": "SYNC"},
			wantErr: "workflowId",
		},
		{
			name:    "unknown mode",
			config:  sdk.ConfigMap{"executionMode": "SIDEWAYS", "workflowId": "x"},
			wantErr: "execution mode",
		},
		{
			name:    "conditional without condition",
			config:  sdk.ConfigMap{"executionMode": "CONDITIONAL", "workflowId": "x"},
			wantErr: "condition",
		},
		{
			name:    "loop without source",
			config:  sdk.ConfigMap{"executionMode": "LOOP", "workflowId": "x"},
			wantErr: "loopDataKey or loopCondition",
		},
		{
			name:   "valid sync",
			config: sdk.ConfigMap{"executionMode": "SYNC", "workflowId": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New("wf", "wf", "")
			require.NoError(t, w.AddNode(&sdk.NodeSpec{
				ID: "ref", Kind: sdk.KindReference, Config: tt.config,
			}))
			vr := w.Validate()
			if tt.wantErr == "" {
				assert.True(t, vr.Valid(), "errors: %v", vr.Errors)
			} else {
				require.False(t, vr.Valid())
				found := false
				for _, e := range vr.Errors {
					if strings.Contains(e, tt.wantErr) {
						found = true
					}
				}
				assert.True(t, found, "no error mentioning %q in %v", tt.wantErr, vr.Errors)
			}
		})
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	w := buildDiamond(t)
	w.Metadata["team"] = "platform"

	rebuilt, err := FromDefinition(w.Definition())
	require.NoError(t, err)

	assert.Equal(t, w.ID, rebuilt.ID)
	assert.Equal(t, w.NodeIDs(), rebuilt.NodeIDs())
	assert.Equal(t, w.Connections(), rebuilt.Connections())
	assert.Equal(t, "platform", rebuilt.Metadata["team"])
}
