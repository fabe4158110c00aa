package reference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagflow/diagflow/engine/condition"
	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// fakeLookup serves workflows from a map.
type fakeLookup map[string]*workflow.Workflow

func (f fakeLookup) Get(id string) (*workflow.Workflow, bool) {
	wf, ok := f[id]
	return wf, ok
}

// fakeInvoker records invocations and replies from a script. With
// ignoreCancel it sleeps through its delay regardless of the context,
// standing in for a child that cannot be interrupted.
type fakeInvoker struct {
	mu           sync.Mutex
	calls        []invocation
	respond      func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult
	delay        time.Duration
	ignoreCancel bool
}

type invocation struct {
	workflowID string
	initial    map[string]any
}

func (f *fakeInvoker) Invoke(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*sdk.WorkflowExecutionResult, error) {
	if f.delay > 0 {
		if f.ignoreCancel {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, invocation{workflowID: wf.ID, initial: initial})
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(wf, initial), nil
	}
	return &sdk.WorkflowExecutionResult{
		WorkflowID:  wf.ID,
		ExecutionID: "exec-1",
		Success:     true,
		Status:      sdk.ExecutionCompleted,
	}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func succeedWith(finalContext map[string]any) func(*workflow.Workflow, map[string]any) *sdk.WorkflowExecutionResult {
	return func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult {
		return &sdk.WorkflowExecutionResult{
			WorkflowID:   wf.ID,
			ExecutionID:  "exec-1",
			Success:      true,
			Status:       sdk.ExecutionCompleted,
			FinalContext: finalContext,
		}
	}
}

func targetWorkflow(id string) *workflow.Workflow {
	return workflow.New(id, id, "")
}

func newRefExecutor(config sdk.ConfigMap, lookup fakeLookup, invoker *fakeInvoker) *Executor {
	spec := &sdk.NodeSpec{ID: "ref", Kind: sdk.KindReference, Config: config}
	return NewExecutor(spec, lookup, invoker, condition.NewEvaluator(nil), nil)
}

func TestSyncParameterPreparation(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode":   "SYNC",
		"workflowId":      "child",
		"inputMappings":   map[string]any{"outer_host": "host", "absent_key": "never"},
		"fixedParameters": map[string]any{"mode": "deep"},
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	ec.Set("outer_host", "db-7")

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Equal(t, 1, invoker.callCount())
	initial := invoker.calls[0].initial
	assert.Equal(t, "db-7", initial["host"])
	assert.Equal(t, "deep", initial["mode"])
	assert.Equal(t, "parent", initial[sdk.KeySourceWorkflowID])
	assert.Equal(t, ec.ExecutionID, initial[sdk.KeySourceExecutionID])
	assert.Equal(t, "ref", initial[sdk.KeyReferenceNodeID])

	// Unmapped outer keys never leak into the child.
	_, present := initial["never"]
	assert.False(t, present)
	_, present = initial["outer_host"]
	assert.False(t, present)
}

func TestSyncOutputIntegration(t *testing.T) {
	invoker := &fakeInvoker{respond: succeedWith(map[string]any{"verdict": "oom"})}
	exec := newRefExecutor(sdk.ConfigMap{
		"workflowId": "child",
		"outputMappings": map[string]any{
			"verdict":     "child_verdict",
			"absent_stat": "outer_stat",
		},
		"outputKey": "ref_summary",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)

	v, ok := ec.Get("child_verdict")
	require.True(t, ok)
	assert.Equal(t, "oom", v)

	// Keys the child never wrote stay absent outside too.
	assert.False(t, ec.Has("outer_stat"))

	summary, ok := ec.Get("ref_summary")
	require.True(t, ok)
	assert.Equal(t, true, summary.(map[string]any)["success"])
}

func TestSyncChildFailureFailsNode(t *testing.T) {
	invoker := &fakeInvoker{respond: func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult {
		return &sdk.WorkflowExecutionResult{
			WorkflowID: wf.ID, Success: false,
			Status: sdk.ExecutionFailed, Message: "node parse failed",
		}
	}}
	exec := newRefExecutor(sdk.ConfigMap{"workflowId": "child"},
		fakeLookup{"child": targetWorkflow("child")}, invoker)

	result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrNodeFailure, result.ErrorKind)
	assert.Contains(t, result.Message, "parse failed")
}

func TestSyncUnknownTargetIsConfigError(t *testing.T) {
	exec := newRefExecutor(sdk.ConfigMap{"workflowId": "ghost"}, fakeLookup{}, &fakeInvoker{})

	result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrConfig, result.ErrorKind)
}

func TestConditionalModes(t *testing.T) {
	t.Run("condition true invokes", func(t *testing.T) {
		invoker := &fakeInvoker{}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode": "CONDITIONAL",
			"workflowId":    "child",
			"condition":     "${severity} == critical",
		}, fakeLookup{"child": targetWorkflow("child")}, invoker)

		ec := sdk.NewExecutionContext("parent")
		ec.Set("severity", "critical")

		result, err := exec.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, sdk.StatusCompleted, result.Status)
		assert.Equal(t, 1, invoker.callCount())
	})

	t.Run("condition false skips", func(t *testing.T) {
		invoker := &fakeInvoker{}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode": "CONDITIONAL",
			"workflowId":    "child",
			"condition":     "${severity} == critical",
		}, fakeLookup{"child": targetWorkflow("child")}, invoker)

		result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, sdk.StatusSkipped, result.Status)
		assert.Equal(t, 0, invoker.callCount())
	})
}

func TestLoopOverItemsContinuesPastFailures(t *testing.T) {
	invoker := &fakeInvoker{respond: func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult {
		// Fail the middle item only.
		ok := initial[sdk.KeyLoopItem] != "host-b"
		return &sdk.WorkflowExecutionResult{
			WorkflowID: wf.ID, Success: ok,
			Status: sdk.ExecutionCompleted, ExecutionID: "e",
		}
	}}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "LOOP",
		"workflowId":    "child",
		"loopDataKey":   "hosts",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	ec.Set("hosts", []any{"host-a", "host-b", "host-c"})

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)

	// All three ran despite the middle failure; one success is enough.
	assert.Equal(t, 3, invoker.callCount())
	assert.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.Equal(t, 3, data["iterations"])
	assert.Equal(t, 2, data["succeeded"])

	// Each iteration saw its own item and index.
	assert.Equal(t, "host-a", invoker.calls[0].initial[sdk.KeyLoopItem])
	assert.Equal(t, 1, invoker.calls[1].initial[sdk.KeyLoopIndex])

	// The last iteration outcome is observable in the outer context.
	last, ok := ec.Get(sdk.KeyLastLoopResult)
	require.True(t, ok)
	assert.Equal(t, true, last.(map[string]any)["success"])
}

func TestLoopOverTypedSlice(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "LOOP",
		"workflowId":    "child",
		"loopDataKey":   "hosts",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	// Seeded in code rather than decoded from JSON.
	ec := sdk.NewExecutionContext("parent")
	ec.Set("hosts", []string{"host-a", "host-b"})

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Equal(t, 2, invoker.callCount())
	assert.Equal(t, "host-a", invoker.calls[0].initial[sdk.KeyLoopItem])
	assert.Equal(t, "host-b", invoker.calls[1].initial[sdk.KeyLoopItem])
}

func TestLoopAllIterationsFailedFailsNode(t *testing.T) {
	invoker := &fakeInvoker{respond: func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult {
		return &sdk.WorkflowExecutionResult{WorkflowID: wf.ID, Success: false, Status: sdk.ExecutionFailed}
	}}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "LOOP",
		"workflowId":    "child",
		"loopDataKey":   "hosts",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	ec.Set("hosts", []any{"a", "b"})

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrNodeFailure, result.ErrorKind)
}

func TestLoopConditionBoundedByMaxIterations(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "LOOP",
		"workflowId":    "child",
		"loopCondition": "${keep_going}",
		"maxIterations": 4,
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	ec.Set("keep_going", true)

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, invoker.callCount())
}

func TestLoopNonListWithoutConditionIsConfigError(t *testing.T) {
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "LOOP",
		"workflowId":    "child",
		"loopDataKey":   "hosts",
	}, fakeLookup{"child": targetWorkflow("child")}, &fakeInvoker{})

	ec := sdk.NewExecutionContext("parent")
	ec.Set("hosts", "not-a-list")

	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrConfig, result.ErrorKind)
}

func TestParallelConjunction(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		invoker := &fakeInvoker{}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode": "PARALLEL",
			"workflowIds":   []any{"disk", "network"},
		}, fakeLookup{"disk": targetWorkflow("disk"), "network": targetWorkflow("network")}, invoker)

		result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, invoker.callCount())

		data := result.Data.(map[string]any)
		assert.Contains(t, data, "disk")
		assert.Contains(t, data, "network")
	})

	t.Run("one failure fails the node", func(t *testing.T) {
		invoker := &fakeInvoker{respond: func(wf *workflow.Workflow, initial map[string]any) *sdk.WorkflowExecutionResult {
			return &sdk.WorkflowExecutionResult{
				WorkflowID: wf.ID,
				Success:    wf.ID != "network",
				Status:     sdk.ExecutionCompleted,
			}
		}}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode": "PARALLEL",
			"workflowIds":   []any{"disk", "network"},
		}, fakeLookup{"disk": targetWorkflow("disk"), "network": targetWorkflow("network")}, invoker)

		result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, sdk.ErrNodeFailure, result.ErrorKind)
		assert.Contains(t, result.Message, "1 of 2")
	})

	t.Run("timeout", func(t *testing.T) {
		invoker := &fakeInvoker{delay: 200 * time.Millisecond}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode":     "PARALLEL",
			"workflowIds":       []any{"disk"},
			"parallelTimeoutMs": 20,
		}, fakeLookup{"disk": targetWorkflow("disk")}, invoker)

		result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, sdk.ErrTimeout, result.ErrorKind)
	})

	t.Run("timeout leaves outer context untouched", func(t *testing.T) {
		invoker := &fakeInvoker{
			delay:        60 * time.Millisecond,
			ignoreCancel: true,
			respond:      succeedWith(map[string]any{"verdict": "late"}),
		}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode":     "PARALLEL",
			"workflowIds":       []any{"disk"},
			"parallelTimeoutMs": 20,
			"outputMappings":    map[string]any{"verdict": "outer_verdict"},
			"outputKey":         "parallel_out",
		}, fakeLookup{"disk": targetWorkflow("disk")}, invoker)

		ec := sdk.NewExecutionContext("parent")
		result, err := exec.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.Equal(t, sdk.ErrTimeout, result.ErrorKind)

		// Let the uninterruptible child finish: its late success must
		// not surface in a context the node already reported on.
		time.Sleep(120 * time.Millisecond)
		assert.False(t, ec.Has("outer_verdict"))
		assert.False(t, ec.Has("parallel_out"))
	})
}

func TestAsyncFireAndForgetStoresHandle(t *testing.T) {
	invoker := &fakeInvoker{}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "ASYNC",
		"workflowId":    "child",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ec := sdk.NewExecutionContext("parent")
	result, err := exec.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)

	raw, ok := ec.Get(sdk.AsyncHandlePrefix + "ref")
	require.True(t, ok)
	handle := raw.(*AsyncHandle)

	child, err := handle.Wait(time.Second)
	require.NoError(t, err)
	assert.True(t, child.Success)
	assert.True(t, handle.Done())
}

func TestAsyncChildOutlivesRunContext(t *testing.T) {
	invoker := &fakeInvoker{delay: 60 * time.Millisecond}
	exec := newRefExecutor(sdk.ConfigMap{
		"executionMode": "ASYNC",
		"workflowId":    "child",
	}, fakeLookup{"child": targetWorkflow("child")}, invoker)

	ctx, cancel := context.WithCancel(context.Background())
	ec := sdk.NewExecutionContext("parent")
	result, err := exec.Execute(ctx, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// The run context dies with the parent workflow; the dispatched
	// child keeps going.
	cancel()

	raw, ok := ec.Get(sdk.AsyncHandlePrefix + "ref")
	require.True(t, ok)
	child, err := raw.(*AsyncHandle).Wait(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.True(t, child.Success)
	assert.Equal(t, sdk.ExecutionCompleted, child.Status)
}

func TestAsyncWaitForResult(t *testing.T) {
	t.Run("completes in time", func(t *testing.T) {
		invoker := &fakeInvoker{respond: succeedWith(map[string]any{"verdict": "ok"})}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode":  "ASYNC",
			"workflowId":     "child",
			"waitForResult":  true,
			"timeoutMs":      1000,
			"outputMappings": map[string]any{"verdict": "outer_verdict"},
		}, fakeLookup{"child": targetWorkflow("child")}, invoker)

		ec := sdk.NewExecutionContext("parent")
		result, err := exec.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.True(t, result.Success)

		v, ok := ec.Get("outer_verdict")
		require.True(t, ok)
		assert.Equal(t, "ok", v)
	})

	t.Run("times out", func(t *testing.T) {
		invoker := &fakeInvoker{delay: 200 * time.Millisecond}
		exec := newRefExecutor(sdk.ConfigMap{
			"executionMode": "ASYNC",
			"workflowId":    "child",
			"waitForResult": true,
			"timeoutMs":     20,
		}, fakeLookup{"child": targetWorkflow("child")}, invoker)

		result, err := exec.Execute(context.Background(), sdk.NewExecutionContext("parent"))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, sdk.ErrTimeout, result.ErrorKind)
	})
}

func TestValidateReferenceConfig(t *testing.T) {
	tests := []struct {
		name   string
		config sdk.ConfigMap
		valid  bool
	}{
		{"sync ok", sdk.ConfigMap{"workflowId": "x"}, true},
		{"missing target", sdk.ConfigMap{}, false},
		{"bad mode", sdk.ConfigMap{"executionMode": "WARP", "workflowId": "x"}, false},
		{"parallel needs ids", sdk.ConfigMap{"executionMode": "PARALLEL"}, false},
		{"parallel ok", sdk.ConfigMap{"executionMode": "PARALLEL", "workflowIds": []any{"a"}}, true},
		{"loop needs source", sdk.ConfigMap{"executionMode": "LOOP", "workflowId": "x"}, false},
		{"loop with condition ok", sdk.ConfigMap{"executionMode": "LOOP", "workflowId": "x", "loopCondition": "${go}"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newRefExecutor(tt.config, fakeLookup{}, &fakeInvoker{})
			assert.Equal(t, tt.valid, exec.Validate().Valid())
		})
	}
}
