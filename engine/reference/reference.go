package reference

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/diagflow/diagflow/engine/condition"
	"github.com/diagflow/diagflow/engine/runtime"
	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// Lookup resolves workflow ids to registered workflows. The registry
// satisfies it.
type Lookup interface {
	Get(id string) (*workflow.Workflow, bool)
}

// Invoker runs a workflow against a fresh execution context. The engine
// satisfies it; the indirection keeps this package free of the
// scheduler.
type Invoker interface {
	Invoke(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*sdk.WorkflowExecutionResult, error)
}

// Executor implements the reference node: a node whose behaviour is to
// execute another registered workflow in one of five modes.
type Executor struct {
	spec      *sdk.NodeSpec
	registry  Lookup
	invoker   Invoker
	evaluator *condition.Evaluator
	logger    sdk.Logger
}

// NewExecutor creates a reference node executor.
func NewExecutor(spec *sdk.NodeSpec, registry Lookup, invoker Invoker, evaluator *condition.Evaluator, logger sdk.Logger) *Executor {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Executor{
		spec:      spec,
		registry:  registry,
		invoker:   invoker,
		evaluator: evaluator,
		logger:    logger,
	}
}

// mode returns the configured execution mode, defaulting to SYNC.
func (e *Executor) mode() sdk.ExecutionMode {
	if s, _ := e.spec.Config.GetString(sdk.CfgExecutionMode); s != "" {
		return sdk.ExecutionMode(s)
	}
	return sdk.ModeSync
}

// Validate checks the reference configuration.
func (e *Executor) Validate() *sdk.ValidationResult {
	result := &sdk.ValidationResult{}
	mode := e.mode()
	if !mode.Valid() {
		result.AddError(fmt.Sprintf("unknown execution mode: %s", mode))
		return result
	}

	if mode == sdk.ModeParallel {
		if len(e.spec.Config.GetStringSlice(sdk.CfgWorkflowIDs)) == 0 {
			result.AddError("PARALLEL mode requires workflowIds")
		}
	} else if id, _ := e.spec.Config.GetString(sdk.CfgWorkflowID); id == "" {
		result.AddError("reference target workflowId must not be empty")
	}

	switch mode {
	case sdk.ModeConditional:
		if cond, _ := e.spec.Config.GetString(sdk.CfgCondition); cond == "" {
			result.AddError("CONDITIONAL mode requires a condition")
		}
	case sdk.ModeLoop:
		dataKey, _ := e.spec.Config.GetString(sdk.CfgLoopDataKey)
		loopCond, _ := e.spec.Config.GetString(sdk.CfgLoopCondition)
		if dataKey == "" && loopCond == "" {
			result.AddError("LOOP mode requires loopDataKey or loopCondition")
		}
	}
	return result
}

// Execute dispatches to the configured mode.
func (e *Executor) Execute(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	switch e.mode() {
	case sdk.ModeSync:
		return e.executeSync(ctx, ec)
	case sdk.ModeAsync:
		return e.executeAsync(ctx, ec)
	case sdk.ModeConditional:
		return e.executeConditional(ctx, ec)
	case sdk.ModeLoop:
		return e.executeLoop(ctx, ec)
	case sdk.ModeParallel:
		return e.executeParallel(ctx, ec)
	default:
		return runtime.Failure(e.spec.ID, sdk.ErrConfig,
			fmt.Sprintf("unknown execution mode: %s", e.mode())), nil
	}
}

// prepareParams builds the child execution's initial data: mapped outer
// values, then fixed parameters, then the auto-injected source keys.
func (e *Executor) prepareParams(ec *sdk.ExecutionContext) map[string]any {
	params := make(map[string]any)

	for outerKey, innerKey := range e.spec.Config.GetStringMap(sdk.CfgInputMappings) {
		if value, ok := ec.Get(outerKey); ok {
			params[innerKey] = value
		} else {
			e.logger.Debug("input mapping source absent",
				"node_id", e.spec.ID, "outer_key", outerKey)
		}
	}

	if fixed, ok := e.spec.Config.GetMap(sdk.CfgFixedParameters); ok {
		for k, v := range fixed {
			params[k] = v
		}
	}

	params[sdk.KeySourceWorkflowID] = ec.WorkflowID
	params[sdk.KeySourceExecutionID] = ec.ExecutionID
	params[sdk.KeyReferenceNodeID] = e.spec.ID
	return params
}

// integrateOutputs copies mapped values from the child's final context
// into the outer context. An inner key the child never wrote is simply
// not written (absent stays absent).
func (e *Executor) integrateOutputs(child *sdk.WorkflowExecutionResult, ec *sdk.ExecutionContext) {
	for innerKey, outerKey := range e.spec.Config.GetStringMap(sdk.CfgOutputMappings) {
		value, ok := child.FinalContext[innerKey]
		if !ok {
			e.logger.Debug("output mapping source absent in child context",
				"node_id", e.spec.ID, "inner_key", innerKey, "outer_key", outerKey)
			continue
		}
		ec.Set(outerKey, value)
	}
}

// resolveTarget fetches the configured workflow from the registry.
func (e *Executor) resolveTarget(id string) (*workflow.Workflow, error) {
	if e.registry == nil {
		return nil, fmt.Errorf("no workflow registry configured")
	}
	target, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("referenced workflow not found: %s", id)
	}
	return target, nil
}

// summarise compacts a child run into the map stored as node output.
func summarise(res *sdk.WorkflowExecutionResult) map[string]any {
	return map[string]any{
		"workflowId":  res.WorkflowID,
		"executionId": res.ExecutionID,
		"success":     res.Success,
		"message":     res.Message,
		"durationMs":  res.DurationMs,
	}
}

// writeOutput stores the node's primary result under the configured
// output key, when one is set.
func (e *Executor) writeOutput(ec *sdk.ExecutionContext, data any) {
	if key, _ := e.spec.Config.GetString(sdk.CfgOutputKey); key != "" {
		ec.Set(key, data)
	}
}

// executeSync resolves the target, invokes it and blocks for the
// result. The child's failure becomes this node's failure.
func (e *Executor) executeSync(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	workflowID, _ := e.spec.Config.GetString(sdk.CfgWorkflowID)
	target, err := e.resolveTarget(workflowID)
	if err != nil {
		return runtime.Failure(e.spec.ID, sdk.ErrConfig, err.Error()), nil
	}

	child, err := e.invoker.Invoke(ctx, target, e.prepareParams(ec))
	if err != nil {
		return nil, fmt.Errorf("sub-workflow %s: %w", workflowID, err)
	}
	if !child.Success {
		return runtime.Failure(e.spec.ID, sdk.ErrNodeFailure,
			fmt.Sprintf("sub-workflow %s failed: %s", workflowID, child.Message)), nil
	}

	e.integrateOutputs(child, ec)
	summary := summarise(child)
	e.writeOutput(ec, summary)
	return runtime.Success(e.spec.ID, summary, ""), nil
}

// AsyncHandle is the opaque value an ASYNC reference stores in the
// context. Callers holding the final context snapshot may Wait on it.
type AsyncHandle struct {
	WorkflowID string
	NodeID     string

	done   chan struct{}
	mu     sync.Mutex
	result *sdk.WorkflowExecutionResult
	err    error
}

func newAsyncHandle(workflowID, nodeID string) *AsyncHandle {
	return &AsyncHandle{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		done:       make(chan struct{}),
	}
}

// complete records the outcome and releases waiters.
func (h *AsyncHandle) complete(result *sdk.WorkflowExecutionResult, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Done reports whether the invocation finished.
func (h *AsyncHandle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the invocation finishes or timeout elapses.
// A non-positive timeout waits indefinitely.
func (h *AsyncHandle) Wait(timeout time.Duration) (*sdk.WorkflowExecutionResult, error) {
	if timeout > 0 {
		select {
		case <-h.done:
		case <-time.After(timeout):
			return nil, context.DeadlineExceeded
		}
	} else {
		<-h.done
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// executeAsync dispatches the child invocation to a goroutine. With
// waitForResult the node blocks up to timeoutMs; otherwise it succeeds
// immediately and leaves the handle in the context.
func (e *Executor) executeAsync(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	workflowID, _ := e.spec.Config.GetString(sdk.CfgWorkflowID)
	target, err := e.resolveTarget(workflowID)
	if err != nil {
		return runtime.Failure(e.spec.ID, sdk.ErrConfig, err.Error()), nil
	}

	params := e.prepareParams(ec)
	handle := newAsyncHandle(workflowID, e.spec.ID)
	ec.Set(sdk.AsyncHandlePrefix+e.spec.ID, handle)

	wait := e.spec.Config.BoolOrDefault(sdk.CfgWaitForResult, false)
	childCtx := ctx
	if !wait {
		// The run context is cancelled as soon as the parent workflow
		// finishes; a fire-and-forget child must outlive it so the
		// handle eventually carries a real result.
		childCtx = context.WithoutCancel(ctx)
	}
	go func() {
		child, err := e.invoker.Invoke(childCtx, target, params)
		handle.complete(child, err)
	}()

	if !wait {
		return runtime.Success(e.spec.ID, map[string]any{
			"workflowId": workflowID,
			"async":      true,
		}, "sub-workflow dispatched").WithMetadata("handleKey", sdk.AsyncHandlePrefix+e.spec.ID), nil
	}

	timeoutMs := e.spec.Config.IntOrDefault(sdk.CfgTimeoutMs, sdk.DefaultAsyncTimeoutMs)
	child, err := handle.Wait(time.Duration(timeoutMs) * time.Millisecond)
	if err == context.DeadlineExceeded {
		return runtime.Failure(e.spec.ID, sdk.ErrTimeout,
			fmt.Sprintf("sub-workflow %s timed out after %dms", workflowID, timeoutMs)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sub-workflow %s: %w", workflowID, err)
	}
	if !child.Success {
		return runtime.Failure(e.spec.ID, sdk.ErrNodeFailure,
			fmt.Sprintf("sub-workflow %s failed: %s", workflowID, child.Message)), nil
	}

	e.integrateOutputs(child, ec)
	summary := summarise(child)
	e.writeOutput(ec, summary)
	return runtime.Success(e.spec.ID, summary, ""), nil
}

// executeConditional evaluates the condition against the outer context;
// false yields a successful result with SKIPPED status and the child is
// never invoked.
func (e *Executor) executeConditional(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	cond, _ := e.spec.Config.GetString(sdk.CfgCondition)
	if !e.evaluator.Evaluate(cond, ec) {
		e.logger.Debug("condition false, reference skipped",
			"node_id", e.spec.ID, "condition", cond)
		result := runtime.Success(e.spec.ID, nil, "condition not met, sub-workflow skipped")
		result.Status = sdk.StatusSkipped
		return result.WithMetadata("condition", cond), nil
	}
	return e.executeSync(ctx, ec)
}

// asList widens a stored value to []any. JSON-decoded lists arrive as
// []any already; programmatically seeded slices ([]string, []int, ...)
// count too. Strings and byte slices are not lists.
func asList(raw any) ([]any, bool) {
	switch raw.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return raw.([]any), true
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

// iterationSummary captures one loop iteration's outcome.
type iterationSummary struct {
	Index       int    `json:"index"`
	ExecutionID string `json:"execution_id,omitempty"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// executeLoop iterates the target workflow, either over the list stored
// under loopDataKey or while loopCondition holds, bounded by
// maxIterations. Iterations continue past failures; the node succeeds
// when at least one iteration succeeded.
func (e *Executor) executeLoop(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	workflowID, _ := e.spec.Config.GetString(sdk.CfgWorkflowID)
	target, err := e.resolveTarget(workflowID)
	if err != nil {
		return runtime.Failure(e.spec.ID, sdk.ErrConfig, err.Error()), nil
	}

	maxIterations := e.spec.Config.IntOrDefault(sdk.CfgMaxIterations, sdk.DefaultMaxIterations)
	dataKey, _ := e.spec.Config.GetString(sdk.CfgLoopDataKey)
	loopCond, _ := e.spec.Config.GetString(sdk.CfgLoopCondition)

	var items []any
	useItems := false
	if dataKey != "" {
		if raw, ok := ec.Get(dataKey); ok {
			items, useItems = asList(raw)
		}
	}
	if !useItems && loopCond == "" {
		return runtime.Failure(e.spec.ID, sdk.ErrConfig,
			fmt.Sprintf("loopDataKey %s does not hold a list and no loopCondition is set", dataKey)), nil
	}

	var summaries []iterationSummary
	succeeded := 0

	runIteration := func(index int, item any, withItem bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := e.prepareParams(ec)
		if withItem {
			params[sdk.KeyLoopItem] = item
		}
		params[sdk.KeyLoopIndex] = index

		child, err := e.invoker.Invoke(ctx, target, params)
		summary := iterationSummary{Index: index}
		if err != nil {
			summary.Message = err.Error()
			e.logger.Warn("loop iteration errored",
				"node_id", e.spec.ID, "iteration", index, "error", err)
		} else {
			summary.ExecutionID = child.ExecutionID
			summary.Success = child.Success
			summary.Message = child.Message
			summary.DurationMs = child.DurationMs
			if child.Success {
				succeeded++
				e.integrateOutputs(child, ec)
			}
		}
		summaries = append(summaries, summary)
		// Aggregate is written back between iterations so a
		// loopCondition can observe progress.
		ec.Set(sdk.KeyLastLoopResult, map[string]any{
			"index":   summary.Index,
			"success": summary.Success,
			"message": summary.Message,
		})
		return nil
	}

	if useItems {
		for i, item := range items {
			if i >= maxIterations {
				e.logger.Warn("loop iteration cap reached",
					"node_id", e.spec.ID, "max_iterations", maxIterations)
				break
			}
			if err := runIteration(i, item, true); err != nil {
				return nil, err
			}
		}
	} else {
		for i := 0; i < maxIterations; i++ {
			if !e.evaluator.Evaluate(loopCond, ec) {
				break
			}
			if err := runIteration(i, nil, false); err != nil {
				return nil, err
			}
		}
	}

	data := map[string]any{
		"iterations": len(summaries),
		"succeeded":  succeeded,
		"results":    summaries,
	}
	e.writeOutput(ec, data)

	if len(summaries) > 0 && succeeded == 0 {
		return runtime.Failure(e.spec.ID, sdk.ErrNodeFailure,
			fmt.Sprintf("all %d loop iterations failed", len(summaries))), nil
	}
	return runtime.Success(e.spec.ID, data,
		fmt.Sprintf("%d/%d iterations succeeded", succeeded, len(summaries))), nil
}

// executeParallel fans out every workflow in workflowIds with the same
// prepared parameters and waits up to parallelTimeoutMs. Overall
// success is the conjunction of the invocations.
func (e *Executor) executeParallel(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	ids := e.spec.Config.GetStringSlice(sdk.CfgWorkflowIDs)
	if len(ids) == 0 {
		return runtime.Failure(e.spec.ID, sdk.ErrConfig, "PARALLEL mode requires workflowIds"), nil
	}

	params := e.prepareParams(ec)
	timeoutMs := e.spec.Config.IntOrDefault(sdk.CfgParallelTimeoutMs, sdk.DefaultParallelTimeoutMs)

	// Children run under their own cancellable context so a timed-out
	// fan-out is stopped instead of left running in the background.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	type outcome struct {
		child *sdk.WorkflowExecutionResult
		err   error
	}
	var (
		mu       sync.Mutex
		outcomes = make(map[string]outcome, len(ids))
		wg       sync.WaitGroup
	)

	for _, id := range ids {
		wg.Add(1)
		go func(workflowID string) {
			defer wg.Done()
			target, err := e.resolveTarget(workflowID)
			if err != nil {
				mu.Lock()
				outcomes[workflowID] = outcome{err: err}
				mu.Unlock()
				return
			}
			child, err := e.invoker.Invoke(runCtx, target, params)
			mu.Lock()
			outcomes[workflowID] = outcome{child: child, err: err}
			mu.Unlock()
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return runtime.Failure(e.spec.ID, sdk.ErrTimeout,
			fmt.Sprintf("parallel invocation timed out after %dms", timeoutMs)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Every child has finished; outputs are integrated here, on the
	// node's own goroutine, so nothing touches the outer context after
	// the node has reported.
	data := make(map[string]any, len(ids))
	failed := 0
	for _, id := range ids {
		oc := outcomes[id]
		switch {
		case oc.err != nil:
			data[id] = map[string]any{"success": false, "message": oc.err.Error()}
			failed++
		case !oc.child.Success:
			data[id] = summarise(oc.child)
			failed++
		default:
			data[id] = summarise(oc.child)
			e.integrateOutputs(oc.child, ec)
		}
	}

	e.writeOutput(ec, data)
	if failed > 0 {
		return runtime.Failure(e.spec.ID, sdk.ErrNodeFailure,
			fmt.Sprintf("%d of %d parallel sub-workflows failed", failed, len(ids))), nil
	}
	return runtime.Success(e.spec.ID, data, ""), nil
}
