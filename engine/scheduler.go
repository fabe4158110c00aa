package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/diagflow/diagflow/common/metrics"
	"github.com/diagflow/diagflow/engine/runtime"
	"github.com/diagflow/diagflow/events"
	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// scheduler runs one workflow execution: it dispatches nodes whose
// predecessors have all succeeded, up to maxConcurrency at a time, and
// propagates skips through the successors of every failure. Independent
// subgraphs keep running past a failure elsewhere in the graph.
type scheduler struct {
	wf        *workflow.Workflow
	instances map[string]sdk.Executable
	runner    *runtime.Runner

	maxConcurrency int
	logger         sdk.Logger
	metrics        *metrics.Metrics
	events         events.Publisher
}

// completion is one node's outcome delivered back to the dispatch loop.
type completion struct {
	nodeID string
	result *sdk.NodeExecutionResult
}

// run drives the execution to a terminal result. It owns all scheduling
// state; worker goroutines only execute nodes and report back on the
// completions channel.
func (s *scheduler) run(ctx context.Context, ec *sdk.ExecutionContext) *sdk.WorkflowExecutionResult {
	start := time.Now()

	rank := make(map[string]int, s.wf.Size())
	for i, id := range s.wf.NodeIDs() {
		rank[id] = i
	}

	pendingPreds := make(map[string]int, s.wf.Size())
	for _, id := range s.wf.NodeIDs() {
		pendingPreds[id] = len(s.wf.Predecessors(id))
	}

	results := make(map[string]*sdk.NodeExecutionResult, s.wf.Size())
	ready := append([]string(nil), s.wf.Sources()...)
	completions := make(chan completion, s.wf.Size())
	running := 0
	cancelled := false
	var firstFailure *sdk.NodeExecutionResult

	s.events.Publish(ctx, events.New(events.WorkflowStarted, ec.WorkflowID, ec.ExecutionID, "", nil))
	s.metrics.ExecutionStarted()
	defer s.metrics.ExecutionEnded()

	dispatch := func(id string) {
		spec, _ := s.wf.Node(id)
		impl := s.instances[id]
		running++
		s.events.Publish(ctx, events.New(events.NodeStarted, ec.WorkflowID, ec.ExecutionID, id, nil))
		go func() {
			completions <- completion{nodeID: id, result: s.runner.Run(ctx, spec, impl, ec)}
		}()
	}

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			ready = nil
			s.logger.Info("execution cancelled, draining running nodes",
				"execution_id", ec.ExecutionID, "running", running)
		}

		// Dispatch in deterministic order up to the concurrency cap.
		sort.Slice(ready, func(i, j int) bool { return rank[ready[i]] < rank[ready[j]] })
		for len(ready) > 0 && running < s.maxConcurrency {
			next := ready[0]
			ready = ready[1:]
			dispatch(next)
		}

		if running == 0 {
			break
		}

		comp := <-completions
		running--
		results[comp.nodeID] = comp.result
		s.observe(ctx, ec, comp)

		if comp.result.Success {
			for _, succ := range s.wf.Successors(comp.nodeID) {
				pendingPreds[succ]--
				if pendingPreds[succ] == 0 {
					if _, done := results[succ]; !done {
						ready = append(ready, succ)
					}
				}
			}
			continue
		}

		if firstFailure == nil && comp.result.Status != sdk.StatusSkipped {
			firstFailure = comp.result
		}
		skipped := s.skipDescendants(ctx, ec, comp.nodeID, results)
		for i := 0; i < len(ready); {
			if _, wasSkipped := skipped[ready[i]]; wasSkipped {
				ready = append(ready[:i], ready[i+1:]...)
			} else {
				i++
			}
		}
	}

	// Anything still unaccounted for was unreachable after cancellation
	// or skip propagation.
	for _, id := range s.wf.NodeIDs() {
		if _, done := results[id]; done {
			continue
		}
		reason := "not dispatched: upstream node did not complete"
		if cancelled {
			reason = "execution cancelled before dispatch"
		}
		results[id] = runtime.Skipped(id, reason)
	}

	return s.assemble(ctx, ec, results, firstFailure, cancelled, start)
}

// observe emits metrics and lifecycle events for one node outcome.
func (s *scheduler) observe(ctx context.Context, ec *sdk.ExecutionContext, comp completion) {
	spec, _ := s.wf.Node(comp.nodeID)
	s.metrics.NodeFinished(string(spec.Kind), string(comp.result.Status),
		float64(comp.result.DurationMs)/1000)

	eventType := events.NodeCompleted
	switch comp.result.Status {
	case sdk.StatusFailed, sdk.StatusCancelled:
		eventType = events.NodeFailed
	case sdk.StatusSkipped:
		eventType = events.NodeSkipped
	}
	s.events.Publish(ctx, events.New(eventType, ec.WorkflowID, ec.ExecutionID, comp.nodeID, map[string]any{
		"status":      string(comp.result.Status),
		"duration_ms": comp.result.DurationMs,
		"message":     comp.result.Message,
	}))
}

// skipDescendants marks every not-yet-finished transitive successor of
// nodeID as skipped and returns the set.
func (s *scheduler) skipDescendants(ctx context.Context, ec *sdk.ExecutionContext, nodeID string, results map[string]*sdk.NodeExecutionResult) map[string]struct{} {
	skipped := make(map[string]struct{})
	queue := s.wf.Successors(nodeID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := skipped[id]; seen {
			continue
		}
		if _, done := results[id]; done {
			continue
		}
		skipped[id] = struct{}{}
		result := runtime.Skipped(id, fmt.Sprintf("upstream node %s did not complete", nodeID))
		results[id] = result
		s.observe(ctx, ec, completion{nodeID: id, result: result})
		queue = append(queue, s.wf.Successors(id)...)
	}
	if len(skipped) > 0 {
		s.logger.Info("skipped downstream nodes after failure",
			"execution_id", ec.ExecutionID, "failed_node", nodeID, "skipped", len(skipped))
	}
	return skipped
}

// assemble packages node results into the workflow result.
func (s *scheduler) assemble(ctx context.Context, ec *sdk.ExecutionContext, results map[string]*sdk.NodeExecutionResult, firstFailure *sdk.NodeExecutionResult, cancelled bool, start time.Time) *sdk.WorkflowExecutionResult {
	out := &sdk.WorkflowExecutionResult{
		ExecutionID:  ec.ExecutionID,
		WorkflowID:   ec.WorkflowID,
		NodeResults:  results,
		FinalContext: ec.Snapshot(),
		StartedAt:    start,
		DurationMs:   time.Since(start).Milliseconds(),
		Statistics:   sdk.ComputeStatistics(results),
	}

	eventType := events.WorkflowCompleted
	switch {
	case cancelled:
		out.Status = sdk.ExecutionCancelled
		out.Message = "execution cancelled"
		eventType = events.WorkflowCancelled
	case firstFailure != nil:
		out.Status = sdk.ExecutionFailed
		out.Message = fmt.Sprintf("node %s failed: %s", firstFailure.NodeID, firstFailure.Message)
		eventType = events.WorkflowFailed
	default:
		out.Status = sdk.ExecutionCompleted
		out.Success = true
	}

	s.metrics.WorkflowFinished(string(out.Status), time.Since(start).Seconds())
	s.events.Publish(ctx, events.New(eventType, ec.WorkflowID, ec.ExecutionID, "", map[string]any{
		"success":     out.Success,
		"duration_ms": out.DurationMs,
		"message":     out.Message,
	}))

	s.logger.Info("execution finished",
		"execution_id", ec.ExecutionID,
		"workflow_id", ec.WorkflowID,
		"status", string(out.Status),
		"duration_ms", out.DurationMs,
		"succeeded", out.Statistics.Succeeded,
		"failed", out.Statistics.Failed,
		"skipped", out.Statistics.Skipped,
	)
	return out
}
