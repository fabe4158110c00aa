package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/sdk"
)

// Runner wraps any node implementation with the uniform lifecycle:
// validate, execute, classify failures, stamp duration. Node-local
// errors never unwind the scheduler; they are captured into results.
type Runner struct {
	logger sdk.Logger
}

// New creates a runner.
func New(logger sdk.Logger) *Runner {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Runner{logger: logger}
}

// Run executes one node and always returns a stamped result.
func (r *Runner) Run(ctx context.Context, spec *sdk.NodeSpec, impl sdk.Executable, ec *sdk.ExecutionContext) (result *sdk.NodeExecutionResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("node panicked", "node_id", spec.ID, "panic", rec)
			result = Failure(spec.ID, sdk.ErrNodeFailure, fmt.Sprintf("node panicked: %v", rec))
		}
		stamp(result, start)
	}()

	if vr := impl.Validate(); vr != nil && !vr.Valid() {
		r.logger.Warn("node validation failed", "node_id", spec.ID, "errors", vr.Errors)
		result = Failure(spec.ID, sdk.ErrConfig, fmt.Sprintf("validation failed: %v", vr.Errors))
		return result
	}

	result, err := impl.Execute(ctx, ec)
	if err != nil {
		kind := Classify(err)
		r.logger.Warn("node execution failed",
			"node_id", spec.ID,
			"kind", string(kind),
			"error", err,
		)
		result = Failure(spec.ID, kind, err.Error())
		return result
	}
	if result == nil {
		result = Success(spec.ID, nil, "")
	}
	result.NodeID = spec.ID
	return result
}

// stamp fills timing fields on the way out.
func stamp(result *sdk.NodeExecutionResult, start time.Time) {
	if result == nil {
		return
	}
	result.StartedAt = start
	result.DurationMs = time.Since(start).Milliseconds()
}

// Classify maps an execution error to its error kind.
func Classify(err error) sdk.ErrorKind {
	var missing *resolver.MissingInputError
	switch {
	case errors.Is(err, context.Canceled):
		return sdk.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return sdk.ErrTimeout
	case errors.As(err, &missing):
		return sdk.ErrMissingInput
	default:
		return sdk.ErrNodeFailure
	}
}

// Success builds a completed node result.
func Success(nodeID string, data any, message string) *sdk.NodeExecutionResult {
	return &sdk.NodeExecutionResult{
		NodeID:  nodeID,
		Success: true,
		Status:  sdk.StatusCompleted,
		Data:    data,
		Message: message,
	}
}

// Failure builds a failed node result tagged with its error kind.
func Failure(nodeID string, kind sdk.ErrorKind, message string) *sdk.NodeExecutionResult {
	status := sdk.StatusFailed
	if kind == sdk.ErrCancelled {
		status = sdk.StatusCancelled
	}
	return &sdk.NodeExecutionResult{
		NodeID:    nodeID,
		Success:   false,
		Status:    status,
		ErrorKind: kind,
		Message:   message,
	}
}

// Skipped builds the result recorded for a node that was never
// dispatched because an upstream node failed.
func Skipped(nodeID, reason string) *sdk.NodeExecutionResult {
	return &sdk.NodeExecutionResult{
		NodeID:  nodeID,
		Success: false,
		Status:  sdk.StatusSkipped,
		Message: reason,
	}
}
