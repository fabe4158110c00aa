package sdk

import (
	"time"
)

// NodeKind identifies the behaviour class of a workflow node.
type NodeKind string

const (
	KindInput        NodeKind = "input"
	KindPlugin       NodeKind = "plugin"
	KindScript       NodeKind = "script"
	KindDiagnosis    NodeKind = "diagnosis"
	KindReference    NodeKind = "reference"
	KindNotification NodeKind = "notification"
	KindDecision     NodeKind = "decision"
	KindAggregation  NodeKind = "aggregation"
)

// validKinds is the closed set of node kinds the engine accepts
var validKinds = map[NodeKind]bool{
	KindInput:        true,
	KindPlugin:       true,
	KindScript:       true,
	KindDiagnosis:    true,
	KindReference:    true,
	KindNotification: true,
	KindDecision:     true,
	KindAggregation:  true,
}

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	return validKinds[k]
}

// NodeStatus represents the terminal status of a node execution
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
	StatusCancelled NodeStatus = "cancelled"
)

// ErrorKind tags a failure result with its cause category.
// Failures are carried as values in results, not as panics.
type ErrorKind string

const (
	ErrNone         ErrorKind = ""
	ErrConfig       ErrorKind = "config_error"
	ErrMissingInput ErrorKind = "missing_input"
	ErrNodeFailure  ErrorKind = "node_failure"
	ErrTimeout      ErrorKind = "timeout"
	ErrCancelled    ErrorKind = "cancelled"
	ErrInternal     ErrorKind = "internal_error"
)

// NodeSpec is the static definition of a node inside a workflow.
// A node owns no state that survives an execution; everything per-run
// lives in the ExecutionContext.
type NodeSpec struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Kind   NodeKind  `json:"kind"`
	Config ConfigMap `json:"config,omitempty"`
}

// Connection is a directed data-flow edge between two nodes.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NodeExecutionResult is the outcome of a single node execution.
type NodeExecutionResult struct {
	NodeID     string         `json:"node_id"`
	Success    bool           `json:"success"`
	Status     NodeStatus     `json:"status"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Data       any            `json:"data,omitempty"`
	Message    string         `json:"message,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WithMetadata attaches a metadata entry, allocating the map lazily.
func (r *NodeExecutionResult) WithMetadata(key string, value any) *NodeExecutionResult {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// ExecutionStatus represents the overall status of a workflow run
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// WorkflowExecutionResult is the outcome of a full workflow run.
type WorkflowExecutionResult struct {
	ExecutionID  string                          `json:"execution_id"`
	WorkflowID   string                          `json:"workflow_id"`
	Success      bool                            `json:"success"`
	Status       ExecutionStatus                 `json:"status"`
	Message      string                          `json:"message,omitempty"`
	NodeResults  map[string]*NodeExecutionResult `json:"node_results"`
	FinalContext map[string]any                  `json:"final_context,omitempty"`
	StartedAt    time.Time                       `json:"started_at"`
	DurationMs   int64                           `json:"duration_ms"`
	Statistics   *ExecutionStatistics            `json:"statistics,omitempty"`
	Warnings     []string                        `json:"warnings,omitempty"`
}

// ExecutionStatistics summarises per-node outcomes for a run.
type ExecutionStatistics struct {
	TotalNodes     int     `json:"total_nodes"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	Cancelled      int     `json:"cancelled"`
	NodeDurationMs int64   `json:"node_duration_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// ComputeStatistics derives run statistics from a node result map.
func ComputeStatistics(results map[string]*NodeExecutionResult) *ExecutionStatistics {
	stats := &ExecutionStatistics{TotalNodes: len(results)}
	for _, r := range results {
		stats.NodeDurationMs += r.DurationMs
		switch r.Status {
		case StatusCompleted:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	if stats.TotalNodes > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalNodes)
	}
	return stats
}

// ValidationResult collects errors and warnings from static checks.
// Errors prevent execution; warnings are surfaced but do not.
type ValidationResult struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddError appends a validation error.
func (v *ValidationResult) AddError(msg string) {
	v.Errors = append(v.Errors, msg)
}

// AddWarning appends a validation warning.
func (v *ValidationResult) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// Merge folds another result into this one.
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
}

// Valid reports whether the result carries no errors.
func (v *ValidationResult) Valid() bool {
	return len(v.Errors) == 0
}
