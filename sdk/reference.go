package sdk

// ExecutionMode selects how a reference node invokes its target
// workflow(s).
type ExecutionMode string

const (
	ModeSync        ExecutionMode = "SYNC"
	ModeAsync       ExecutionMode = "ASYNC"
	ModeConditional ExecutionMode = "CONDITIONAL"
	ModeLoop        ExecutionMode = "LOOP"
	ModeParallel    ExecutionMode = "PARALLEL"
)

// Valid reports whether m is a known execution mode.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSync, ModeAsync, ModeConditional, ModeLoop, ModeParallel:
		return true
	}
	return false
}

// Reference node configuration schema. These keys are the contract
// between workflow loaders and the core, so they are fixed here rather
// than in the executor.
const (
	CfgExecutionMode     = "executionMode"
	CfgWorkflowID        = "workflowId"
	CfgWorkflowIDs       = "workflowIds"
	CfgCondition         = "condition"
	CfgLoopDataKey       = "loopDataKey"
	CfgLoopCondition     = "loopCondition"
	CfgMaxIterations     = "maxIterations"
	CfgInputMappings     = "inputMappings"
	CfgOutputMappings    = "outputMappings"
	CfgFixedParameters   = "fixedParameters"
	CfgWaitForResult     = "waitForResult"
	CfgTimeoutMs         = "timeoutMs"
	CfgParallelTimeoutMs = "parallelTimeoutMs"
)

// Shared node configuration keys.
const (
	CfgInputs    = "inputs"
	CfgMergeKey  = "mergeKey"
	CfgOutputKey = "outputKey"
)

// Reference execution defaults.
const (
	DefaultMaxIterations     = 100
	DefaultAsyncTimeoutMs    = 30000
	DefaultParallelTimeoutMs = 60000
)

// Keys the reference executor injects into every child execution.
const (
	KeySourceWorkflowID  = "_sourceWorkflowId"
	KeySourceExecutionID = "_sourceExecutionId"
	KeyReferenceNodeID   = "_referenceNodeId"
)

// Keys written into loop iteration contexts and back to the outer one.
const (
	KeyLoopItem       = "loopItem"
	KeyLoopIndex      = "loopIndex"
	KeyLastLoopResult = "lastLoopResult"
)

// AsyncHandlePrefix prefixes the context key under which an ASYNC
// reference node stores its invocation handle.
const AsyncHandlePrefix = "_asyncHandle_"
