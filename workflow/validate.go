package workflow

import (
	"fmt"

	"github.com/diagflow/diagflow/sdk"
)

// Validate runs the static checks that gate execution: graph shape,
// acyclicity, connection endpoints and reference-node configuration.
// Per-implementation Validate() is invoked separately by the engine once
// node instances exist.
func (w *Workflow) Validate() *sdk.ValidationResult {
	result := &sdk.ValidationResult{}

	if len(w.nodes) == 0 {
		result.AddError("workflow has no nodes")
		return result
	}

	if len(w.Sources()) == 0 {
		result.AddError("workflow has no source nodes (no place to start)")
	}
	if len(w.Sinks()) == 0 {
		result.AddWarning("workflow has no sink nodes")
	}

	if w.HasCycles() {
		result.AddError("workflow contains a cycle")
	}

	// Graph mutators already enforce endpoints; re-check defensively in
	// case a workflow was assembled by hand.
	for _, c := range w.conns {
		if _, ok := w.nodes[c.From]; !ok {
			result.AddError(fmt.Sprintf("connection references non-existent node: %s", c.From))
		}
		if _, ok := w.nodes[c.To]; !ok {
			result.AddError(fmt.Sprintf("connection references non-existent node: %s", c.To))
		}
	}

	for _, id := range w.order {
		w.validateNode(w.nodes[id], result)
	}

	return result
}

// validateNode checks per-node configuration the core owns. Reference
// nodes get full checks because their semantics are a scheduler concern.
func (w *Workflow) validateNode(spec *sdk.NodeSpec, result *sdk.ValidationResult) {
	w.validateInputSpec(spec, result)

	if spec.Kind != sdk.KindReference {
		return
	}

	modeStr, _ := spec.Config.GetString(sdk.CfgExecutionMode)
	execMode := sdk.ModeSync
	if modeStr != "" {
		execMode = sdk.ExecutionMode(modeStr)
	}
	if !execMode.Valid() {
		result.AddError(fmt.Sprintf("node %s: unknown execution mode: %s", spec.ID, modeStr))
		return
	}

	switch execMode {
	case sdk.ModeParallel:
		if len(spec.Config.GetStringSlice(sdk.CfgWorkflowIDs)) == 0 {
			result.AddError(fmt.Sprintf("node %s: PARALLEL mode requires workflowIds", spec.ID))
		}
	default:
		if id, _ := spec.Config.GetString(sdk.CfgWorkflowID); id == "" {
			result.AddError(fmt.Sprintf("node %s: reference target workflowId must not be empty", spec.ID))
		}
	}

	switch execMode {
	case sdk.ModeConditional:
		if cond, _ := spec.Config.GetString(sdk.CfgCondition); cond == "" {
			result.AddError(fmt.Sprintf("node %s: CONDITIONAL mode requires a condition", spec.ID))
		}
	case sdk.ModeLoop:
		dataKey, _ := spec.Config.GetString(sdk.CfgLoopDataKey)
		loopCond, _ := spec.Config.GetString(sdk.CfgLoopCondition)
		if dataKey == "" && loopCond == "" {
			result.AddError(fmt.Sprintf("node %s: LOOP mode requires loopDataKey or loopCondition", spec.ID))
		}
	}
}

// validateInputSpec checks declared inputs: keys non-empty, aliases
// unique, mergeKey present when a merge is requested.
func (w *Workflow) validateInputSpec(spec *sdk.NodeSpec, result *sdk.ValidationResult) {
	inputs, ok := spec.Config.GetSlice(sdk.CfgInputs)
	if !ok {
		return
	}

	seen := make(map[string]bool)
	for i, raw := range inputs {
		entry, ok := raw.(map[string]any)
		if !ok {
			result.AddError(fmt.Sprintf("node %s: input %d is not an object", spec.ID, i))
			continue
		}
		param := sdk.ConfigMap(entry)
		key, _ := param.GetString("key")
		if key == "" {
			result.AddError(fmt.Sprintf("node %s: input %d has an empty key", spec.ID, i))
			continue
		}
		alias, _ := param.GetString("alias")
		if alias == "" {
			alias = key
		}
		if seen[alias] {
			result.AddError(fmt.Sprintf("node %s: duplicate input alias: %s", spec.ID, alias))
		}
		seen[alias] = true
	}

	if mergeKey, present := spec.Config.GetString(sdk.CfgMergeKey); present && mergeKey == "" {
		result.AddWarning(fmt.Sprintf("node %s: empty mergeKey, resolver will use the default", spec.ID))
	}
}
