package nodes

import (
	"context"

	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/engine/runtime"
	"github.com/diagflow/diagflow/sdk"
)

// Func is the body of a function-backed node: it receives the resolved
// inputs and returns the node's primary result value.
type Func func(ctx context.Context, ec *sdk.ExecutionContext, inputs *resolver.Resolution) (any, error)

// FuncNode adapts a Go function into an executable node. It handles
// input declaration parsing, input resolution and output-key writing so
// the function only computes.
type FuncNode struct {
	spec     *sdk.NodeSpec
	resolver *resolver.Resolver
	logger   sdk.Logger
	fn       Func
}

// NewFuncNode wraps fn as the implementation of spec.
func NewFuncNode(spec *sdk.NodeSpec, res *resolver.Resolver, logger sdk.Logger, fn Func) *FuncNode {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	if res == nil {
		res = resolver.New(logger)
	}
	return &FuncNode{spec: spec, resolver: res, logger: logger, fn: fn}
}

// Validate checks the input declaration parses.
func (n *FuncNode) Validate() *sdk.ValidationResult {
	result := &sdk.ValidationResult{}
	if _, err := resolver.ParseInputSpec(n.spec.Config); err != nil {
		result.AddError(err.Error())
	}
	return result
}

// Execute resolves declared inputs, runs the function and stores its
// result under the configured output key.
func (n *FuncNode) Execute(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	inputs := &resolver.Resolution{Value: map[string]any{}, Raw: map[string]any{}}

	spec, err := resolver.ParseInputSpec(n.spec.Config)
	if err != nil {
		return nil, err
	}
	if spec != nil {
		inputs, err = n.resolver.Resolve(ec, spec)
		if err != nil {
			return nil, err
		}
	}

	value, err := n.fn(ctx, ec, inputs)
	if err != nil {
		return nil, err
	}

	if key, _ := n.spec.Config.GetString(sdk.CfgOutputKey); key != "" {
		ec.Set(key, value)
	}

	result := runtime.Success(n.spec.ID, value, "")
	if inputs.Metadata != nil {
		for k, v := range inputs.Metadata {
			result.WithMetadata(k, v)
		}
	}
	return result, nil
}
