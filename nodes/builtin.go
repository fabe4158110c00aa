package nodes

import (
	"context"
	"fmt"

	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/sdk"
)

// Built-in leaf kinds. Domain-specific kinds (log parsers, diagnosis
// plugins, script runners) are registered by embedders through
// Factory.Register or RegisterFunc.

// newInputNode seeds the context with the configured values map and
// echoes the resolved inputs. Input nodes sit at graph sources and give
// downstream nodes a well-known place to read trigger data from.
func newInputNode(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
	return NewFuncNode(spec, deps.Resolver, deps.Logger, func(ctx context.Context, ec *sdk.ExecutionContext, inputs *resolver.Resolution) (any, error) {
		seeded := make(map[string]any)
		if values, ok := spec.Config.GetMap("values"); ok {
			for k, v := range values {
				ec.Set(k, v)
				seeded[k] = v
			}
		}
		for k, v := range inputs.Raw {
			seeded[k] = v
		}
		return seeded, nil
	}), nil
}

// newDecisionNode evaluates the configured condition and records the
// boolean outcome, for routing via downstream CONDITIONAL references.
func newDecisionNode(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
	cond, _ := spec.Config.GetString(sdk.CfgCondition)
	if cond == "" {
		return nil, fmt.Errorf("decision node requires a condition")
	}
	return NewFuncNode(spec, deps.Resolver, deps.Logger, func(ctx context.Context, ec *sdk.ExecutionContext, inputs *resolver.Resolution) (any, error) {
		outcome := deps.Evaluator.Evaluate(cond, ec)
		return outcome, nil
	}), nil
}

// newAggregationNode gathers its declared inputs into one map. Used to
// join fan-in branches before a report or notification step.
func newAggregationNode(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
	return NewFuncNode(spec, deps.Resolver, deps.Logger, func(ctx context.Context, ec *sdk.ExecutionContext, inputs *resolver.Resolution) (any, error) {
		merged := make(map[string]any, len(inputs.Raw))
		for k, v := range inputs.Raw {
			merged[k] = v
		}
		return merged, nil
	}), nil
}

// newNotificationNode emits the configured message through the logger.
// Delivery transports (mail, chat webhooks) hang off a custom kind; the
// built-in keeps executions observable without one.
func newNotificationNode(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
	return NewFuncNode(spec, deps.Resolver, deps.Logger, func(ctx context.Context, ec *sdk.ExecutionContext, inputs *resolver.Resolution) (any, error) {
		message, _ := spec.Config.GetString("message")
		deps.Logger.Info("notification",
			"node_id", spec.ID,
			"message", message,
			"inputs", inputs.Raw,
		)
		return map[string]any{"message": message, "delivered": true}, nil
	}), nil
}
