package nodes

import (
	"fmt"
	"sync"

	"github.com/diagflow/diagflow/engine/condition"
	"github.com/diagflow/diagflow/engine/reference"
	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/sdk"
)

// Dependencies carries the shared collaborators node constructors may
// need. The engine fills it once and hands it to every Build call.
type Dependencies struct {
	Logger    sdk.Logger
	Resolver  *resolver.Resolver
	Evaluator *condition.Evaluator
	Registry  reference.Lookup
	Invoker   reference.Invoker
}

// Constructor builds an executable node instance from its spec.
type Constructor func(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error)

// Factory maps node kinds to constructors. Embedders register custom
// kinds alongside the built-ins.
type Factory struct {
	mu           sync.RWMutex
	constructors map[sdk.NodeKind]Constructor
}

// NewFactory creates a factory with the built-in kinds registered.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[sdk.NodeKind]Constructor)}

	f.Register(sdk.KindReference, func(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
		return reference.NewExecutor(spec, deps.Registry, deps.Invoker, deps.Evaluator, deps.Logger), nil
	})
	f.Register(sdk.KindInput, newInputNode)
	f.Register(sdk.KindDecision, newDecisionNode)
	f.Register(sdk.KindAggregation, newAggregationNode)
	f.Register(sdk.KindNotification, newNotificationNode)
	return f
}

// Register installs (or replaces) the constructor for a kind.
func (f *Factory) Register(kind sdk.NodeKind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

// RegisterFunc installs a function-backed kind: the callback receives
// resolved inputs and returns the node's primary result.
func (f *Factory) RegisterFunc(kind sdk.NodeKind, fn Func) {
	f.Register(kind, func(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
		return NewFuncNode(spec, deps.Resolver, deps.Logger, fn), nil
	})
}

// Supports reports whether the factory can build the kind.
func (f *Factory) Supports(kind sdk.NodeKind) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[kind]
	return ok
}

// Build constructs an executable for the spec.
func (f *Factory) Build(spec *sdk.NodeSpec, deps Dependencies) (sdk.Executable, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[spec.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no constructor registered for node kind %q", spec.Kind)
	}
	impl, err := ctor(spec, deps)
	if err != nil {
		return nil, fmt.Errorf("build node %s: %w", spec.ID, err)
	}
	return impl, nil
}
