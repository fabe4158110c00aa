// Package engine executes workflow DAGs: nodes run concurrently once
// their predecessors succeed, failures skip their downstream subgraph,
// and every run produces a full per-node result report.
package engine

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/diagflow/diagflow/common/metrics"
	"github.com/diagflow/diagflow/engine/condition"
	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/engine/runtime"
	"github.com/diagflow/diagflow/events"
	"github.com/diagflow/diagflow/nodes"
	"github.com/diagflow/diagflow/registry"
	"github.com/diagflow/diagflow/sdk"
	"github.com/diagflow/diagflow/workflow"
)

// ConfigError reports a workflow that failed static validation and was
// refused before any node ran.
type ConfigError struct {
	WorkflowID string
	Result     *sdk.ValidationResult
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow %s failed validation: %v", e.WorkflowID, e.Result.Errors)
}

// Opts configures an Engine. Zero values get sensible defaults.
type Opts struct {
	Registry       *registry.Registry
	Factory        *nodes.Factory
	Logger         sdk.Logger
	Metrics        *metrics.Metrics
	Events         events.Publisher
	MaxConcurrency int
	// WorkflowTimeout bounds every run as an outer cancellation.
	// Zero disables it.
	WorkflowTimeout time.Duration
}

// Engine is the execution facade: it validates workflows, builds node
// instances and schedules runs. One engine serves many concurrent
// executions.
type Engine struct {
	registry       *registry.Registry
	factory        *nodes.Factory
	logger         sdk.Logger
	metrics        *metrics.Metrics
	events         events.Publisher
	maxConcurrency int
	timeout        time.Duration

	resolver  *resolver.Resolver
	evaluator *condition.Evaluator
	runner    *runtime.Runner

	// executionID -> context.CancelFunc for in-flight runs
	active sync.Map
}

// New creates an engine.
func New(opts Opts) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(logger)
	}
	if opts.Factory == nil {
		opts.Factory = nodes.NewFactory()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = goruntime.NumCPU()
	}
	return &Engine{
		registry:       opts.Registry,
		factory:        opts.Factory,
		logger:         logger,
		metrics:        opts.Metrics,
		events:         opts.Events,
		maxConcurrency: opts.MaxConcurrency,
		timeout:        opts.WorkflowTimeout,
		resolver:       resolver.New(logger),
		evaluator:      condition.NewEvaluator(logger),
		runner:         runtime.New(logger),
	}
}

// Registry exposes the workflow registry backing reference nodes.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Factory exposes the node factory so embedders can register kinds.
func (e *Engine) Factory() *nodes.Factory {
	return e.factory
}

// Execute validates wf, seeds a fresh execution context with initial
// and runs the DAG to completion. Validation failures refuse the run
// with a ConfigError before any node executes.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*sdk.WorkflowExecutionResult, error) {
	instances, err := e.prepare(wf)
	if err != nil {
		return nil, err
	}

	ec := sdk.NewExecutionContext(wf.ID)
	ec.SetAll(initial)

	runCtx, cancel := e.runContext(ctx)
	e.active.Store(ec.ExecutionID, cancel)
	defer func() {
		cancel()
		e.active.Delete(ec.ExecutionID)
	}()

	e.logger.Info("execution started",
		"execution_id", ec.ExecutionID,
		"workflow_id", wf.ID,
		"nodes", wf.Size(),
		"max_concurrency", e.maxConcurrency,
	)

	sched := &scheduler{
		wf:             wf,
		instances:      instances,
		runner:         e.runner,
		maxConcurrency: e.maxConcurrency,
		logger:         e.logger,
		metrics:        e.metrics,
		events:         e.events,
	}
	return sched.run(runCtx, ec), nil
}

// Execution is the handle returned by ExecuteAsync.
type Execution struct {
	ID   string
	done chan *sdk.WorkflowExecutionResult
}

// Wait blocks until the run finishes and returns its result. Safe to
// call once; the result is buffered until then.
func (x *Execution) Wait() *sdk.WorkflowExecutionResult {
	return <-x.done
}

// ExecuteAsync starts the run in the background and returns a handle
// carrying the execution id, so callers can Cancel before Wait returns.
// Validation still happens synchronously.
func (e *Engine) ExecuteAsync(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*Execution, error) {
	instances, err := e.prepare(wf)
	if err != nil {
		return nil, err
	}

	ec := sdk.NewExecutionContext(wf.ID)
	ec.SetAll(initial)

	runCtx, cancel := e.runContext(ctx)
	e.active.Store(ec.ExecutionID, cancel)

	x := &Execution{
		ID:   ec.ExecutionID,
		done: make(chan *sdk.WorkflowExecutionResult, 1),
	}
	go func() {
		sched := &scheduler{
			wf:             wf,
			instances:      instances,
			runner:         e.runner,
			maxConcurrency: e.maxConcurrency,
			logger:         e.logger,
			metrics:        e.metrics,
			events:         e.events,
		}
		result := sched.run(runCtx, ec)
		// Deregister before delivering so Cancel cannot report true
		// for a finished run a waiter has already observed.
		cancel()
		e.active.Delete(ec.ExecutionID)
		x.done <- result
	}()
	return x, nil
}

// runContext derives the per-execution context, applying the workflow
// timeout when one is configured.
func (e *Engine) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// Cancel requests cancellation of an in-flight execution. Running nodes
// observe the context; nodes not yet dispatched are skipped. Returns
// false when the execution id is unknown or already finished.
func (e *Engine) Cancel(executionID string) bool {
	value, ok := e.active.Load(executionID)
	if !ok {
		return false
	}
	value.(context.CancelFunc)()
	e.logger.Info("cancellation requested", "execution_id", executionID)
	return true
}

// ExecuteByID runs a workflow registered under id.
func (e *Engine) ExecuteByID(ctx context.Context, workflowID string, initial map[string]any) (*sdk.WorkflowExecutionResult, error) {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return nil, fmt.Errorf("workflow not registered: %s", workflowID)
	}
	return e.Execute(ctx, wf, initial)
}

// Invoke satisfies the reference executor's Invoker: sub-workflow runs
// go through the same validate-and-schedule path as top-level ones.
func (e *Engine) Invoke(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*sdk.WorkflowExecutionResult, error) {
	return e.Execute(ctx, wf, initial)
}

// prepare validates the workflow structurally, builds every node
// instance and runs each instance's own validation. Any error refuses
// the execution.
func (e *Engine) prepare(wf *workflow.Workflow) (map[string]sdk.Executable, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow must not be nil")
	}

	vr := wf.Validate()
	instances := make(map[string]sdk.Executable, wf.Size())
	deps := nodes.Dependencies{
		Logger:    e.logger,
		Resolver:  e.resolver,
		Evaluator: e.evaluator,
		Registry:  e.registry,
		Invoker:   e,
	}

	for _, spec := range wf.Nodes() {
		impl, err := e.factory.Build(spec, deps)
		if err != nil {
			vr.AddError(err.Error())
			continue
		}
		if nodeResult := impl.Validate(); nodeResult != nil {
			for _, msg := range nodeResult.Errors {
				vr.AddError(fmt.Sprintf("node %s: %s", spec.ID, msg))
			}
			for _, msg := range nodeResult.Warnings {
				vr.AddWarning(fmt.Sprintf("node %s: %s", spec.ID, msg))
			}
		}
		instances[spec.ID] = impl
	}

	if !vr.Valid() {
		e.logger.Warn("workflow refused by validation",
			"workflow_id", wf.ID, "errors", vr.Errors)
		return nil, &ConfigError{WorkflowID: wf.ID, Result: vr}
	}
	for _, msg := range vr.Warnings {
		e.logger.Warn("workflow validation warning", "workflow_id", wf.ID, "warning", msg)
	}
	return instances, nil
}
