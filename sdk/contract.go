package sdk

import "context"

// Executable is the single contract the engine holds with every node
// kind. Concrete behaviours (scripting, diagnosis heuristics, transports)
// live outside the core; the engine only validates and executes.
//
// Execute is expected to resolve its inputs from the execution context,
// dispatch its computation, write its primary output under the configured
// output key, and return a result. Writing the output is the node's
// responsibility, which lets nodes produce multiple outputs.
type Executable interface {
	Validate() *ValidationResult
	Execute(ctx context.Context, ec *ExecutionContext) (*NodeExecutionResult, error)
}

// Logger is the minimal logging interface engine packages consume.
// common/logger satisfies it; embedders may supply their own.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// NopLogger discards all log output.
type NopLogger struct{}

func (NopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (NopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (NopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (NopLogger) Debug(msg string, keysAndValues ...interface{}) {}
