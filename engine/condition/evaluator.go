package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/diagflow/diagflow/sdk"
)

// placeholderPattern matches ${name} references into the execution
// context.
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// comparison operators, two-character ones first so "<=" is not split
// as "<"
var operators = []string{"==", "!=", "<=", ">=", "<", ">"}

// Evaluator evaluates reference-node condition strings against an
// execution context. The language is a single comparison or boolean
// literal after ${var} substitution; expressions outside that grammar
// fall through to a cached CEL program with the context bound as `ctx`.
//
// Evaluation failures yield false with a warning. They never raise:
// a broken condition must not take a workflow down.
type Evaluator struct {
	logger sdk.Logger

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator(logger sdk.Logger) *Evaluator {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &Evaluator{
		logger: logger,
		cache:  make(map[string]cel.Program),
	}
}

// Evaluate resolves expr against ec and returns the boolean outcome.
func (e *Evaluator) Evaluate(expr string, ec *sdk.ExecutionContext) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		e.logger.Warn("empty condition evaluates to false")
		return false
	}

	substituted := e.substitute(expr, ec)

	for _, op := range operators {
		if idx := strings.Index(substituted, op); idx >= 0 {
			lhs := substituted[:idx]
			rhs := substituted[idx+len(op):]
			return e.compare(lhs, op, rhs)
		}
	}

	if b, err := strconv.ParseBool(strings.TrimSpace(substituted)); err == nil {
		return b
	}

	// Not the simple grammar: hand the raw expression to CEL.
	if !strings.Contains(expr, "${") {
		return e.evaluateCEL(expr, ec)
	}

	e.logger.Warn("condition did not evaluate to a boolean", "expression", expr)
	return false
}

// substitute replaces every ${name} with the stringified context value.
// Absent or nil values become the literal "null".
func (e *Evaluator) substitute(expr string, ec *sdk.ExecutionContext) string {
	return placeholderPattern.ReplaceAllStringFunc(expr, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-1])
		value, ok := ec.Get(name)
		if !ok || value == nil {
			return "null"
		}
		if s, isString := value.(string); isString {
			return s
		}
		return fmt.Sprintf("%v", value)
	})
}

// compare applies one comparison operator.
func (e *Evaluator) compare(lhs, op, rhs string) bool {
	lhs = strings.TrimSpace(lhs)
	rhs = strings.TrimSpace(rhs)

	switch op {
	case "==", "!=":
		equal := stripQuotes(lhs) == stripQuotes(rhs)
		if op == "!=" {
			return !equal
		}
		return equal
	default:
		left, lerr := strconv.ParseFloat(lhs, 64)
		right, rerr := strconv.ParseFloat(rhs, 64)
		if lerr != nil || rerr != nil {
			e.logger.Warn("non-numeric operand in comparison",
				"lhs", lhs, "op", op, "rhs", rhs)
			return false
		}
		switch op {
		case "<":
			return left < right
		case "<=":
			return left <= right
		case ">":
			return left > right
		case ">=":
			return left >= right
		}
		return false
	}
}

// stripQuotes removes one matching pair of surrounding single or double
// quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// evaluateCEL compiles (or fetches from cache) and runs a CEL program
// over the context snapshot.
func (e *Evaluator) evaluateCEL(expr string, ec *sdk.ExecutionContext) bool {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = compileCEL(expr)
		if err != nil {
			e.logger.Warn("condition failed to compile", "expression", expr, "error", err)
			return false
		}
		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"ctx": ec.Snapshot()})
	if err != nil {
		e.logger.Warn("condition evaluation error", "expression", expr, "error", err)
		return false
	}

	result, ok := out.Value().(bool)
	if !ok {
		e.logger.Warn("condition did not return a boolean",
			"expression", expr, "got", fmt.Sprintf("%T", out.Value()))
		return false
	}
	return result
}

// compileCEL builds a CEL program with the context bound as `ctx`.
func compileCEL(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("ctx", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return prg, nil
}

// CacheSize returns the number of cached CEL programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops all cached programs.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
