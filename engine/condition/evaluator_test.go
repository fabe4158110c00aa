package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diagflow/diagflow/sdk"
)

func contextWith(values map[string]any) *sdk.ExecutionContext {
	ec := sdk.NewExecutionContext("wf")
	ec.SetAll(values)
	return ec
}

func TestEvaluateComparisons(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		values map[string]any
		want   bool
	}{
		{"numeric greater", "${error_count} > 5", map[string]any{"error_count": 12}, true},
		{"numeric greater false", "${error_count} > 5", map[string]any{"error_count": 3}, false},
		{"numeric less equal", "${error_count} <= 3", map[string]any{"error_count": 3}, true},
		{"numeric float", "${ratio} >= 0.75", map[string]any{"ratio": 0.9}, true},
		{"string equality", "${status} == ok", map[string]any{"status": "ok"}, true},
		{"quoted string equality", `${status} == "ok"`, map[string]any{"status": "ok"}, true},
		{"string inequality", "${status} != ok", map[string]any{"status": "degraded"}, true},
		{"absent variable becomes null", "${missing} == null", nil, true},
		{"present nil becomes null", "${val} == null", map[string]any{"val": nil}, true},
		{"bool literal true", "${flag}", map[string]any{"flag": true}, true},
		{"bool literal false", "${flag}", map[string]any{"flag": false}, false},
		{"whitespace tolerated", "  ${n}==2  ", map[string]any{"n": 2}, true},
	}

	e := NewEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.expr, contextWith(tt.values))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFailuresYieldFalse(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		values map[string]any
	}{
		{"empty expression", "", nil},
		{"non-numeric ordering operand", "${status} > 5", map[string]any{"status": "red"}},
		{"missing variable in ordering", "${absent} > 5", nil},
		{"bare non-boolean token", "${status}", map[string]any{"status": "maybe"}},
	}

	e := NewEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, e.Evaluate(tt.expr, contextWith(tt.values)))
		})
	}
}

func TestEvaluateCELFallback(t *testing.T) {
	e := NewEvaluator(nil)
	ec := contextWith(map[string]any{"error_count": 12, "source": "syslog"})

	// No ${} placeholders and not the simple grammar: CEL gets it.
	assert.True(t, e.Evaluate(`ctx.error_count > 10 && ctx.source == "syslog"`, ec))
	assert.False(t, e.Evaluate(`ctx.error_count > 100`, ec))

	// Broken CEL compiles to false, not a panic.
	assert.False(t, e.Evaluate(`ctx.error_count >`, ec))

	// Non-boolean CEL outcome is false.
	assert.False(t, e.Evaluate(`ctx.error_count + 1`, ec))
}

func TestEvaluateCELProgramCache(t *testing.T) {
	e := NewEvaluator(nil)
	ec := contextWith(map[string]any{"n": 1})

	assert.Equal(t, 0, e.CacheSize())
	e.Evaluate("ctx.n == 1", ec)
	e.Evaluate("ctx.n == 1", ec)
	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}
