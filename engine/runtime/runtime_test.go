package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagflow/diagflow/engine/resolver"
	"github.com/diagflow/diagflow/sdk"
)

type stubNode struct {
	validation *sdk.ValidationResult
	result     *sdk.NodeExecutionResult
	err        error
	panicWith  any
}

func (s *stubNode) Validate() *sdk.ValidationResult {
	if s.validation != nil {
		return s.validation
	}
	return &sdk.ValidationResult{}
}

func (s *stubNode) Execute(ctx context.Context, ec *sdk.ExecutionContext) (*sdk.NodeExecutionResult, error) {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	return s.result, s.err
}

func runStub(t *testing.T, stub *stubNode) *sdk.NodeExecutionResult {
	t.Helper()
	spec := &sdk.NodeSpec{ID: "n1", Kind: sdk.KindScript, Config: sdk.ConfigMap{}}
	ec := sdk.NewExecutionContext("wf")
	result := New(nil).Run(context.Background(), spec, stub, ec)
	require.NotNil(t, result)
	assert.Equal(t, "n1", result.NodeID)
	return result
}

func TestRunCapturesPanic(t *testing.T) {
	result := runStub(t, &stubNode{panicWith: "boom"})
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrNodeFailure, result.ErrorKind)
	assert.Contains(t, result.Message, "boom")
}

func TestRunValidationFailureSkipsExecute(t *testing.T) {
	vr := &sdk.ValidationResult{}
	vr.AddError("bad config")
	result := runStub(t, &stubNode{validation: vr, panicWith: "must not execute"})
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrConfig, result.ErrorKind)
}

func TestRunNilResultBecomesSuccess(t *testing.T) {
	result := runStub(t, &stubNode{})
	assert.True(t, result.Success)
	assert.Equal(t, sdk.StatusCompleted, result.Status)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sdk.ErrorKind
	}{
		{"cancelled", context.Canceled, sdk.ErrCancelled},
		{"wrapped cancelled", fmt.Errorf("run: %w", context.Canceled), sdk.ErrCancelled},
		{"deadline", context.DeadlineExceeded, sdk.ErrTimeout},
		{"missing input", &resolver.MissingInputError{Key: "x"}, sdk.ErrMissingInput},
		{"anything else", errors.New("broke"), sdk.ErrNodeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRunClassifiesExecuteError(t *testing.T) {
	result := runStub(t, &stubNode{err: &resolver.MissingInputError{Key: "raw_log", Alias: "log"}})
	assert.False(t, result.Success)
	assert.Equal(t, sdk.ErrMissingInput, result.ErrorKind)
}

func TestFailureCancelledStatus(t *testing.T) {
	r := Failure("n", sdk.ErrCancelled, "stop")
	assert.Equal(t, sdk.StatusCancelled, r.Status)

	s := Skipped("n", "upstream failed")
	assert.Equal(t, sdk.StatusSkipped, s.Status)
	assert.False(t, s.Success)
}
