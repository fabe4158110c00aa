package sdk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContextPreservesNil(t *testing.T) {
	ec := NewExecutionContext("wf")

	ec.Set("probe_result", nil)

	v, ok := ec.Get("probe_result")
	assert.True(t, ok, "present nil must read as present")
	assert.Nil(t, v)
	assert.True(t, ec.Has("probe_result"))

	// Default applies only to absent keys.
	assert.Nil(t, ec.GetOrDefault("probe_result", "fallback"))
	assert.Equal(t, "fallback", ec.GetOrDefault("never_set", "fallback"))

	_, ok = ec.Get("never_set")
	assert.False(t, ok)
}

func TestExecutionContextSetGetRemove(t *testing.T) {
	ec := NewExecutionContext("wf")
	require.NotEmpty(t, ec.ExecutionID)

	ec.Set("count", 3)
	ec.Set("count", 4)
	v, ok := ec.Get("count")
	require.True(t, ok)
	assert.Equal(t, 4, v)

	ec.Remove("count")
	assert.False(t, ec.Has("count"))

	// Empty keys are ignored.
	ec.Set("", "x")
	assert.False(t, ec.Has(""))
}

func TestExecutionContextSnapshotIsCopy(t *testing.T) {
	ec := NewExecutionContext("wf")
	ec.SetAll(map[string]any{"a": 1, "b": nil})

	snap := ec.Snapshot()
	assert.Equal(t, 2, len(snap))

	snap["c"] = 3
	assert.False(t, ec.Has("c"))
}

func TestExecutionContextConcurrentAccess(t *testing.T) {
	ec := NewExecutionContext("wf")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%8))
			ec.Set(key, n)
			ec.Get(key)
			ec.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, len(ec.Snapshot()))
}

func TestExecutionContextMetadata(t *testing.T) {
	ec := NewExecutionContext("wf")
	ec.SetMetadata("trigger", "api")

	v, ok := ec.GetMetadata("trigger")
	require.True(t, ok)
	assert.Equal(t, "api", v)

	// Metadata and data stores are independent.
	assert.False(t, ec.Has("trigger"))
	assert.Equal(t, 1, len(ec.MetadataSnapshot()))
}
