package sdk

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the per-run keyed store shared among concurrently
// executing nodes. It distinguishes a key that is absent from a key that
// is present with a nil value: Get returns (nil, true) for the latter.
//
// Values are not deep-copied; two nodes reading the same key share the
// value. The safe discipline is read, produce a new value, write under
// your own key.
type ExecutionContext struct {
	WorkflowID  string
	ExecutionID string
	StartTime   time.Time

	mu   sync.RWMutex
	data map[string]any

	metaMu sync.RWMutex
	meta   map[string]any
}

// NewExecutionContext creates a context for one workflow run.
func NewExecutionContext(workflowID string) *ExecutionContext {
	return &ExecutionContext{
		WorkflowID:  workflowID,
		ExecutionID: uuid.NewString(),
		StartTime:   time.Now(),
		data:        make(map[string]any),
		meta:        make(map[string]any),
	}
}

// Set stores a value under key, overwriting any previous value.
// Empty keys are ignored.
func (c *ExecutionContext) Set(key string, value any) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}

// SetAll stores every entry of values. Used to seed initial data and
// prepared reference-node parameters.
func (c *ExecutionContext) SetAll(values map[string]any) {
	if len(values) == 0 {
		return
	}
	c.mu.Lock()
	for k, v := range values {
		if k != "" {
			c.data[k] = v
		}
	}
	c.mu.Unlock()
}

// Get returns the stored value and whether the key is present.
// A stored nil yields (nil, true).
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.data[key]
	c.mu.RUnlock()
	return v, ok
}

// GetOrDefault returns the stored value, or def only when the key is
// absent. A present nil is returned as nil, not def.
func (c *ExecutionContext) GetOrDefault(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether the key is present, nil values included.
func (c *ExecutionContext) Has(key string) bool {
	c.mu.RLock()
	_, ok := c.data[key]
	c.mu.RUnlock()
	return ok
}

// Remove deletes the key.
func (c *ExecutionContext) Remove(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Snapshot returns a shallow copy of the data store. Iteration order of
// the returned map is unspecified.
func (c *ExecutionContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]any, len(c.data))
	for k, v := range c.data {
		snap[k] = v
	}
	return snap
}

// SetMetadata stores an entry in the parallel metadata store.
func (c *ExecutionContext) SetMetadata(key string, value any) {
	if key == "" {
		return
	}
	c.metaMu.Lock()
	c.meta[key] = value
	c.metaMu.Unlock()
}

// GetMetadata returns a metadata entry and whether it is present.
func (c *ExecutionContext) GetMetadata(key string) (any, bool) {
	c.metaMu.RLock()
	v, ok := c.meta[key]
	c.metaMu.RUnlock()
	return v, ok
}

// MetadataSnapshot returns a shallow copy of the metadata store.
func (c *ExecutionContext) MetadataSnapshot() map[string]any {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	snap := make(map[string]any, len(c.meta))
	for k, v := range c.meta {
		snap[k] = v
	}
	return snap
}
