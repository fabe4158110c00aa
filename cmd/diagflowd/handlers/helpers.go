package handlers

import (
	"context"
	"fmt"
	"time"
)

// contextWithTimeout bounds background cache writes that outlive the
// originating request.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// resultKey namespaces execution results in the cache.
func resultKey(executionID string) string {
	return fmt.Sprintf("diagflow:execution:%s", executionID)
}
