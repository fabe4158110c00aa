package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	commonredis "github.com/diagflow/diagflow/common/redis"
	"github.com/diagflow/diagflow/sdk"
)

// Type identifies an execution lifecycle event.
type Type string

const (
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	WorkflowCancelled Type = "workflow.cancelled"
	NodeStarted       Type = "node.started"
	NodeCompleted     Type = "node.completed"
	NodeFailed        Type = "node.failed"
	NodeSkipped       Type = "node.skipped"
)

// Event is one execution lifecycle notification.
type Event struct {
	EventID     uuid.UUID      `json:"event_id"`
	Type        Type           `json:"type"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// New builds an event with id and timestamp filled in.
func New(t Type, workflowID, executionID, nodeID string, data map[string]any) *Event {
	return &Event{
		EventID:     uuid.New(),
		Type:        t,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		Data:        data,
	}
}

// Publisher receives execution lifecycle events. Publishing is
// best-effort observability; implementations must not block execution
// on downstream failures.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
}

// Nop discards all events. Used by embedders that do not wire a stream.
type Nop struct{}

func (Nop) Publish(ctx context.Context, event *Event) {}

// StreamPublisher appends events to a Redis stream so external
// consumers (dashboards, alerting) can follow executions live.
type StreamPublisher struct {
	client *commonredis.Client
	stream string
	logger sdk.Logger
}

// NewStreamPublisher creates a publisher writing to the named stream.
func NewStreamPublisher(client *commonredis.Client, stream string, logger sdk.Logger) *StreamPublisher {
	if logger == nil {
		logger = sdk.NopLogger{}
	}
	return &StreamPublisher{client: client, stream: stream, logger: logger}
}

// Publish appends the event. Failures are logged and swallowed.
func (p *StreamPublisher) Publish(ctx context.Context, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", string(event.Type), "error", err)
		return
	}
	_, err = p.client.AddToStream(ctx, p.stream, map[string]interface{}{
		"type":         string(event.Type),
		"workflow_id":  event.WorkflowID,
		"execution_id": event.ExecutionID,
		"payload":      string(payload),
	})
	if err != nil {
		p.logger.Warn("failed to publish event", "type", string(event.Type), "error", err)
	}
}
