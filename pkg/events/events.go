// Package events defines execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/aef/pkg/models"
)

type EventType string

const Topic = "aef.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	SessionID string `json:"session_id,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
}

func (ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	DurationMs int64 `json:"duration_ms"`
}

func (ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionPaused struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (ExecutionPaused) GetType() EventType { return ExecutionPausedEvent }

type ExecutionCancelled struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
}

func (ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type NodeStarted struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
}

func (NodeStarted) GetType() EventType { return NodeStartedEvent }

type NodeCompleted struct {
	BaseEvent

	NodeID     string               `json:"node_id"`
	Path       models.ExecutionPath `json:"path"`
	Attempts   int                  `json:"attempts"`
	DurationMs int64                `json:"duration_ms"`
}

func (NodeCompleted) GetType() EventType { return NodeCompletedEvent }

type NodeFailed struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (NodeFailed) GetType() EventType { return NodeFailedEvent }

// New returns an empty event value for decoding a payload of eventType.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionPausedEvent:
		return &ExecutionPaused{}, true
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}, true
	case NodeStartedEvent:
		return &NodeStarted{}, true
	case NodeCompletedEvent:
		return &NodeCompleted{}, true
	case NodeFailedEvent:
		return &NodeFailed{}, true
	default:
		return nil, false
	}
}
