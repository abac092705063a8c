package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/aef/pkg/eventbus"
	"github.com/dukex/aef/pkg/events"
	"github.com/dukex/aef/pkg/models"
)

func (r *run) begin(ctx context.Context, node *models.Node) *models.StepState {
	now := time.Now().UTC()

	step := r.state.Step(node.ID)
	step.Status = models.StepStatusRunning
	step.StartedAt = &now
	step.CompletedAt = nil
	step.Error = ""
	step.Path = models.PathNone
	step.Attempts = 0
	step.Output = nil

	r.state.CurrentNodeID = node.ID

	r.logger.InfoContext(ctx, "Node started", "node_id", node.ID, "node_type", node.Type)
	r.appendLog(ctx, node.ID, models.LogLevelInfo, "Node started", map[string]any{"type": node.Type, "label": node.Label})
	r.publish(ctx, events.NodeStarted{
		BaseEvent: r.baseEvent(events.NodeStartedEvent),
		NodeID:    node.ID,
		NodeType:  node.Type,
	})
	r.save(ctx)

	return step
}

func (r *run) complete(ctx context.Context, node *models.Node, step *models.StepState, path models.ExecutionPath, attempts int, output map[string]any) {
	r.closeStep(step, models.StepStatusSuccess, "")
	step.Path = path
	step.Attempts = attempts
	step.Output = output

	r.logger.InfoContext(ctx, "Node completed", "node_id", node.ID, "path", path, "attempts", attempts, "duration_ms", step.DurationMs)
	r.appendLog(ctx, node.ID, models.LogLevelInfo, "Node completed", map[string]any{"path": path, "attempts": attempts, "durationMs": step.DurationMs})
	r.publish(ctx, events.NodeCompleted{
		BaseEvent:  r.baseEvent(events.NodeCompletedEvent),
		NodeID:     node.ID,
		Path:       path,
		Attempts:   attempts,
		DurationMs: step.DurationMs,
	})
	r.save(ctx)
}

// fail records a node failure. With pauseOnErrors the execution pauses at
// the node and errPaused is returned; otherwise the walk continues.
func (r *run) fail(ctx context.Context, node *models.Node, step *models.StepState, message string) error {
	r.markFailed(ctx, node, step, message)

	if r.state.PauseOnErrors {
		r.state.Status = models.ExecutionStatusPaused
		r.state.Error = message
		r.save(ctx)

		return errPaused
	}

	r.failures = append(r.failures, node.ID)

	return nil
}

func (r *run) markFailed(ctx context.Context, node *models.Node, step *models.StepState, message string) {
	r.closeStep(step, models.StepStatusFailed, message)

	r.logger.WarnContext(ctx, "Node failed", "node_id", node.ID, "error", message)
	r.appendLog(ctx, node.ID, models.LogLevelError, "Node failed", map[string]any{"error": message, "attempts": step.Attempts})
	r.publish(ctx, events.NodeFailed{
		BaseEvent: r.baseEvent(events.NodeFailedEvent),
		NodeID:    node.ID,
		Error:     message,
		Attempts:  step.Attempts,
	})
	r.save(ctx)
}

func (r *run) skip(ctx context.Context, node *models.Node) {
	now := time.Now().UTC()

	step := r.state.Step(node.ID)
	step.Status = models.StepStatusSkipped
	step.CompletedAt = &now

	r.logger.DebugContext(ctx, "Node skipped", "node_id", node.ID)
	r.appendLog(ctx, node.ID, models.LogLevelInfo, "Node skipped", map[string]any{"reason": "canExecute is false"})
	r.save(ctx)
}

func (r *run) closeStep(step *models.StepState, status models.StepStatus, message string) {
	now := time.Now().UTC()

	step.Status = status
	step.Error = message
	step.CompletedAt = &now

	if step.StartedAt != nil {
		step.DurationMs = now.Sub(*step.StartedAt).Milliseconds()
	}
}

// finish settles the execution status from the walk's outcome.
func (r *run) finish(ctx context.Context, err error) {
	now := time.Now().UTC()
	base := func(t events.EventType) events.BaseEvent { return r.baseEvent(t) }

	switch {
	case err == nil, errors.Is(err, errEnded):
		if len(r.failures) > 0 {
			r.state.Status = models.ExecutionStatusFailed
			r.state.Error = fmt.Sprintf("%d node(s) failed: %s", len(r.failures), strings.Join(r.failures, ", "))
		} else {
			r.state.Status = models.ExecutionStatusCompleted
			r.state.CurrentNodeID = ""
		}
	case errors.Is(err, errPaused):
		r.state.Status = models.ExecutionStatusPaused
	case ctx.Err() != nil:
		r.state.Status = models.ExecutionStatusCancelled
		r.state.Error = "execution cancelled"
	default:
		r.state.Status = models.ExecutionStatusFailed
		r.state.Error = err.Error()
	}

	if r.state.Status.Terminal() {
		r.state.CompletedAt = &now
	}

	r.save(ctx)

	duration := now.Sub(r.state.StartedAt).Milliseconds()

	var event eventbus.Event

	switch r.state.Status {
	case models.ExecutionStatusCompleted:
		event = events.ExecutionCompleted{BaseEvent: base(events.ExecutionCompletedEvent), DurationMs: duration}
	case models.ExecutionStatusPaused:
		event = events.ExecutionPaused{BaseEvent: base(events.ExecutionPausedEvent), NodeID: r.state.CurrentNodeID, Error: r.state.Error}
	case models.ExecutionStatusCancelled:
		event = events.ExecutionCancelled{BaseEvent: base(events.ExecutionCancelledEvent), NodeID: r.state.CurrentNodeID}
	default:
		event = events.ExecutionFailed{BaseEvent: base(events.ExecutionFailedEvent), Error: r.state.Error}
	}

	level := models.LogLevelInfo
	if r.state.Status != models.ExecutionStatusCompleted {
		level = models.LogLevelWarn
	}

	r.logger.InfoContext(ctx, "Execution finished", "status", r.state.Status, "duration_ms", duration, "error", r.state.Error)
	r.appendLog(ctx, "", level, "Execution "+string(r.state.Status), map[string]any{"durationMs": duration, "error": r.state.Error})
	r.publish(ctx, event)
}

// save persists the state. Recording outlives cancellation of the run.
func (r *run) save(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	r.state.UpdatedAt = time.Now().UTC()
	r.state.Variables = r.resolver.Globals()

	if err := r.e.persistence.ExecutionRepository().Save(ctx, r.state); err != nil {
		r.logger.ErrorContext(ctx, "Failed to save execution state", "error", err)
	}
}

func (r *run) appendLog(ctx context.Context, nodeID string, level models.LogLevel, message string, data map[string]any) {
	ctx = context.WithoutCancel(ctx)

	entry := &models.ExecutionLog{
		ID:          uuid.NewString(),
		ExecutionID: r.state.ID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}

	if err := r.e.persistence.ExecutionRepository().AppendLog(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "Failed to append execution log", "error", err)
	}
}

func (r *run) publish(ctx context.Context, event eventbus.Event) {
	ctx = context.WithoutCancel(ctx)

	if err := r.e.eventBus.Publish(ctx, r.state.ID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// saveMemory stores what the node saw, did and produced. Actions are stored
// as resolved before credential injection, so no secret is persisted.
func (r *run) saveMemory(ctx context.Context, node *models.Node, actions []models.Action, results []models.ActionResult, outputs map[string]any, success bool) {
	ctx = context.WithoutCancel(ctx)

	path, attempts := summarize(results)

	artifact := &models.MemoryArtifact{
		ID:          uuid.NewString(),
		ExecutionID: r.state.ID,
		NodeID:      node.ID,
		Inputs: map[string]any{
			"label":     node.Label,
			"intent":    node.Intent,
			"actions":   actions,
			"variables": r.resolver.Globals(),
		},
		Processing: map[string]any{
			"actions":  results,
			"path":     path,
			"attempts": attempts,
		},
		Outputs: map[string]any{
			"success":   success,
			"variables": outputs,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := r.e.persistence.MemoryRepository().Save(ctx, artifact); err != nil {
		r.logger.ErrorContext(ctx, "Failed to save memory artifact", "node_id", node.ID, "error", err)
	}
}

func (r *run) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.NewBaseEvent(eventType, r.state.WorkflowID, r.state.ID)
}

func (r *run) nodeResult(nodeID string) models.NodeResult {
	step, ok := r.state.Steps[nodeID]
	if !ok {
		return models.NodeResult{NodeID: nodeID, Status: models.StepStatusPending, Path: models.PathNone, Error: "not executed", Timestamp: time.Now().UTC()}
	}

	timestamp := r.state.UpdatedAt
	if step.CompletedAt != nil {
		timestamp = *step.CompletedAt
	}

	return models.NodeResult{
		NodeID:    nodeID,
		Success:   step.Status == models.StepStatusSuccess || step.Status == models.StepStatusSkipped,
		Status:    step.Status,
		Path:      step.Path,
		Actions:   r.actions[nodeID],
		Output:    step.Output,
		Error:     step.Error,
		Timestamp: timestamp,
	}
}

func eventExecutionStarted(r *run, resumed bool) events.ExecutionStarted {
	return events.ExecutionStarted{
		BaseEvent: r.baseEvent(events.ExecutionStartedEvent),
		SessionID: r.state.SessionID,
		Resumed:   resumed,
	}
}
