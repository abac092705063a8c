package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// ExecuteRequest starts a workflow. Workflow, when set, is run without being stored.
type ExecuteRequest struct {
	WorkflowID    string
	Workflow      *models.Workflow
	SessionID     string
	Variables     map[string]any
	PauseOnErrors *bool
	Wait          bool
}

type ExecuteNodesRequest struct {
	WorkflowID string
	NodeIDs    []string
	SessionID  string
	Variables  map[string]any
}

type ExecuteNodesResponse struct {
	Success     bool                `json:"success"`
	ExecutionID string              `json:"executionId"`
	Status      string              `json:"status"`
	Results     []models.NodeResult `json:"results"`
	Error       string              `json:"error,omitempty"`
}

type Execution struct {
	persistence    persistence.Persistence
	engine         *engine.Engine
	workflows      *Workflow
	defaultSession string
	logger         *slog.Logger
}

func NewExecution(persistence persistence.Persistence, engine *engine.Engine, workflows *Workflow, defaultSession string, logger *slog.Logger) *Execution {
	return &Execution{
		persistence:    persistence,
		engine:         engine,
		workflows:      workflows,
		defaultSession: defaultSession,
		logger:         logger,
	}
}

// Execute runs a workflow in the background, or to the end when req.Wait is set.
func (s *Execution) Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionState, error) {
	wf, err := s.resolveWorkflow(ctx, req.WorkflowID, req.Workflow)
	if err != nil {
		return nil, err
	}

	opts := engine.ExecuteOptions{
		SessionID:     s.session(req.SessionID),
		Variables:     req.Variables,
		PauseOnErrors: req.PauseOnErrors,
	}

	var state *models.ExecutionState
	if req.Wait {
		state, err = s.engine.Execute(ctx, wf, opts)
	} else {
		state, err = s.engine.Start(ctx, wf, opts)
	}

	if err != nil {
		return nil, mapEngineError("execute", err)
	}

	s.logger.InfoContext(ctx, "Execution accepted", "workflow_id", wf.ID(), "execution_id", state.ID, "wait", req.Wait)

	return state, nil
}

// ExecuteNodes runs the given nodes once, in order, and waits for them.
func (s *Execution) ExecuteNodes(ctx context.Context, req ExecuteNodesRequest) (*ExecuteNodesResponse, error) {
	if len(req.NodeIDs) == 0 {
		return nil, NewValidationError("execute_nodes", "node_ids_required", "", ErrNodeIDsRequired)
	}

	wf, err := s.resolveWorkflow(ctx, req.WorkflowID, nil)
	if err != nil {
		return nil, err
	}

	results, state, err := s.engine.ExecuteNodes(ctx, wf, req.NodeIDs, engine.ExecuteOptions{
		SessionID: s.session(req.SessionID),
		Variables: req.Variables,
	})
	if err != nil {
		return nil, mapEngineError("execute_nodes", err)
	}

	resp := &ExecuteNodesResponse{
		Success:     true,
		ExecutionID: state.ID,
		Status:      string(state.Status),
		Results:     results,
	}

	for _, result := range results {
		if !result.Success {
			resp.Success = false
			resp.Error = fmt.Sprintf("node %s failed: %s", result.NodeID, result.Error)

			break
		}
	}

	return resp, nil
}

func (s *Execution) Get(ctx context.Context, id string) (*models.ExecutionState, error) {
	return s.persistence.ExecutionRepository().GetByID(ctx, id)
}

func (s *Execution) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionState, error) {
	return s.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID)
}

func (s *Execution) Logs(ctx context.Context, id string) ([]*models.ExecutionLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().Logs(ctx, id)
}

// Resume continues a paused execution, in the background unless wait is set.
func (s *Execution) Resume(ctx context.Context, id string, wait bool) (*models.ExecutionState, error) {
	state, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if state.Status != models.ExecutionStatusPaused {
		return nil, NewConflictError("resume", "not_paused",
			fmt.Sprintf("execution %s is %s", id, state.Status), ErrExecutionNotPaused)
	}

	wf, err := s.workflows.FetchByID(ctx, state.WorkflowID)
	if err != nil {
		return nil, err
	}

	var resumed *models.ExecutionState
	if wait {
		resumed, err = s.engine.Resume(ctx, wf, id)
	} else {
		resumed, err = s.engine.StartResume(ctx, wf, id)
	}

	if err != nil {
		return nil, mapEngineError("resume", err)
	}

	s.logger.InfoContext(ctx, "Execution resumed", "execution_id", id, "wait", wait)

	return resumed, nil
}

func (s *Execution) Cancel(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.engine.Cancel(id); err != nil {
		return mapEngineError("cancel", err)
	}

	s.logger.InfoContext(ctx, "Execution cancel requested", "execution_id", id)

	return nil
}

func (s *Execution) resolveWorkflow(ctx context.Context, id string, inline *models.Workflow) (*models.Workflow, error) {
	switch {
	case inline != nil:
		return inline, nil
	case id != "":
		return s.workflows.FetchByID(ctx, id)
	default:
		return nil, NewValidationError("execute", "workflow_required", "", ErrWorkflowRequired)
	}
}

func (s *Execution) session(id string) string {
	if id == "" {
		return s.defaultSession
	}

	return id
}

func mapEngineError(op string, err error) error {
	switch {
	case errors.Is(err, engine.ErrEmptyWorkflow):
		return NewValidationError(op, "empty_workflow", err.Error(), ErrInvalidRequest)
	case errors.Is(err, engine.ErrNodeNotFound):
		return NewValidationError(op, "unknown_node", err.Error(), ErrUnknownNode)
	case errors.Is(err, engine.ErrAlreadyRunning):
		return NewConflictError(op, "already_running", err.Error(), ErrExecutionRunning)
	case errors.Is(err, engine.ErrNotRunning):
		return NewConflictError(op, "not_running", err.Error(), ErrExecutionNotRunning)
	case errors.Is(err, engine.ErrNotPaused):
		return NewConflictError(op, "not_paused", err.Error(), ErrExecutionNotPaused)
	case errors.Is(err, engine.ErrWorkflowMismatch):
		return NewValidationError(op, "workflow_mismatch", err.Error(), ErrWorkflowIDMismatch)
	default:
		return err
	}
}
