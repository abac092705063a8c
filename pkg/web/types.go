// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"encoding/json"

	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/models"
)

// ExecuteRequest represents the request body for starting an execution.
// Workflow is an inline document run without being stored.
type ExecuteRequest struct {
	WorkflowID    string          `json:"workflowId"              validate:"required_without=Workflow"`
	Workflow      json.RawMessage `json:"workflow,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Variables     map[string]any  `json:"variables,omitempty"`
	PauseOnErrors *bool           `json:"pauseOnErrors,omitempty"`
	Wait          bool            `json:"wait,omitempty"`
}

// ExecuteNodesRequest represents the request body for running selected nodes.
type ExecuteNodesRequest struct {
	WorkflowID string         `json:"workflowId"          validate:"required"`
	NodeIDs    []string       `json:"nodeIds"             validate:"required,min=1,dive,required"`
	SessionID  string         `json:"sessionId,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// CredentialRequest represents the request body for storing a credential.
type CredentialRequest struct {
	Fields map[string]string `json:"fields" validate:"required,min=1"`
}

// ExecutionResponse follows the result contract: success is false and error
// is set whenever the execution did not complete.
type ExecutionResponse struct {
	Success     bool                   `json:"success"`
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	State       *models.ExecutionState `json:"state,omitempty"`
}

// ValidateResponse lists the issues of a workflow document.
type ValidateResponse struct {
	Valid    bool           `json:"valid"`
	Errors   []loader.Issue `json:"errors"`
	Warnings []loader.Issue `json:"warnings"`
}

// NewExecutionResponse builds the response for state. Pending and running
// executions are reported as successful so far.
func NewExecutionResponse(state *models.ExecutionState, includeState bool) ExecutionResponse {
	resp := ExecutionResponse{
		ExecutionID: state.ID,
		Status:      state.Status,
		Error:       state.Error,
	}

	switch state.Status {
	case models.ExecutionStatusPending, models.ExecutionStatusRunning, models.ExecutionStatusCompleted:
		resp.Success = true
	default:
		resp.Success = false
		if resp.Error == "" {
			resp.Error = "execution " + string(state.Status)
		}
	}

	if includeState {
		resp.State = state
	}

	return resp
}
