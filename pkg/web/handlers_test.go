package web_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/graph"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence/file"
	"github.com/dukex/aef/pkg/services"
	"github.com/dukex/aef/pkg/web"
)

const greetingWorkflow = `{
  "meta": {"id": "greet", "title": "Greeting flow"},
  "execution": {
    "config": {"pauseOnErrors": false},
    "variables": {"greeting": "hello"},
    "workflow": {
      "nodes": [
        {"id": "a", "type": "atomic_task", "label": "Set", "actions": [
          {"type": "set_variable", "outputVariable": "out", "data": {"value": "{{greeting}}"}}
        ]},
        {"id": "b", "type": "atomic_task", "label": "Copy", "actions": [
          {"type": "set_variable", "outputVariable": "copy", "data": {"value": "{{out}} world"}}
        ]}
      ],
      "flow": [{"from": "a", "to": "b"}]
    }
  }
}`

func setupTestApp(t *testing.T, withCredentials bool) *fiber.App {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	logger := log.Discard()

	l, err := loader.New(logger)
	require.NoError(t, err)

	var store *credentials.Store

	if withCredentials {
		vault, err := credentials.NewVault("test-key")
		require.NoError(t, err)

		store = credentials.NewStore(p.CredentialRepository(), vault)
	}

	workflowService := services.NewWorkflow(p, l, nil, logger)
	eng := engine.New(engine.Deps{Persistence: p, Logger: logger}, engine.DefaultConfig())

	handlers := web.NewAPIHandlers(
		workflowService,
		services.NewExecution(p, eng, workflowService, "", logger),
		services.NewMemory(p),
		services.NewCredential(store, logger),
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))

	return v
}

func TestAPIHandlers_Health(t *testing.T) {
	app := setupTestApp(t, false)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])

	status, _ = do(t, app, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPIHandlers_Workflows(t *testing.T) {
	app := setupTestApp(t, false)

	status, body := do(t, app, http.MethodPost, "/api/aef/workflows", greetingWorkflow)
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Equal(t, "greet", decode[models.Workflow](t, body).Meta.ID)

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows/greet", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Greeting flow", decode[models.Workflow](t, body).Meta.Title)

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", decode[map[string]any](t, body)["type"])

	status, body = do(t, app, http.MethodPost, "/api/aef/workflows", `{"meta": {"title": "No execution"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	invalid := decode[web.ValidationProblem](t, body)
	assert.NotEmpty(t, invalid.Issues)
	require.NotNil(t, invalid.Problem)
	assert.Equal(t, "invalid_workflow", invalid.Type)
	assert.Equal(t, http.StatusBadRequest, invalid.Status)

	status, _ = do(t, app, http.MethodPut, "/api/aef/workflows/other", greetingWorkflow)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPut, "/api/aef/workflows/greet", greetingWorkflow)
	assert.Equal(t, http.StatusOK, status)

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows/greet/graph", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[graph.FlowGraph](t, body).Nodes, 2)

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows/greet/graph?format=elk&direction=down", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[graph.ELKGraph](t, body).Graph.Children, 2)

	status, _ = do(t, app, http.MethodGet, "/api/aef/workflows/greet/graph?direction=UP", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodDelete, "/api/aef/workflows/greet", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodDelete, "/api/aef/workflows/greet", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ValidateWorkflow(t *testing.T) {
	app := setupTestApp(t, false)

	status, body := do(t, app, http.MethodPost, "/api/aef/workflows/validate", greetingWorkflow)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[web.ValidateResponse](t, body).Valid)

	status, body = do(t, app, http.MethodPost, "/api/aef/workflows/validate", `{"meta": {"title": "x"}}`)
	require.Equal(t, http.StatusOK, status)

	resp := decode[web.ValidateResponse](t, body)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Errors)

	status, _ = do(t, app, http.MethodPost, "/api/aef/workflows/validate?format=toml", greetingWorkflow)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExecuteAndInspect(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := do(t, app, http.MethodPost, "/api/aef/workflows", greetingWorkflow)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, app, http.MethodPost, "/api/aef/execute", map[string]any{"workflowId": "greet", "wait": true})
	require.Equal(t, http.StatusOK, status, string(body))

	resp := decode[web.ExecutionResponse](t, body)
	assert.True(t, resp.Success)
	assert.Equal(t, models.ExecutionStatusCompleted, resp.Status)
	require.NotNil(t, resp.State)
	assert.Equal(t, "hello world", resp.State.Variables["copy"])

	status, body = do(t, app, http.MethodGet, "/api/aef/executions/"+resp.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, resp.ExecutionID, decode[web.ExecutionResponse](t, body).ExecutionID)

	status, body = do(t, app, http.MethodGet, "/api/aef/executions/"+resp.ExecutionID+"/logs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, decode[map[string]any](t, body)["logs"])

	status, body = do(t, app, http.MethodGet, "/api/aef/workflows/greet/executions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[map[string][]web.ExecutionResponse](t, body)["executions"], 1)

	status, body = do(t, app, http.MethodGet, "/api/aef/memory/"+resp.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[map[string]any](t, body)["artifacts"], 2)

	status, body = do(t, app, http.MethodGet, fmt.Sprintf("/api/aef/memory/%s/b", resp.ExecutionID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "b", decode[models.MemoryArtifact](t, body).NodeID)

	status, _ = do(t, app, http.MethodDelete, "/api/aef/memory/"+resp.ExecutionID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodGet, fmt.Sprintf("/api/aef/memory/%s/b", resp.ExecutionID), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/api/aef/executions/"+resp.ExecutionID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, app, http.MethodPost, "/api/aef/executions/"+resp.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, app, http.MethodGet, "/api/aef/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ExecuteInlineAndAsync(t *testing.T) {
	app := setupTestApp(t, false)

	var inline map[string]any
	require.NoError(t, json.Unmarshal([]byte(greetingWorkflow), &inline))

	status, body := do(t, app, http.MethodPost, "/api/aef/execute", map[string]any{"workflow": inline})
	require.Equal(t, http.StatusAccepted, status, string(body))

	resp := decode[web.ExecutionResponse](t, body)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ExecutionID)

	status, _ = do(t, app, http.MethodPost, "/api/aef/execute", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/aef/execute", map[string]any{"workflowId": "unknown"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodPost, "/api/aef/execute", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExecuteNodes(t *testing.T) {
	app := setupTestApp(t, false)

	status, _ := do(t, app, http.MethodPost, "/api/aef/workflows", greetingWorkflow)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, app, http.MethodPost, "/api/aef/execute-nodes", map[string]any{
		"workflowId": "greet",
		"nodeIds":    []string{"b"},
		"variables":  map[string]any{"out": "bye"},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	resp := decode[services.ExecuteNodesResponse](t, body)
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "bye world", resp.Results[0].Output["copy"])

	status, _ = do(t, app, http.MethodPost, "/api/aef/execute-nodes", map[string]any{"workflowId": "greet", "nodeIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/aef/execute-nodes", map[string]any{"workflowId": "greet", "nodeIds": []string{"zzz"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_Credentials(t *testing.T) {
	disabled := setupTestApp(t, false)

	status, _ := do(t, disabled, http.MethodGet, "/api/aef/credentials", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	app := setupTestApp(t, true)

	status, body := do(t, app, http.MethodPut, "/api/aef/credentials/gmail", map[string]any{
		"fields": map[string]string{"email": "ops@example.com", "password": "hunter2"},
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.NotContains(t, string(body), "hunter2")

	status, _ = do(t, app, http.MethodPut, "/api/aef/credentials/gmail", map[string]any{"fields": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodGet, "/api/aef/credentials", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"gmail"}, decode[map[string][]string](t, body)["services"])

	status, _ = do(t, app, http.MethodDelete, "/api/aef/credentials/gmail", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodDelete, "/api/aef/credentials/gmail", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNewExecutionResponse(t *testing.T) {
	tests := []struct {
		status  models.ExecutionStatus
		err     string
		success bool
		wantErr string
	}{
		{status: models.ExecutionStatusCompleted, success: true},
		{status: models.ExecutionStatusPending, success: true},
		{status: models.ExecutionStatusFailed, err: "1 node(s) failed: b", wantErr: "1 node(s) failed: b"},
		{status: models.ExecutionStatusCancelled, wantErr: "execution cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			resp := web.NewExecutionResponse(&models.ExecutionState{ID: "x", Status: tt.status, Error: tt.err}, false)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.wantErr, resp.Error)
			assert.Nil(t, resp.State)
		})
	}
}
