package services

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/graph"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
	"github.com/dukex/aef/pkg/persistence/file"
)

func document(id, title string) []byte {
	return fmt.Appendf(nil, `{
  "meta": {"id": %q, "title": %q},
  "execution": {
    "config": {"pauseOnErrors": false},
    "variables": {"greeting": "hello"},
    "workflow": {
      "nodes": [
        {"id": "a", "type": "atomic_task", "label": "Set", "actions": [
          {"type": "set_variable", "outputVariable": "out", "data": {"value": "{{greeting}}"}}
        ]},
        {"id": "b", "type": "atomic_task", "label": "Copy", "actions": [
          {"type": "set_variable", "outputVariable": "copy", "data": {"value": "{{out}}"}}
        ]}
      ],
      "flow": [{"from": "a", "to": "b"}]
    }
  }
}`, id, title)
}

func newWorkflowService(t *testing.T, dir string) (*Workflow, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	l, err := loader.New(log.Discard())
	require.NoError(t, err)

	var files *loader.ServerWorkflowLoader
	if dir != "" {
		files = loader.NewServerWorkflowLoader(dir, l, cache.NewMemory(), time.Minute, log.Discard())
	}

	return NewWorkflow(p, l, files, log.Discard()), p
}

func TestWorkflow_CreateReplaceDelete(t *testing.T) {
	service, _ := newWorkflowService(t, "")
	ctx := t.Context()

	created, err := service.Create(ctx, document("checkout", "Checkout flow"), loader.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "checkout", created.ID())

	fetched, err := service.FetchByID(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "Checkout flow", fetched.Meta.Title)

	replaced, err := service.Replace(ctx, "checkout", document("checkout", "Checkout v2"), loader.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "Checkout v2", replaced.Meta.Title)

	_, err = service.Replace(ctx, "checkout", document("other", "Other flow"), loader.FormatJSON)
	require.ErrorIs(t, err, ErrWorkflowIDMismatch)
	assert.True(t, IsValidationError(err))

	_, err = service.Replace(ctx, "missing", document("missing", "Missing flow"), loader.FormatJSON)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = service.Create(ctx, []byte(`{"meta": {"title": "x"}}`), loader.FormatJSON)
	assert.True(t, loader.IsValidationError(err))

	require.NoError(t, service.Delete(ctx, "checkout"))

	_, err = service.FetchByID(ctx, "checkout")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflow_DirectoryFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "from-disk.json"), document("from-disk", "From disk"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0o600))

	service, p := newWorkflowService(t, dir)
	ctx := t.Context()

	_, err := service.Create(ctx, document("stored", "Stored flow"), loader.FormatJSON)
	require.NoError(t, err)

	wf, err := service.FetchByID(ctx, "from-disk")
	require.NoError(t, err)
	assert.Equal(t, "From disk", wf.Meta.Title)

	_, err = service.FetchByID(ctx, "nowhere")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	all, err := service.List(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(all))
	for _, wf := range all {
		ids = append(ids, wf.ID())
	}

	assert.ElementsMatch(t, []string{"stored", "from-disk"}, ids)

	imported, err := service.ImportDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	_, err = p.WorkflowRepository().GetByID(ctx, "from-disk")
	assert.NoError(t, err)
}

func TestWorkflow_ValidateAndGraph(t *testing.T) {
	service, _ := newWorkflowService(t, "")
	ctx := t.Context()

	assert.Empty(t, loader.Errors(service.Validate(document("v", "Valid flow"), loader.FormatJSON)))
	assert.NotEmpty(t, loader.Errors(service.Validate([]byte(`{"meta": {}}`), loader.FormatJSON)))

	_, err := service.Create(ctx, document("g", "Graph flow"), loader.FormatJSON)
	require.NoError(t, err)

	flow, err := service.Graph(ctx, "g", GraphFormatReactFlow, graph.Options{})
	require.NoError(t, err)
	require.IsType(t, &graph.FlowGraph{}, flow)
	assert.Len(t, flow.(*graph.FlowGraph).Nodes, 2)

	elk, err := service.Graph(ctx, "g", GraphFormatELK, graph.Options{})
	require.NoError(t, err)
	assert.IsType(t, &graph.ELKGraph{}, elk)

	_, err = service.Graph(ctx, "g", "svg", graph.Options{})
	assert.ErrorIs(t, err, ErrInvalidGraphRequest)
}

func newExecutionService(t *testing.T) (*Execution, *Workflow) {
	t.Helper()

	workflows, p := newWorkflowService(t, "")
	eng := engine.New(engine.Deps{Persistence: p, Logger: log.Discard()}, engine.DefaultConfig())

	return NewExecution(p, eng, workflows, "default-session", log.Discard()), workflows
}

func TestExecution_ExecuteAndWait(t *testing.T) {
	service, workflows := newExecutionService(t)
	ctx := t.Context()

	_, err := workflows.Create(ctx, document("greet", "Greeting flow"), loader.FormatJSON)
	require.NoError(t, err)

	state, err := service.Execute(ctx, ExecuteRequest{WorkflowID: "greet", Wait: true, Variables: map[string]any{"greeting": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, "default-session", state.SessionID)
	assert.Equal(t, "hi", state.Variables["copy"])

	logs, err := service.Logs(ctx, state.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	states, err := service.ListByWorkflow(ctx, "greet")
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestExecution_ExecuteInBackground(t *testing.T) {
	service, workflows := newExecutionService(t)
	ctx := t.Context()

	_, err := workflows.Create(ctx, document("greet", "Greeting flow"), loader.FormatJSON)
	require.NoError(t, err)

	state, err := service.Execute(ctx, ExecuteRequest{WorkflowID: "greet", SessionID: "s-9"})
	require.NoError(t, err)
	assert.Equal(t, "s-9", state.SessionID)

	require.Eventually(t, func() bool {
		stored, err := service.Get(ctx, state.ID)
		return err == nil && stored.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecution_Errors(t *testing.T) {
	service, workflows := newExecutionService(t)
	ctx := t.Context()

	_, err := service.Execute(ctx, ExecuteRequest{})
	assert.ErrorIs(t, err, ErrWorkflowRequired)

	_, err = service.Execute(ctx, ExecuteRequest{WorkflowID: "nope"})
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = service.ExecuteNodes(ctx, ExecuteNodesRequest{WorkflowID: "greet"})
	assert.ErrorIs(t, err, ErrNodeIDsRequired)

	_, err = workflows.Create(ctx, document("greet", "Greeting flow"), loader.FormatJSON)
	require.NoError(t, err)

	_, err = service.ExecuteNodes(ctx, ExecuteNodesRequest{WorkflowID: "greet", NodeIDs: []string{"zzz"}})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.True(t, IsValidationError(err))

	state, err := service.Execute(ctx, ExecuteRequest{WorkflowID: "greet", Wait: true})
	require.NoError(t, err)

	_, err = service.Resume(ctx, state.ID, true)
	assert.ErrorIs(t, err, ErrExecutionNotPaused)
	assert.True(t, IsConflictError(err))

	err = service.Cancel(ctx, state.ID)
	assert.ErrorIs(t, err, ErrExecutionNotRunning)

	err = service.Cancel(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecution_ExecuteNodes(t *testing.T) {
	service, workflows := newExecutionService(t)
	ctx := t.Context()

	_, err := workflows.Create(ctx, document("greet", "Greeting flow"), loader.FormatJSON)
	require.NoError(t, err)

	resp, err := service.ExecuteNodes(ctx, ExecuteNodesRequest{WorkflowID: "greet", NodeIDs: []string{"a"}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "hello", resp.Results[0].Output["out"])

	resp, err = service.ExecuteNodes(ctx, ExecuteNodesRequest{WorkflowID: "greet", NodeIDs: []string{"b"}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "{{out}}", resp.Results[0].Output["copy"], "unresolved placeholders are left intact")
}

func TestCredential(t *testing.T) {
	ctx := t.Context()

	disabled := NewCredential(nil, log.Discard())
	_, err := disabled.Services(ctx)
	assert.True(t, IsUnavailableError(err))

	vault, err := credentials.NewVault("secret")
	require.NoError(t, err)

	p := file.NewPersistence(t.TempDir())
	service := NewCredential(credentials.NewStore(p.CredentialRepository(), vault), log.Discard())

	require.NoError(t, service.Put(ctx, "gmail", map[string]string{"password": "hunter2"}))

	err = service.Put(ctx, "empty", map[string]string{"password": ""})
	assert.ErrorIs(t, err, ErrCredentialFields)

	names, err := service.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail"}, names)

	require.NoError(t, service.Delete(ctx, "gmail"))

	names, err = service.Services(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
