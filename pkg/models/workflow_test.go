package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `{
  "meta": {"id": "wf-1", "title": "Sample workflow"},
  "execution": {
    "config": {"pauseOnErrors": true, "maxRetries": 3},
    "workflow": {
      "nodes": [
        {"id": "start", "type": "atomic_task", "label": "Open inbox"},
        {"id": "group", "type": "compound_task", "label": "Process", "children": ["b"]},
        {"id": "a", "type": "atomic_task", "label": "A", "parentId": "group"},
        {"id": "b", "type": "atomic_task", "label": "B", "parentId": "group"},
        {"id": "done", "type": "end", "label": "Done", "canExecute": false}
      ],
      "flow": [{"from": "start", "to": "group"}, {"from": "group", "to": "done"}]
    }
  }
}`

func decodeSample(t *testing.T) *Workflow {
	t.Helper()

	var wf Workflow
	require.NoError(t, json.Unmarshal([]byte(sampleWorkflow), &wf))

	return &wf
}

func TestWorkflow_Navigation(t *testing.T) {
	wf := decodeSample(t)

	assert.Equal(t, "wf-1", wf.ID())
	assert.Nil(t, wf.Node("missing"))
	assert.Equal(t, "Open inbox", wf.Node("start").Label)

	top := wf.TopLevel()
	require.Len(t, top, 3)
	assert.Equal(t, []string{"start", "group", "done"}, []string{top[0].ID, top[1].ID, top[2].ID})

	children := wf.ChildrenOf("group")
	require.Len(t, children, 2)
	assert.Equal(t, "b", children[0].ID, "explicit children list comes first")
	assert.Equal(t, "a", children[1].ID)

	require.Len(t, wf.Outgoing("start"), 1)
	assert.Equal(t, "group", wf.Outgoing("start")[0].To)
	require.Len(t, wf.Incoming("done"), 1)
	assert.Empty(t, wf.Incoming("start"))
}

func TestWorkflow_ExecutableAndRetryLimit(t *testing.T) {
	wf := decodeSample(t)

	assert.True(t, wf.Node("start").Executable())
	assert.False(t, wf.Node("done").Executable())
	assert.Equal(t, 3, wf.Execution.Config.RetryLimit(2))
	assert.Equal(t, 2, ExecutionConfig{}.RetryLimit(2))
	assert.True(t, NodeTypeLoop.IsContainer())
	assert.False(t, NodeTypeDecision.IsContainer())
}

func TestWorkflow_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	wf := decodeSample(t)
	require.NoError(t, validate.Struct(wf))

	wf.Execution.Workflow.Nodes[0].Type = "teleport"
	err := validate.Struct(wf)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))
	assert.Equal(t, "oneof", validationErrors[0].Tag())
}

func TestExecutionState_Step(t *testing.T) {
	state := &ExecutionState{}

	step := state.Step("a")
	assert.Equal(t, StepStatusPending, step.Status)
	assert.Equal(t, PathNone, step.Path)
	assert.Same(t, step, state.Step("a"))

	assert.False(t, state.Success())
	state.Status = ExecutionStatusCompleted
	assert.True(t, state.Success())
	assert.True(t, state.Status.Terminal())
	assert.False(t, ExecutionStatusPaused.Terminal())
}
