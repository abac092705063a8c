package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/models"
)

const validWorkflow = `{
  "meta": {"id": "cli", "title": "CLI workflow"},
  "execution": {
    "config": {"pauseOnErrors": false, "retryDelayMs": 0},
    "variables": {"greeting": "hello"},
    "workflow": {
      "nodes": [
        {"id": "open", "type": "atomic_task", "label": "Open",
         "actions": [{"type": "navigate", "target": {"url": "https://example.com"}}]},
        {"id": "done", "type": "end", "label": "Done"}
      ],
      "flow": [{"from": "open", "to": "done"}]
    }
  }
}`

func writeWorkflow(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := NewCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(t.Context(), append([]string{"aef"}, args...))

	return out.String(), err
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		out, err := runCLI(t, "validate", writeWorkflow(t, "ok.json", validWorkflow))
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
	})

	t.Run("invalid", func(t *testing.T) {
		out, err := runCLI(t, "validate", writeWorkflow(t, "bad.json", `{"meta": {"id": "x"}}`))
		require.ErrorIs(t, err, loader.ErrInvalidWorkflow)
		assert.Contains(t, out, "error:")
	})

	t.Run("missing argument", func(t *testing.T) {
		_, err := runCLI(t, "validate")
		assert.ErrorIs(t, err, errFileRequired)
	})
}

func TestGraph(t *testing.T) {
	path := writeWorkflow(t, "ok.json", validWorkflow)

	out, err := runCLI(t, "graph", path)
	require.NoError(t, err)

	var flow struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}

	require.NoError(t, json.Unmarshal([]byte(out), &flow))
	assert.Len(t, flow.Nodes, 2)
	assert.Len(t, flow.Edges, 1)

	_, err = runCLI(t, "graph", "--format", "dot", path)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	var navigated []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd struct {
			URL string `json:"url"`
		}

		_ = json.NewDecoder(r.Body).Decode(&cmd)
		navigated = append(navigated, cmd.URL)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "run",
		"--browser-url", server.URL,
		"--data-dir", t.TempDir(),
		"--var", "count=3",
		writeWorkflow(t, "ok.json", validWorkflow),
	)
	require.NoError(t, err)

	var state models.ExecutionState
	require.NoError(t, json.Unmarshal([]byte(out), &state))

	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, []string{"https://example.com"}, navigated)
	assert.InDelta(t, 3, state.Variables["count"], 0)
}

func TestParseVariables(t *testing.T) {
	vars, err := parseVariables([]string{"name=alice", "count=2", "flags=[1,2]", "empty="})
	require.NoError(t, err)

	assert.Equal(t, "alice", vars["name"])
	assert.InDelta(t, 2, vars["count"], 0)
	assert.Equal(t, []any{float64(1), float64(2)}, vars["flags"])
	assert.Equal(t, "", vars["empty"])

	_, err = parseVariables([]string{"novalue"})
	assert.ErrorIs(t, err, errInvalidVar)
}
