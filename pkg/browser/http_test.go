package browser

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
)

func TestHTTPDriver_Perform(t *testing.T) {
	var received Command

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions/s%201/commands", r.URL.EscapedPath())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Outcome{Success: true, Data: map[string]any{"clicked": true}, URL: "https://mail.example.com"})
	}))
	defer server.Close()

	driver := NewHTTPDriver(server.URL+"/", log.Discard())

	outcome, err := driver.Perform(t.Context(), "s 1", Command{Type: models.ActionClick, Selector: "#send", TimeoutMs: 1000})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "https://mail.example.com", outcome.URL)
	assert.Equal(t, "#send", received.Selector)
	assert.Equal(t, 1000, received.TimeoutMs)
}

func TestHTTPDriver_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/unsuccessful/commands":
			_ = json.NewEncoder(w).Encode(Outcome{Success: false, Error: "element not visible"})
		case "/sessions/broken/commands":
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(Outcome{Error: "session crashed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	driver := NewHTTPDriver(server.URL, log.Discard())
	cmd := Command{Type: models.ActionClick, Selector: "#x"}

	outcome, err := driver.Perform(t.Context(), "unsuccessful", cmd)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "element not visible")
	require.NotNil(t, outcome)

	_, err = driver.Perform(t.Context(), "broken", cmd)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "session crashed")

	_, err = driver.Perform(t.Context(), "missing", cmd)
	assert.Contains(t, err.Error(), "status 404")

	_, err = driver.Perform(t.Context(), "any", Command{Type: models.ActionClick})
	assert.ErrorIs(t, err, ErrNoSelector)
}

func TestHTTPDriver_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	driver := NewHTTPDriver(server.URL, log.Discard())
	driver.grace = 0

	_, err := driver.Perform(t.Context(), "slow", Command{Type: models.ActionWait, TimeoutMs: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser service request failed")
}

func TestHTTPDriver_Snapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/s1/snapshot", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Snapshot{
			URL:      "https://mail.example.com",
			Title:    "Inbox",
			Elements: []Element{{Selector: "button[aria-label=Send]", Role: "button", Name: "Send"}},
		})
	}))
	defer server.Close()

	snapshot, err := NewHTTPDriver(server.URL, log.Discard()).Snapshot(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", snapshot.Title)
	require.Len(t, snapshot.Elements, 1)
	assert.Equal(t, "Send", snapshot.Elements[0].Name)
}

func TestCommandFromAction(t *testing.T) {
	action := models.Action{
		Type:        models.ActionTypeText,
		Instruction: "Type the subject",
		Target:      &models.Target{URL: "https://x"},
		Data:        map[string]any{"text": "Hello", "key": "Enter"},
	}

	cmd := CommandFromAction(action, "#subject", 30000)
	assert.Equal(t, "#subject", cmd.Selector)
	assert.Equal(t, "Hello", cmd.Text)
	assert.Equal(t, "Enter", cmd.Key)
	assert.Equal(t, "https://x", cmd.URL)
	assert.Equal(t, 30000, cmd.TimeoutMs)
	require.NoError(t, cmd.Validate())

	nav := CommandFromAction(models.Action{Type: models.ActionNavigate, Data: map[string]any{"url": "https://y"}, TimeoutMs: 10}, "", 30000)
	assert.Equal(t, "https://y", nav.URL)
	assert.Equal(t, 10, nav.TimeoutMs)

	assert.Error(t, Command{Type: models.ActionNavigate}.Validate())
	assert.Error(t, Command{Type: models.ActionAct}.Validate())
}
