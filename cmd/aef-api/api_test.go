package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/eventbus"
	"github.com/dukex/aef/pkg/events"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/mocks"
	"github.com/dukex/aef/pkg/persistence/file"
)

const workflowYAML = `meta:
  id: imported
  title: Imported workflow
  schedule: "*/5 * * * *"
execution:
  config:
    pauseOnErrors: false
  workflow:
    nodes:
      - id: start
        type: atomic_task
        label: Start
`

func setupTestAPI(t *testing.T, options Options) *API {
	t.Helper()

	api, err := NewAPI(log.Discard(), file.NewPersistence(t.TempDir()), eventbus.Noop{}, cache.NewMemory(), nil, options)
	require.NoError(t, err)

	return api
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestAPI(t, Options{}).App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "AEF API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestAPI(t, Options{}).App()

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		t.Run(path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestAPI_CredentialsDisabledWithoutKey(t *testing.T) {
	app := setupTestAPI(t, Options{}).App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/aef/credentials", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_CredentialsEnabledWithKey(t *testing.T) {
	app := setupTestAPI(t, Options{CredentialsKey: "a-very-secret-master-key"}).App()

	req := httptest.NewRequest(http.MethodPut, "/api/aef/credentials/github", strings.NewReader(`{"fields":{"password":"hunter2"}}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Less(t, resp.StatusCode, 300)
}

func TestAPI_PrepareImportsAndSchedules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "imported.yaml"), []byte(workflowYAML), 0o600))

	api := setupTestAPI(t, Options{WorkflowsDir: dir, EnableScheduler: true, DefaultSession: "s1"})

	require.NoError(t, api.Prepare(t.Context()))

	defer api.Shutdown(context.Background())

	wf, err := api.persistence.WorkflowRepository().GetByID(t.Context(), "imported")
	require.NoError(t, err)
	assert.Equal(t, "Imported workflow", wf.Meta.Title)

	assert.Equal(t, map[string]string{"imported": "*/5 * * * *"}, api.scheduler.Schedules())
}

func TestAPI_SubscribesToAllExecutionEvents(t *testing.T) {
	bus := new(mocks.MockEventBus)
	bus.On("Handle", mock.AnythingOfType("events.EventType"), mock.Anything).Return(nil).Times(8)
	bus.On("Subscribe", mock.Anything).Return(nil).Once()

	api, err := NewAPI(log.Discard(), file.NewPersistence(t.TempDir()), bus, cache.NewMemory(), nil, Options{})
	require.NoError(t, err)

	require.NoError(t, api.Prepare(t.Context()))

	bus.AssertExpectations(t)
	bus.AssertCalled(t, "Handle", events.NodeFailedEvent, mock.Anything)
}

func TestBaseEventOf(t *testing.T) {
	base := events.NewBaseEvent(events.NodeCompletedEvent, "wf", "exec")

	got, ok := baseEventOf(&events.NodeCompleted{BaseEvent: base})
	assert.True(t, ok)
	assert.Equal(t, "exec", got.ExecutionID)

	_, ok = baseEventOf("unknown")
	assert.False(t, ok)
}
