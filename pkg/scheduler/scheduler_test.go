package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence/file"
	"github.com/dukex/aef/pkg/testutil"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []engine.ExecuteOptions
	ids   []string
	err   error
}

func (r *recordingRunner) Execute(_ context.Context, wf *models.Workflow, opts engine.ExecuteOptions) (*models.ExecutionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	r.calls = append(r.calls, opts)
	r.ids = append(r.ids, wf.ID())

	return &models.ExecutionState{ID: "exec", WorkflowID: wf.ID(), Status: models.ExecutionStatusCompleted}, nil
}

func scheduled(id, spec string) *models.Workflow {
	return testutil.CreateTestWorkflow([]*models.Node{testutil.CreateTestNode("a")}, nil,
		testutil.WithWorkflowID(id),
		func(w *models.Workflow) { w.Meta.Schedule = spec },
	)
}

func TestScheduler_Sync(t *testing.T) {
	ctx := t.Context()
	repo := file.NewPersistence(t.TempDir()).WorkflowRepository()

	require.NoError(t, repo.Save(ctx, scheduled("daily", "0 6 * * *")))
	require.NoError(t, repo.Save(ctx, scheduled("broken", "every tuesday")))
	require.NoError(t, repo.Save(ctx, scheduled("manual", "")))

	s := New(repo, &recordingRunner{}, "default", log.Discard())

	count, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, map[string]string{"daily": "0 6 * * *"}, s.Schedules())
	assert.Len(t, s.cron.Entries(), 1)

	require.NoError(t, repo.Save(ctx, scheduled("daily", "*/15 * * * *")))
	require.NoError(t, repo.Save(ctx, scheduled("manual", "0 0 * * 1")))

	count, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, map[string]string{"daily": "*/15 * * * *", "manual": "0 0 * * 1"}, s.Schedules())
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, repo.Delete(ctx, "daily"))

	count, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_Run(t *testing.T) {
	ctx := t.Context()
	repo := file.NewPersistence(t.TempDir()).WorkflowRepository()
	require.NoError(t, repo.Save(ctx, scheduled("daily", "0 6 * * *")))

	runner := &recordingRunner{}
	s := New(repo, runner, "session-7", log.Discard())

	s.run(ctx, "daily")
	s.run(ctx, "missing")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"daily"}, runner.ids)
	assert.Equal(t, "session-7", runner.calls[0].SessionID)
	assert.Equal(t, "schedule", runner.calls[0].Variables["trigger"])

	runner.err = errors.New("boom")
	assert.NotPanics(t, func() { s.run(ctx, "daily") })
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(file.NewPersistence(t.TempDir()).WorkflowRepository(), &recordingRunner{}, "", log.Discard())

	s.Start()
	assert.NoError(t, s.Stop(t.Context()))
}
