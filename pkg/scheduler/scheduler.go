// Package scheduler runs workflows that declare a meta.schedule cron spec.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukex/aef/pkg/engine"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// Runner executes a workflow; *engine.Engine is the production implementation.
type Runner interface {
	Execute(ctx context.Context, workflow *models.Workflow, opts engine.ExecuteOptions) (*models.ExecutionState, error)
}

type entry struct {
	spec string
	id   cron.EntryID
}

type Scheduler struct {
	cron      *cron.Cron
	repo      persistence.WorkflowRepository
	runner    Runner
	sessionID string
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func New(repo persistence.WorkflowRepository, runner Runner, sessionID string, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		), cron.WithLogger(cronLog)),
		repo:      repo,
		runner:    runner,
		sessionID: sessionID,
		logger:    logger,
		entries:   map[string]entry{},
	}
}

// Sync reconciles cron entries with the workflows in the repository and
// returns how many workflows are scheduled. Invalid specs are logged and
// skipped.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	workflows, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := map[string]string{}

	for _, wf := range workflows {
		if wf.Meta.Schedule == "" {
			continue
		}

		if _, err := cron.ParseStandard(wf.Meta.Schedule); err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid schedule", "workflow_id", wf.ID(), "schedule", wf.Meta.Schedule, "error", err)
			continue
		}

		wanted[wf.ID()] = wf.Meta.Schedule
	}

	for id, current := range s.entries {
		if spec, ok := wanted[id]; !ok || spec != current.spec {
			s.cron.Remove(current.id)
			delete(s.entries, id)
			s.logger.InfoContext(ctx, "Removed schedule", "workflow_id", id)
		}
	}

	for id, spec := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}

		entryID, err := s.cron.AddFunc(spec, s.job(id))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to add schedule", "workflow_id", id, "schedule", spec, "error", err)
			continue
		}

		s.entries[id] = entry{spec: spec, id: entryID}
		s.logger.InfoContext(ctx, "Scheduled workflow", "workflow_id", id, "schedule", spec)
	}

	return len(s.entries), nil
}

// Schedules returns the active cron spec per workflow id.
func (s *Scheduler) Schedules() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.spec
	}

	return out
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) job(workflowID string) func() {
	return func() {
		s.run(context.Background(), workflowID)
	}
}

// run loads the current version of the workflow so edits apply to the next tick.
func (s *Scheduler) run(ctx context.Context, workflowID string) {
	logger := s.logger.With("workflow_id", workflowID)
	logger.InfoContext(ctx, "Cron job triggered")

	wf, err := s.repo.GetByID(ctx, workflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load scheduled workflow", "error", err)
		return
	}

	state, err := s.runner.Execute(ctx, wf, engine.ExecuteOptions{
		SessionID: s.sessionID,
		Variables: map[string]any{"trigger": "schedule"},
	})
	if err != nil {
		logger.ErrorContext(ctx, "Scheduled execution failed to start", "error", err)
		return
	}

	logger.InfoContext(ctx, "Scheduled execution finished", "execution_id", state.ID, "status", state.Status)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
