package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// ExecutionRepository stores state under <root>/executions/<id>.json and logs
// under <root>/logs/<id>.jsonl.
type ExecutionRepository struct {
	p *Persistence
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.p.dir("executions"), id+".json")
}

func (er *ExecutionRepository) logPath(id string) string {
	return filepath.Join(er.p.dir("logs"), id+".jsonl")
}

func (er *ExecutionRepository) Save(_ context.Context, state *models.ExecutionState) error {
	if err := validateID("execution", state.ID); err != nil {
		return persistence.NewExecutionError("Save", state.ID, err)
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	if err := writeJSON(er.path(state.ID), state); err != nil {
		return persistence.NewExecutionError("Save", state.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.ExecutionState, error) {
	if err := validateID("execution", id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	var state models.ExecutionState
	if err := readJSON(er.path(id), &state); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &state, nil
}

// ListByWorkflow returns the executions of a workflow, newest first.
func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.ExecutionState, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	ids, err := listJSON(er.p.dir("executions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	var states []*models.ExecutionState

	for _, id := range ids {
		var state models.ExecutionState
		if err := readJSON(er.path(id), &state); err != nil {
			return nil, persistence.NewExecutionError("ListByWorkflow", id, err)
		}

		if state.WorkflowID == workflowID {
			states = append(states, &state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.After(states[j].StartedAt)
	})

	return states, nil
}

func (er *ExecutionRepository) AppendLog(_ context.Context, entry *models.ExecutionLog) error {
	if err := validateID("execution", entry.ExecutionID); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	path := er.logPath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	return nil
}

// Logs returns the log entries in append order; an execution without logs
// yields an empty slice.
func (er *ExecutionRepository) Logs(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, persistence.NewExecutionError("Logs", executionID, err)
	}

	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	f, err := os.Open(er.logPath(executionID)) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.ExecutionLog{}, nil
		}

		return nil, persistence.NewExecutionError("Logs", executionID, err)
	}
	defer f.Close()

	logs := []*models.ExecutionLog{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var entry models.ExecutionLog
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, persistence.NewExecutionError("Logs", executionID, err)
		}

		logs = append(logs, &entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewExecutionError("Logs", executionID, err)
	}

	return logs, nil
}
