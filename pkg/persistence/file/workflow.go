package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// WorkflowRepository stores workflows under <root>/workflows/<id>.json.
type WorkflowRepository struct {
	p *Persistence
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.p.dir("workflows"), id+".json")
}

// List returns all workflows sorted by id.
func (wr *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	ids, err := listJSON(wr.p.dir("workflows"))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	sort.Strings(ids)

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		var wf models.Workflow
		if err := readJSON(wr.path(id), &wf); err != nil {
			return nil, persistence.NewWorkflowError("List", id, err)
		}

		workflows = append(workflows, &wf)
	}

	return workflows, nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	if err := validateID("workflow", id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	var wf models.Workflow
	if err := readJSON(wr.path(id), &wf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &wf, nil
}

// Save creates or replaces the workflow, maintaining createdAt/updatedAt.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	id := workflow.ID()
	if err := validateID("workflow", id); err != nil {
		return persistence.NewWorkflowError("Save", id, err)
	}

	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt == nil {
		var existing models.Workflow
		if err := readJSON(wr.path(id), &existing); err == nil && existing.CreatedAt != nil {
			workflow.CreatedAt = existing.CreatedAt
		} else {
			workflow.CreatedAt = &now
		}
	}

	workflow.UpdatedAt = &now

	if err := writeJSON(wr.path(id), workflow); err != nil {
		return persistence.NewWorkflowError("Save", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	if err := validateID("workflow", id); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	if err := os.Remove(wr.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}
