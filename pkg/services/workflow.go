package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/aef/pkg/graph"
	"github.com/dukex/aef/pkg/loader"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// GraphFormat selects the graph representation returned by Graph.
type GraphFormat string

const (
	GraphFormatReactFlow GraphFormat = "reactflow"
	GraphFormatELK       GraphFormat = "elk"
)

type Workflow struct {
	persistence persistence.Persistence
	loader      *loader.Loader
	files       *loader.ServerWorkflowLoader
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. files is optional; when set,
// workflows missing from the repository are looked up in the workflows directory.
func NewWorkflow(persistence persistence.Persistence, loader *loader.Loader, files *loader.ServerWorkflowLoader, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		loader:      loader,
		files:       files,
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns stored workflows followed by directory workflows not yet imported.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	if w.files == nil {
		return workflows, nil
	}

	ids, err := w.files.List(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to list workflow directory", "error", err)
		return workflows, nil
	}

	for _, id := range ids {
		if slices.ContainsFunc(workflows, func(wf *models.Workflow) bool { return wf.ID() == id }) {
			continue
		}

		wf, err := w.files.Get(ctx, id)
		if err != nil {
			w.logger.WarnContext(ctx, "Skipping invalid workflow file", "workflow_id", id, "error", err)
			continue
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err == nil || !persistence.IsWorkflowNotFound(err) || w.files == nil {
		return wf, err
	}

	wf, fileErr := w.files.Get(ctx, id)
	if fileErr != nil {
		if errors.Is(fileErr, loader.ErrWorkflowNotFound) || errors.Is(fileErr, persistence.ErrInvalidID) {
			return nil, err
		}

		return nil, fileErr
	}

	return wf, nil
}

// Parse validates a raw document without storing it.
func (w *Workflow) Parse(data []byte, format loader.Format) (*models.Workflow, error) {
	return w.loader.Parse(data, format)
}

// Create validates and stores a document. An existing workflow with the same id is replaced.
func (w *Workflow) Create(ctx context.Context, data []byte, format loader.Format) (*models.Workflow, error) {
	wf, err := w.loader.Parse(data, format)
	if err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow saved", "workflow_id", wf.ID())

	return wf, nil
}

// Replace stores a new version of workflow id. A document without meta.id takes id.
func (w *Workflow) Replace(ctx context.Context, id string, data []byte, format loader.Format) (*models.Workflow, error) {
	wf, err := w.loader.Parse(data, format)
	if err != nil {
		return nil, err
	}

	if wf.ID() != id {
		return nil, NewValidationError("replace_workflow", "id_mismatch",
			fmt.Sprintf("document id %q does not match %q", wf.ID(), id), ErrWorkflowIDMismatch)
	}

	if _, err := w.persistence.WorkflowRepository().GetByID(ctx, id); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return wf, nil
}

func (w *Workflow) Delete(ctx context.Context, id string) error {
	return w.persistence.WorkflowRepository().Delete(ctx, id)
}

// Validate returns every error and warning of a document.
func (w *Workflow) Validate(data []byte, format loader.Format) []loader.Issue {
	return w.loader.Validate(data, format)
}

// Graph renders workflow id for the visual editor.
func (w *Workflow) Graph(ctx context.Context, id string, format GraphFormat, opts graph.Options) (any, error) {
	wf, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch format {
	case "", GraphFormatReactFlow:
		return graph.ToFlowGraph(wf, opts), nil
	case GraphFormatELK:
		return graph.ToELKGraph(wf, opts), nil
	default:
		return nil, NewValidationError("workflow_graph", "invalid_format",
			fmt.Sprintf("unknown graph format %q", format), ErrInvalidGraphRequest)
	}
}

// ImportDirectory stores every valid workflow of the workflows directory.
func (w *Workflow) ImportDirectory(ctx context.Context) (int, error) {
	if w.files == nil {
		return 0, nil
	}

	return w.files.ImportAll(ctx, w.persistence.WorkflowRepository())
}
