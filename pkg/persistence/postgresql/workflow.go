package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// WorkflowRepository keeps each document whole in a JSONB column.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document, created_at, updated_at FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	workflows := []*models.Workflow{}

	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document, created_at, updated_at FROM workflows WHERE id = $1`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return wf, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	workflow.UpdatedAt = &now

	document, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID(), fmt.Errorf("failed to marshal workflow: %w", err))
	}

	query := `
		INSERT INTO workflows (id, title, schedule, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			schedule = EXCLUDED.schedule,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	var createdAt time.Time

	err = r.db.QueryRowContext(ctx, query,
		workflow.ID(),
		workflow.Meta.Title,
		workflow.Meta.Schedule,
		document,
		now,
	).Scan(&createdAt)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID(), err)
	}

	workflow.CreatedAt = &createdAt

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(s scanner) (*models.Workflow, error) {
	var (
		document             []byte
		createdAt, updatedAt time.Time
	)

	if err := s.Scan(&document, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var wf models.Workflow
	if err := json.Unmarshal(document, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	wf.CreatedAt = &createdAt
	wf.UpdatedAt = &updatedAt

	return &wf, nil
}
