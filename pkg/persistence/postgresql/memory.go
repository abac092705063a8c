package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

type MemoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMemoryRepository(db *sql.DB, logger *slog.Logger) *MemoryRepository {
	return &MemoryRepository{db: db, logger: logger}
}

func (r *MemoryRepository) Save(ctx context.Context, artifact *models.MemoryArtifact) error {
	inputs, err := json.Marshal(orEmpty(artifact.Inputs))
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}

	processing, err := json.Marshal(orEmpty(artifact.Processing))
	if err != nil {
		return fmt.Errorf("failed to marshal processing: %w", err)
	}

	outputs, err := json.Marshal(orEmpty(artifact.Outputs))
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	query := `
		INSERT INTO memory_artifacts (id, execution_id, node_id, inputs, processing, outputs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			id = EXCLUDED.id,
			inputs = EXCLUDED.inputs,
			processing = EXCLUDED.processing,
			outputs = EXCLUDED.outputs,
			created_at = EXCLUDED.created_at
	`

	_, err = r.db.ExecContext(ctx, query,
		artifact.ID, artifact.ExecutionID, artifact.NodeID, inputs, processing, outputs, artifact.CreatedAt)
	if err != nil {
		return persistence.NewNodeMemoryError("Save", artifact.ExecutionID, artifact.NodeID, err)
	}

	return nil
}

func (r *MemoryRepository) ByExecution(ctx context.Context, executionID string) ([]*models.MemoryArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, inputs, processing, outputs, created_at
		FROM memory_artifacts WHERE execution_id = $1 ORDER BY created_at`, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("ByExecution", executionID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	artifacts := []*models.MemoryArtifact{}

	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, persistence.NewExecutionError("ByExecution", executionID, err)
		}

		artifacts = append(artifacts, artifact)
	}

	return artifacts, rows.Err()
}

func (r *MemoryRepository) ByNode(ctx context.Context, executionID, nodeID string) (*models.MemoryArtifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, execution_id, node_id, inputs, processing, outputs, created_at
		FROM memory_artifacts WHERE execution_id = $1 AND node_id = $2`, executionID, nodeID)

	artifact, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, persistence.ErrMemoryNotFound)
		}

		return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, err)
	}

	return artifact, nil
}

func (r *MemoryRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM memory_artifacts WHERE execution_id = $1`, executionID); err != nil {
		return persistence.NewExecutionError("DeleteByExecution", executionID, err)
	}

	return nil
}

func scanArtifact(s scanner) (*models.MemoryArtifact, error) {
	var (
		artifact                    models.MemoryArtifact
		inputs, processing, outputs []byte
	)

	err := s.Scan(&artifact.ID, &artifact.ExecutionID, &artifact.NodeID, &inputs, &processing, &outputs, &artifact.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  []byte
		dest *map[string]any
	}{
		{inputs, &artifact.Inputs},
		{processing, &artifact.Processing},
		{outputs, &artifact.Outputs},
	} {
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
	}

	return &artifact, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
