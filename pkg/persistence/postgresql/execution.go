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

type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Save(ctx context.Context, state *models.ExecutionState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return persistence.NewExecutionError("Save", state.ID, fmt.Errorf("failed to marshal state: %w", err))
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, state, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, state.ID, state.WorkflowID, state.Status, stateJSON, state.StartedAt)
	if err != nil {
		return persistence.NewExecutionError("Save", state.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionState, error) {
	var stateJSON []byte

	err := r.db.QueryRowContext(ctx, `SELECT state FROM executions WHERE id = $1`, id).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var state models.ExecutionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &state, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	var states []*models.ExecutionState

	for rows.Next() {
		var stateJSON []byte
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		var state models.ExecutionState
		if err := json.Unmarshal(stateJSON, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		states = append(states, &state)
	}

	return states, rows.Err()
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	var data []byte

	if entry.Data != nil {
		var err error

		data, err = json.Marshal(entry.Data)
		if err != nil {
			return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, execution_id, node_id, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ExecutionID, entry.NodeID, entry.Level, entry.Message, data, entry.Timestamp,
	)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_id, COALESCE(node_id, ''), level, message, data, created_at
		FROM execution_logs WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("Logs", executionID, err)
	}
	defer closeRows(ctx, r.logger, rows)

	logs := []*models.ExecutionLog{}

	for rows.Next() {
		var (
			entry models.ExecutionLog
			data  []byte
		)

		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.NodeID, &entry.Level, &entry.Message, &data, &entry.Timestamp); err != nil {
			return nil, persistence.NewExecutionError("Logs", executionID, err)
		}

		if len(data) > 0 {
			if err := json.Unmarshal(data, &entry.Data); err != nil {
				return nil, persistence.NewExecutionError("Logs", executionID, err)
			}
		}

		logs = append(logs, &entry)
	}

	return logs, rows.Err()
}
