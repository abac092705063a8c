package services

import (
	"context"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

type Memory struct {
	persistence persistence.Persistence
}

func NewMemory(persistence persistence.Persistence) *Memory {
	return &Memory{persistence: persistence}
}

func (m *Memory) ByExecution(ctx context.Context, executionID string) ([]*models.MemoryArtifact, error) {
	return m.persistence.MemoryRepository().ByExecution(ctx, executionID)
}

func (m *Memory) ByNode(ctx context.Context, executionID, nodeID string) (*models.MemoryArtifact, error) {
	return m.persistence.MemoryRepository().ByNode(ctx, executionID, nodeID)
}

func (m *Memory) Purge(ctx context.Context, executionID string) error {
	return m.persistence.MemoryRepository().DeleteByExecution(ctx, executionID)
}
