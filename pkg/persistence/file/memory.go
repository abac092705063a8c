package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// MemoryRepository stores artifacts under <root>/memory/<execution>/<node>.json.
type MemoryRepository struct {
	p *Persistence
}

func (mr *MemoryRepository) path(executionID, nodeID string) string {
	return filepath.Join(mr.p.dir("memory", executionID), nodeID+".json")
}

func (mr *MemoryRepository) Save(_ context.Context, artifact *models.MemoryArtifact) error {
	if err := validateID("execution", artifact.ExecutionID); err != nil {
		return persistence.NewNodeMemoryError("Save", artifact.ExecutionID, artifact.NodeID, err)
	}

	if err := validateID("node", artifact.NodeID); err != nil {
		return persistence.NewNodeMemoryError("Save", artifact.ExecutionID, artifact.NodeID, err)
	}

	mr.p.mu.Lock()
	defer mr.p.mu.Unlock()

	if err := writeJSON(mr.path(artifact.ExecutionID, artifact.NodeID), artifact); err != nil {
		return persistence.NewNodeMemoryError("Save", artifact.ExecutionID, artifact.NodeID, err)
	}

	return nil
}

// ByExecution returns artifacts ordered by creation time.
func (mr *MemoryRepository) ByExecution(_ context.Context, executionID string) ([]*models.MemoryArtifact, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, persistence.NewExecutionError("ByExecution", executionID, err)
	}

	mr.p.mu.RLock()
	defer mr.p.mu.RUnlock()

	nodeIDs, err := listJSON(mr.p.dir("memory", executionID))
	if err != nil {
		return nil, persistence.NewExecutionError("ByExecution", executionID, err)
	}

	artifacts := make([]*models.MemoryArtifact, 0, len(nodeIDs))

	for _, nodeID := range nodeIDs {
		var artifact models.MemoryArtifact
		if err := readJSON(mr.path(executionID, nodeID), &artifact); err != nil {
			return nil, persistence.NewNodeMemoryError("ByExecution", executionID, nodeID, err)
		}

		artifacts = append(artifacts, &artifact)
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})

	return artifacts, nil
}

func (mr *MemoryRepository) ByNode(_ context.Context, executionID, nodeID string) (*models.MemoryArtifact, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, err)
	}

	if err := validateID("node", nodeID); err != nil {
		return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, err)
	}

	mr.p.mu.RLock()
	defer mr.p.mu.RUnlock()

	var artifact models.MemoryArtifact
	if err := readJSON(mr.path(executionID, nodeID), &artifact); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, persistence.ErrMemoryNotFound)
		}

		return nil, persistence.NewNodeMemoryError("ByNode", executionID, nodeID, err)
	}

	return &artifact, nil
}

func (mr *MemoryRepository) DeleteByExecution(_ context.Context, executionID string) error {
	if err := validateID("execution", executionID); err != nil {
		return persistence.NewExecutionError("DeleteByExecution", executionID, err)
	}

	mr.p.mu.Lock()
	defer mr.p.mu.Unlock()

	if err := os.RemoveAll(mr.p.dir("memory", executionID)); err != nil {
		return persistence.NewExecutionError("DeleteByExecution", executionID, err)
	}

	return nil
}
