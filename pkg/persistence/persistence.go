// Package persistence provides the storage abstraction for workflows, executions,
// memory artifacts and encrypted credentials.
package persistence

import (
	"context"

	"github.com/dukex/aef/pkg/models"
)

type Persistence interface {
	HealthCheck(ctx context.Context) error

	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	MemoryRepository() MemoryRepository
	CredentialRepository() CredentialRepository

	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow documents keyed by meta.id.
type WorkflowRepository interface {
	List(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution state and its ordered logs.
type ExecutionRepository interface {
	Save(ctx context.Context, state *models.ExecutionState) error
	GetByID(ctx context.Context, id string) (*models.ExecutionState, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionState, error)
	AppendLog(ctx context.Context, entry *models.ExecutionLog) error
	Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// MemoryRepository stores one artifact per executed node; saving again for the
// same execution and node replaces the previous artifact.
type MemoryRepository interface {
	Save(ctx context.Context, artifact *models.MemoryArtifact) error
	ByExecution(ctx context.Context, executionID string) ([]*models.MemoryArtifact, error)
	ByNode(ctx context.Context, executionID, nodeID string) (*models.MemoryArtifact, error)
	DeleteByExecution(ctx context.Context, executionID string) error
}

type CredentialRepository interface {
	Save(ctx context.Context, credential *models.EncryptedCredential) error
	Get(ctx context.Context, service string) (*models.EncryptedCredential, error)
	Delete(ctx context.Context, service string) error
	Services(ctx context.Context) ([]string, error)
}
