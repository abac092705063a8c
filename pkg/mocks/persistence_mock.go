package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
// Repositories default to fresh mocks and can be replaced before use.
type MockPersistence struct {
	mock.Mock

	Workflows   *MockWorkflowRepository
	Executions  *MockExecutionRepository
	Memory      *MockMemoryRepository
	Credentials *MockCredentialRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:   &MockWorkflowRepository{},
		Executions:  &MockExecutionRepository{},
		Memory:      &MockMemoryRepository{},
		Credentials: &MockCredentialRepository{},
	}
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

//nolint:ireturn
func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository { return m.Workflows }

//nolint:ireturn
func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository { return m.Executions }

//nolint:ireturn
func (m *MockPersistence) MemoryRepository() persistence.MemoryRepository { return m.Memory }

//nolint:ireturn
func (m *MockPersistence) CredentialRepository() persistence.CredentialRepository {
	return m.Credentials
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, state *models.ExecutionState) error {
	args := m.Called(ctx, state)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionState, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionState), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionState, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionState), args.Error(1)
}

func (m *MockExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionLog), args.Error(1)
}

// MockMemoryRepository is a mock implementation of persistence.MemoryRepository interface.
type MockMemoryRepository struct {
	mock.Mock
}

func (m *MockMemoryRepository) Save(ctx context.Context, artifact *models.MemoryArtifact) error {
	args := m.Called(ctx, artifact)

	return args.Error(0)
}

func (m *MockMemoryRepository) ByExecution(ctx context.Context, executionID string) ([]*models.MemoryArtifact, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.MemoryArtifact), args.Error(1)
}

func (m *MockMemoryRepository) ByNode(ctx context.Context, executionID, nodeID string) (*models.MemoryArtifact, error) {
	args := m.Called(ctx, executionID, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.MemoryArtifact), args.Error(1)
}

func (m *MockMemoryRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

// MockCredentialRepository is a mock implementation of persistence.CredentialRepository interface.
type MockCredentialRepository struct {
	mock.Mock
}

func (m *MockCredentialRepository) Save(ctx context.Context, credential *models.EncryptedCredential) error {
	args := m.Called(ctx, credential)

	return args.Error(0)
}

func (m *MockCredentialRepository) Get(ctx context.Context, service string) (*models.EncryptedCredential, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.EncryptedCredential), args.Error(1)
}

func (m *MockCredentialRepository) Delete(ctx context.Context, service string) error {
	args := m.Called(ctx, service)

	return args.Error(0)
}

func (m *MockCredentialRepository) Services(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}
