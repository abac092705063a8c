package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/mocks"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

func TestWorkflow_HealthCheck(t *testing.T) {
	p := mocks.NewMockPersistence()
	p.On("HealthCheck", mock.Anything).Return(nil).Once()
	p.On("HealthCheck", mock.Anything).Return(errors.New("disk full")).Once()

	svc := NewWorkflow(p, nil, nil, log.Discard())

	msg, ok := svc.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", msg)

	msg, ok = svc.HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Contains(t, msg, "disk full")

	p.AssertExpectations(t)
}

func TestMemory_DelegatesToRepository(t *testing.T) {
	p := mocks.NewMockPersistence()
	artifact := &models.MemoryArtifact{ExecutionID: "exec-1", NodeID: "login"}

	p.Memory.On("ByExecution", mock.Anything, "exec-1").Return([]*models.MemoryArtifact{artifact}, nil)
	p.Memory.On("ByNode", mock.Anything, "exec-1", "login").Return(artifact, nil)
	p.Memory.On("ByNode", mock.Anything, "exec-1", "other").Return(nil, persistence.ErrMemoryNotFound)
	p.Memory.On("DeleteByExecution", mock.Anything, "exec-1").Return(nil)

	svc := NewMemory(p)

	all, err := svc.ByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	got, err := svc.ByNode(t.Context(), "exec-1", "login")
	require.NoError(t, err)
	assert.Same(t, artifact, got)

	_, err = svc.ByNode(t.Context(), "exec-1", "other")
	assert.ErrorIs(t, err, persistence.ErrMemoryNotFound)

	require.NoError(t, svc.Purge(t.Context(), "exec-1"))

	p.Memory.AssertExpectations(t)
}

func TestExecution_LogsRequiresExecution(t *testing.T) {
	p := mocks.NewMockPersistence()
	p.Executions.On("GetByID", mock.Anything, "missing").Return(nil, persistence.ErrExecutionNotFound)
	p.Executions.On("GetByID", mock.Anything, "exec-1").Return(&models.ExecutionState{ID: "exec-1"}, nil)
	p.Executions.On("Logs", mock.Anything, "exec-1").Return([]*models.ExecutionLog{{Message: "started"}}, nil)

	svc := NewExecution(p, nil, nil, "default", log.Discard())

	_, err := svc.Logs(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	logs, err := svc.Logs(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	p.Executions.AssertNotCalled(t, "Logs", mock.Anything, "missing")
}

func TestCredential_RepositoryNeverSeesPlaintext(t *testing.T) {
	p := mocks.NewMockPersistence()

	var saved *models.EncryptedCredential

	p.Credentials.On("Save", mock.Anything, mock.AnythingOfType("*models.EncryptedCredential")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*models.EncryptedCredential) }).
		Return(nil)
	p.Credentials.On("Services", mock.Anything).Return([]string{"github"}, nil)

	vault, err := credentials.NewVault("secret")
	require.NoError(t, err)

	svc := NewCredential(credentials.NewStore(p.CredentialRepository(), vault), log.Discard())

	require.NoError(t, svc.Put(t.Context(), "github", map[string]string{"password": "hunter2"}))
	require.NotNil(t, saved)
	assert.NotContains(t, string(saved.Ciphertext), "hunter2")

	names, err := svc.Services(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, names)
}
