package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
	"github.com/dukex/aef/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"credentials", "memory_artifacts", "execution_logs", "executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("aef_test"),
			postgres.WithUsername("aef"),
			postgres.WithPassword("aef"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	again, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err, "migrations are idempotent")
	require.NoError(t, again.Close(ctx))
}

func TestWorkflowRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	wf := &models.Workflow{
		Meta: models.Meta{ID: "wf-1", Title: "Inbox triage", Schedule: "0 9 * * *"},
		Execution: models.Execution{
			Config: models.ExecutionConfig{PauseOnErrors: true},
			Workflow: models.Graph{
				Nodes: []*models.Node{{ID: "a", Type: models.NodeTypeAtomicTask, Label: "A"}},
			},
		},
	}

	require.NoError(t, repo.Save(ctx, wf))
	require.NotNil(t, wf.CreatedAt)

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Inbox triage", loaded.Meta.Title)
	assert.True(t, loaded.Execution.Config.PauseOnErrors)

	wf.Meta.Title = "Inbox triage v2"
	require.NoError(t, repo.Save(ctx, wf))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Inbox triage v2", all[0].Meta.Title)

	require.NoError(t, repo.Delete(ctx, "wf-1"))
	_, err = repo.GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, "wf-1")))
}

func TestExecutionRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ExecutionRepository()
	now := time.Now().UTC().Truncate(time.Millisecond)

	state := &models.ExecutionState{
		ID: "e1", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning,
		Variables: map[string]any{"count": float64(1)}, StartedAt: now,
	}
	state.Step("a").Status = models.StepStatusSuccess

	require.NoError(t, repo.Save(ctx, state))

	state.Status = models.ExecutionStatusCompleted
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.Equal(t, models.StepStatusSuccess, loaded.Steps["a"].Status)
	assert.Equal(t, float64(1), loaded.Variables["count"])

	list, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	require.NoError(t, repo.AppendLog(ctx, &models.ExecutionLog{ID: "l1", ExecutionID: "e1", Level: models.LogLevelInfo, Message: "first", Timestamp: now}))
	require.NoError(t, repo.AppendLog(ctx, &models.ExecutionLog{ID: "l2", ExecutionID: "e1", NodeID: "a", Level: models.LogLevelError, Message: "second", Data: map[string]any{"attempts": float64(3)}, Timestamp: now}))

	logs, err := repo.Logs(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "a", logs[1].NodeID)
	assert.Equal(t, float64(3), logs[1].Data["attempts"])
}

func TestMemoryAndCredentialRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	memory := p.MemoryRepository()
	creds := p.CredentialRepository()
	now := time.Now().UTC()

	require.NoError(t, memory.Save(ctx, &models.MemoryArtifact{ID: "m1", ExecutionID: "e1", NodeID: "a", CreatedAt: now,
		Inputs: map[string]any{"url": "https://mail.example.com"}}))
	require.NoError(t, memory.Save(ctx, &models.MemoryArtifact{ID: "m2", ExecutionID: "e1", NodeID: "a", CreatedAt: now,
		Outputs: map[string]any{"emails": float64(4)}}))

	artifact, err := memory.ByNode(ctx, "e1", "a")
	require.NoError(t, err)
	assert.Equal(t, "m2", artifact.ID)
	assert.Equal(t, float64(4), artifact.Outputs["emails"])
	assert.Empty(t, artifact.Inputs)

	all, err := memory.ByExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, memory.DeleteByExecution(ctx, "e1"))
	_, err = memory.ByNode(ctx, "e1", "a")
	assert.True(t, persistence.IsMemoryNotFound(err))

	require.NoError(t, creds.Save(ctx, &models.EncryptedCredential{Service: "gmail", Nonce: []byte{1, 2}, Ciphertext: []byte{3}}))

	cred, err := creds.Get(ctx, "gmail")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, cred.Nonce)

	services, err := creds.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail"}, services)

	require.NoError(t, creds.Delete(ctx, "gmail"))
	assert.True(t, persistence.IsCredentialNotFound(creds.Delete(ctx, "gmail")))
}
