package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/mocks"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

func copyFile(t *testing.T, src, dst string) {
	t.Helper()

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o600))
}

func newServerLoader(t *testing.T) (*ServerWorkflowLoader, *cache.Memory, string) {
	t.Helper()

	dir := t.TempDir()
	copyFile(t, "testdata/gmail-to-airtable.json", filepath.Join(dir, "gmail.json"))
	copyFile(t, "testdata/triage.yaml", filepath.Join(dir, "triage.yaml"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("meta: ["), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	store := cache.NewMemory()

	return NewServerWorkflowLoader(dir, newLoader(t), store, time.Hour, log.Discard()), store, dir
}

func TestServerWorkflowLoader_List(t *testing.T) {
	server, _, _ := newServerLoader(t)

	ids, err := server.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "gmail", "triage"}, ids)
}

func TestServerWorkflowLoader_Get(t *testing.T) {
	ctx := context.Background()
	server, store, _ := newServerLoader(t)

	workflow, err := server.Get(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "inbox-triage", workflow.ID())
	assert.Equal(t, 1, store.Len())

	cached, err := server.Get(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, workflow.Meta, cached.Meta)
	assert.Equal(t, 1, store.Len())

	_, err = server.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = server.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, persistence.ErrInvalidID)

	_, err = server.Get(ctx, "broken")
	assert.True(t, IsValidationError(err))
}

func TestServerWorkflowLoader_ImportAll(t *testing.T) {
	ctx := context.Background()
	server, _, _ := newServerLoader(t)

	repo := &mocks.MockWorkflowRepository{}
	repo.On("Save", ctx, mock.MatchedBy(func(w *models.Workflow) bool {
		return w.ID() == "gmail-investor-emails-to-airtable" || w.ID() == "inbox-triage"
	})).Return(nil).Twice()

	imported, err := server.ImportAll(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	repo.AssertExpectations(t)
}
