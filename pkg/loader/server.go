package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dukex/aef/pkg/cache"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

var extensions = []string{".json", ".yaml", ".yml"}

// ServerWorkflowLoader serves workflow documents stored in a directory on
// the server, keyed by file name without extension.
type ServerWorkflowLoader struct {
	dir    string
	loader *Loader
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewServerWorkflowLoader(dir string, loader *Loader, store cache.Store, ttl time.Duration, logger *slog.Logger) *ServerWorkflowLoader {
	return &ServerWorkflowLoader{
		dir:    dir,
		loader: loader,
		cache:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Get loads the workflow id. Parsed documents are shared through the cache
// under a key that includes the content hash, so edits are picked up.
func (s *ServerWorkflowLoader) Get(ctx context.Context, id string) (*models.Workflow, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	path, err := s.find(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("workflow:%s:%s", id, hex.EncodeToString(sum[:]))

	var cached models.Workflow

	err = cache.GetJSON(ctx, s.cache, key, &cached)
	if err == nil {
		return &cached, nil
	}

	if !cache.IsMiss(err) {
		s.logger.WarnContext(ctx, "Workflow cache read failed", "workflow_id", id, "error", err)
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	workflow, err := s.loader.Parse(data, format)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.cache, key, workflow, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "Workflow cache write failed", "workflow_id", id, "error", err)
	}

	return workflow, nil
}

// List returns the ids of every workflow document in the directory.
func (s *ServerWorkflowLoader) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}

		return nil, err
	}

	ids := []string{}

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || !slices.Contains(extensions, ext) {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids, nil
}

// ImportAll saves every valid workflow into repo and returns how many were
// imported. Invalid documents are logged and skipped.
func (s *ServerWorkflowLoader) ImportAll(ctx context.Context, repo persistence.WorkflowRepository) (int, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	imported := 0

	for _, id := range ids {
		workflow, err := s.Get(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping invalid workflow", "file", id, "error", err)
			continue
		}

		if err := repo.Save(ctx, workflow); err != nil {
			return imported, fmt.Errorf("failed to import workflow %s: %w", workflow.ID(), err)
		}

		imported++
	}

	s.logger.InfoContext(ctx, "Imported workflows", "count", imported, "dir", s.dir)

	return imported, nil
}

func (s *ServerWorkflowLoader) find(id string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
}
