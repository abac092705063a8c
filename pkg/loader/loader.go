// Package loader parses and validates workflow documents.
package loader

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/dukex/aef/pkg/models"
)

//go:embed schema/workflow.schema.json
var workflowSchema []byte

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

type fileEntry struct {
	modTime  time.Time
	size     int64
	workflow *models.Workflow
}

// Loader validates documents and caches parsed files by path.
type Loader struct {
	logger    *slog.Logger
	validator *validator.Validate
	schema    *gojsonschema.Schema

	mu    sync.Mutex
	files map[string]fileEntry
}

func New(logger *slog.Logger) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(workflowSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow schema: %w", err)
	}

	return &Loader{
		logger:    logger,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		schema:    schema,
		files:     make(map[string]fileEntry),
	}, nil
}

// Parse decodes, normalizes and validates a document. Any error-level issue
// yields a *ValidationError listing all of them.
func (l *Loader) Parse(data []byte, format Format) (*models.Workflow, error) {
	workflow, issues := l.parse(data, format)

	if errs := Errors(issues); len(errs) > 0 {
		return nil, &ValidationError{Issues: errs}
	}

	for _, warning := range Warnings(issues) {
		l.logger.Warn("Workflow validation warning", "workflow_id", workflow.ID(), "path", warning.Path, "message", warning.Message)
	}

	return workflow, nil
}

// Validate reports every issue of a document without caching it.
func (l *Loader) Validate(data []byte, format Format) []Issue {
	_, issues := l.parse(data, format)

	return issues
}

// LoadFile parses path, reusing the previous result while the file's
// modification time and size are unchanged.
func (l *Loader) LoadFile(path string) (*models.Workflow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, path)
		}

		return nil, err
	}

	l.mu.Lock()
	entry, ok := l.files[path]
	l.mu.Unlock()

	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.workflow, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	workflow, err := l.Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	l.mu.Lock()
	l.files[path] = fileEntry{modTime: info.ModTime(), size: info.Size(), workflow: workflow}
	l.mu.Unlock()

	l.logger.Debug("Loaded workflow file", "path", path, "workflow_id", workflow.ID())

	return workflow, nil
}

// Invalidate drops a cached file.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	delete(l.files, path)
	l.mu.Unlock()
}

func (l *Loader) parse(data []byte, format Format) (*models.Workflow, []Issue) {
	document, err := decode(data, format)
	if err != nil {
		return nil, []Issue{issueError("", "failed to decode %s: %v", format, err)}
	}

	if issues := l.validateSchema(document); len(issues) > 0 {
		return nil, issues
	}

	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, []Issue{issueError("", "failed to encode document: %v", err)}
	}

	var workflow models.Workflow
	if err := json.Unmarshal(encoded, &workflow); err != nil {
		return nil, []Issue{issueError("", "failed to decode workflow: %v", err)}
	}

	deriveID(&workflow)
	mergeEdges(&workflow)

	issues := validateSemantics(&workflow)
	issues = append(issues, reconcileTree(&workflow)...)
	issues = append(issues, l.validateStruct(&workflow)...)

	return &workflow, issues
}

// decode returns the document as generic JSON-compatible values.
func decode(data []byte, format Format) (any, error) {
	var document any

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &document); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if document == nil {
		return nil, errors.New("empty document")
	}

	return document, nil
}

func (l *Loader) validateSchema(document any) []Issue {
	result, err := l.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return []Issue{issueError("", "schema validation failed: %v", err)}
	}

	if result.Valid() {
		return nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		path := desc.Field()
		if path == "(root)" {
			path = ""
		}

		issues = append(issues, issueError(path, "%s", desc.Description()))
	}

	return issues
}

func (l *Loader) validateStruct(workflow *models.Workflow) []Issue {
	err := l.validator.Struct(workflow)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []Issue{issueError("", "%v", err)}
	}

	issues := make([]Issue, 0, len(validationErrors))
	for _, fe := range validationErrors {
		issues = append(issues, issueError(fe.Namespace(), "failed on '%s' validation", fe.Tag()))
	}

	return issues
}
