package loader

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidWorkflow   = errors.New("invalid workflow")
	ErrUnsupportedFormat = errors.New("unsupported workflow format")
	ErrWorkflowNotFound  = errors.New("workflow file not found")
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. Path uses dotted JSON notation.
type Issue struct {
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) Error() string {
	if i.Path == "" {
		return i.Message
	}

	return i.Path + ": " + i.Message
}

func issueError(path, format string, args ...any) Issue {
	return Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func issueWarning(path, format string, args ...any) Issue {
	return Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// ValidationError carries every error-level issue found in one document.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		messages = append(messages, issue.Error())
	}

	return "workflow validation failed: " + strings.Join(messages, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Issues))
	for _, issue := range e.Issues {
		errs = append(errs, issue)
	}

	return errs
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

// Errors returns only the error-level issues.
func Errors(issues []Issue) []Issue {
	var out []Issue

	for _, issue := range issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}

	return out
}

// Warnings returns only the warning-level issues.
func Warnings(issues []Issue) []Issue {
	var out []Issue

	for _, issue := range issues {
		if issue.Severity == SeverityWarning {
			out = append(out, issue)
		}
	}

	return out
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}
