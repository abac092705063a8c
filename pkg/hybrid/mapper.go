// Package hybrid runs an action through a deterministic primary attempt and
// AI-driven fallback attempts.
package hybrid

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/aef/pkg/models"
)

// ErrNoStrategy is reported when neither a primary nor a fallback was given.
var ErrNoStrategy = errors.New("no primary or fallback strategy available")

// Func performs one attempt. attempt is zero-based across both paths.
type Func func(ctx context.Context, attempt int) (any, error)

// Result tags the outcome with the path that produced it.
type Result struct {
	Success  bool                 `json:"success"`
	Path     models.ExecutionPath `json:"path"`
	Attempts int                  `json:"attempts"`
	Data     any                  `json:"data,omitempty"`
	Error    string               `json:"error,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
}

// Mapper bounds the attempts: attempt 0 uses primary, attempts 1..MaxRetries
// use fallback. Without a primary, attempt 0 already uses fallback.
type Mapper struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

func NewMapper(maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Mapper {
	return &Mapper{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Logger:     logger,
	}
}

func (m *Mapper) Execute(ctx context.Context, primary, fallback Func) Result {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if primary == nil && fallback == nil {
		return Result{Path: models.PathNone, Error: ErrNoStrategy.Error()}
	}

	maxRetries := max(m.MaxRetries, 0)
	result := Result{Path: models.PathNone}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		fn, path := fallback, models.PathFallback
		if attempt == 0 && primary != nil {
			fn, path = primary, models.PathPrimary
		}

		if fn == nil {
			break
		}

		if attempt > 0 {
			if err := m.wait(ctx, attempt); err != nil {
				result.Error = err.Error()
				result.Errors = append(result.Errors, err.Error())

				return result
			}
		}

		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			result.Errors = append(result.Errors, err.Error())

			return result
		}

		result.Attempts++

		data, err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.Path = path
			result.Data = data
			result.Error = ""

			return result
		}

		logger.DebugContext(ctx, "Hybrid attempt failed", "attempt", attempt, "path", path, "error", err)
		result.Error = err.Error()
		result.Errors = append(result.Errors, err.Error())
	}

	return result
}

func (m *Mapper) wait(ctx context.Context, attempt int) error {
	d := backoff(attempt-1, m.BaseDelay, m.MaxDelay)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff doubles base per retry, capped at maxDelay when set.
func backoff(retry int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	d := base << retry
	if maxDelay > 0 && (d > maxDelay || d <= 0) {
		d = maxDelay
	}

	return d
}
