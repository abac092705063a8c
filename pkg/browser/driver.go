// Package browser talks to the browser automation service that owns the
// remote browser sessions.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/aef/pkg/models"
)

var (
	ErrCommandFailed = errors.New("browser command failed")
	ErrNoSelector    = errors.New("no selector available")
)

// Command is one deterministic browser operation.
type Command struct {
	Type        models.ActionType `json:"type"`
	Selector    string            `json:"selector,omitempty"`
	URL         string            `json:"url,omitempty"`
	Text        string            `json:"text,omitempty"`
	Key         string            `json:"key,omitempty"`
	Instruction string            `json:"instruction,omitempty"`
	TimeoutMs   int               `json:"timeoutMs,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
}

type Outcome struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Element is an interactive element of a page snapshot.
type Element struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
}

type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Text     string    `json:"text,omitempty"`
	Elements []Element `json:"elements"`
}

type Driver interface {
	Perform(ctx context.Context, sessionID string, cmd Command) (*Outcome, error)
	Snapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}

// CommandFromAction builds the command for action using selector as target.
func CommandFromAction(action models.Action, selector string, defaultTimeoutMs int) Command {
	cmd := Command{
		Type:        action.Type,
		Selector:    selector,
		Instruction: action.Instruction,
		TimeoutMs:   action.TimeoutMs,
		Data:        action.Data,
	}

	if cmd.TimeoutMs == 0 {
		cmd.TimeoutMs = defaultTimeoutMs
	}

	if action.Target != nil {
		cmd.URL = action.Target.URL
	}

	if text, ok := action.Data["text"].(string); ok {
		cmd.Text = text
	}

	if key, ok := action.Data["key"].(string); ok {
		cmd.Key = key
	}

	if cmd.URL == "" {
		if url, ok := action.Data["url"].(string); ok {
			cmd.URL = url
		}
	}

	return cmd
}

// Validate checks the fields a command type cannot run without.
func (c Command) Validate() error {
	switch {
	case c.Type == models.ActionNavigate && c.URL == "":
		return fmt.Errorf("%w: navigate requires a url", ErrCommandFailed)
	case c.Type.NeedsSelector() && c.Selector == "":
		return fmt.Errorf("%w for %s", ErrNoSelector, c.Type)
	case c.Type == models.ActionAct && c.Instruction == "":
		return fmt.Errorf("%w: act requires an instruction", ErrCommandFailed)
	}

	return nil
}
