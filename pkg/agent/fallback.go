// Package agent implements the AI-driven fallback path of the hybrid executor.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/models"
)

var (
	ErrNoCandidate  = errors.New("model found no matching element")
	ErrEmptyAnswer  = errors.New("model returned no answer")
	ErrNotAvailable = errors.New("ai fallback is not configured")
)

// ChatClient is the subset of *openai.Client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds a client for OpenAI, or for any compatible API such
// as OpenRouter when baseURL is set.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return openai.NewClientWithConfig(cfg)
}

type Config struct {
	Model        string
	Temperature  float32
	MaxElements  int
	MaxPageChars int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}

	if c.MaxElements <= 0 {
		c.MaxElements = 150
	}

	if c.MaxPageChars <= 0 {
		c.MaxPageChars = 12000
	}

	return c
}

// Step identifies the action being retried.
type Step struct {
	WorkflowID       string
	Node             *models.Node
	ActionIndex      int
	SessionID        string
	DefaultTimeoutMs int
}

func (s Step) selectorKey() string {
	nodeID := ""
	if s.Node != nil {
		nodeID = s.Node.ID
	}

	return SelectorKey(s.WorkflowID, nodeID, s.ActionIndex)
}

type Fallback struct {
	client    ChatClient
	driver    browser.Driver
	selectors *SelectorCache
	config    Config
	logger    *slog.Logger
}

func NewFallback(client ChatClient, driver browser.Driver, selectors *SelectorCache, config Config, logger *slog.Logger) *Fallback {
	return &Fallback{
		client:    client,
		driver:    driver,
		selectors: selectors,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// Execute performs action by letting the model resolve what the cached
// selector could not.
func (f *Fallback) Execute(ctx context.Context, step Step, action models.Action) (any, error) {
	switch {
	case action.Type == models.ActionAct:
		cmd := browser.CommandFromAction(action, "", step.DefaultTimeoutMs)
		cmd.Instruction = actInstruction(step.Node, action)

		return f.perform(ctx, step, cmd)
	case action.Type == models.ActionExtract:
		return f.extract(ctx, step, action)
	case action.Type.NeedsSelector():
		return f.locateAndPerform(ctx, step, action)
	default:
		return f.perform(ctx, step, browser.CommandFromAction(action, "", step.DefaultTimeoutMs))
	}
}

func (f *Fallback) perform(ctx context.Context, step Step, cmd browser.Command) (any, error) {
	outcome, err := f.driver.Perform(ctx, step.SessionID, cmd)
	if err != nil {
		return nil, err
	}

	return outcome.Data, nil
}

func (f *Fallback) locateAndPerform(ctx context.Context, step Step, action models.Action) (any, error) {
	if f.client == nil {
		return nil, ErrNotAvailable
	}

	snapshot, err := f.driver.Snapshot(ctx, step.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}

	var answer struct {
		Selector string `json:"selector"`
		Reason   string `json:"reason"`
	}

	if err := f.ask(ctx, selectorSystemPrompt, selectorPrompt(step.Node, action, snapshot, f.config.MaxElements), &answer); err != nil {
		return nil, err
	}

	if answer.Selector == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoCandidate, action.Type)
	}

	f.logger.DebugContext(ctx, "Model selected element", "selector", answer.Selector, "reason", answer.Reason)

	data, err := f.perform(ctx, step, browser.CommandFromAction(action, answer.Selector, step.DefaultTimeoutMs))
	if err != nil {
		return nil, err
	}

	if err := f.selectors.Remember(ctx, step.selectorKey(), answer.Selector); err != nil {
		f.logger.WarnContext(ctx, "Failed to cache selector", "key", step.selectorKey(), "error", err)
	}

	return data, nil
}

func (f *Fallback) extract(ctx context.Context, step Step, action models.Action) (any, error) {
	if f.client == nil {
		return nil, ErrNotAvailable
	}

	snapshot, err := f.driver.Snapshot(ctx, step.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}

	var data map[string]any
	if err := f.ask(ctx, extractSystemPrompt, extractPrompt(step.Node, action, snapshot, f.config.MaxPageChars), &data); err != nil {
		return nil, err
	}

	return data, nil
}

func (f *Fallback) ask(ctx context.Context, system, user string, dest any) error {
	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       f.config.Model,
		Temperature: f.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return ErrEmptyAnswer
	}

	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), dest); err != nil {
		return fmt.Errorf("failed to decode model answer: %w", err)
	}

	return nil
}
