package mocks

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/mock"

	"github.com/dukex/aef/pkg/browser"
)

// MockDriver is a mock implementation of browser.Driver interface.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Perform(ctx context.Context, sessionID string, cmd browser.Command) (*browser.Outcome, error) {
	args := m.Called(ctx, sessionID, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*browser.Outcome), args.Error(1)
}

func (m *MockDriver) Snapshot(ctx context.Context, sessionID string) (*browser.Snapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*browser.Snapshot), args.Error(1)
}

// MockChatClient is a mock implementation of agent.ChatClient interface.
type MockChatClient struct {
	mock.Mock
}

func (m *MockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

// ChatAnswer builds a single-choice completion response carrying content.
func ChatAnswer(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}
