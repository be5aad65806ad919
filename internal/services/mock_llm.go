package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/storyforge/pkg/chat"
)

// MockChatClient is a mock implementation of ChatClient for testing
type MockChatClient struct {
	SendFunc func(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error)

	// Track calls for testing
	SendCalls []SendCall

	mu sync.Mutex // protects all fields above
}

// SendCall records the arguments of one Send.
type SendCall struct {
	Messages []chat.ChatMessage
	Settings chat.Settings
	Model    string
}

// NewMockChatClient creates a new mock chat client
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{
		SendCalls: make([]SendCall, 0),
	}
}

// Send mocks one chat exchange. The default reply is plain prose.
func (m *MockChatClient) Send(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
	m.mu.Lock()
	m.SendCalls = append(m.SendCalls, SendCall{
		Messages: append([]chat.ChatMessage{}, messages...),
		Settings: settings,
		Model:    model,
	})
	fn := m.SendFunc
	m.mu.Unlock()

	// called unlocked so a blocking reply does not stall readers
	if fn != nil {
		return fn(ctx, messages, settings, model)
	}
	return &chat.Completion{Content: "Mock response", FinishReason: "stop", Model: model}, nil
}

// SetReply sets up the mock to answer every call with content.
func (m *MockChatClient) SetReply(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendFunc = func(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
		return &chat.Completion{Content: content, FinishReason: "stop", Model: model}, nil
	}
}

// SetReplies answers successive calls with the given contents in order.
// Calls beyond the list repeat the last one.
func (m *MockChatClient) SetReplies(contents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 0
	m.SendFunc = func(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
		m.mu.Lock()
		i := next
		if next < len(contents)-1 {
			next++
		}
		m.mu.Unlock()
		return &chat.Completion{Content: contents[i], FinishReason: "stop", Model: model}, nil
	}
}

// SetSendError sets up the mock to return an error on Send
func (m *MockChatClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendFunc = func(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
		return nil, err
	}
}

// Calls returns a copy of the call tracking data in a thread-safe way
func (m *MockChatClient) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]SendCall, len(m.SendCalls))
	copy(calls, m.SendCalls)
	return calls
}

// Reset clears all call tracking
func (m *MockChatClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendCalls = make([]SendCall, 0)
}
