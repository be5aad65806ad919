package services

import (
	"context"
	"errors"

	"github.com/jwebster45206/storyforge/pkg/chat"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("empty completion")

// ChatClient defines the interface for exchanging one message stack with a
// chat-completion endpoint. Timeouts belong to the implementation.
type ChatClient interface {
	// Send posts the stack and returns the raw reply.
	Send(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error)
}
