package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/state"
)

// Builder constructs the message stack for one turn using a fluent
// interface. It is a thin wrapper over Assemble.
type Builder struct {
	in Input
}

// New creates a new prompt builder with the default policy.
func New() *Builder {
	return &Builder{in: Input{Policy: DefaultPolicy()}}
}

// WithTurn sets the number of the turn being built.
func (b *Builder) WithTurn(n int) *Builder {
	b.in.TurnNumber = n
	return b
}

// WithUserMessage sets the player's action text.
func (b *Builder) WithUserMessage(message string) *Builder {
	b.in.UserMessage = message
	return b
}

// WithPolicy sets the stack policy.
func (b *Builder) WithPolicy(p Policy) *Builder {
	b.in.Policy = p
	return b
}

// WithBlocks sets the card's static system blocks.
func (b *Builder) WithBlocks(blocks StaticBlocks) *Builder {
	b.in.Blocks = blocks
	return b
}

// WithHistory sets the completed turns preceding this one.
func (b *Builder) WithHistory(history []chat.ConversationTurn) *Builder {
	b.in.History = history
	return b
}

// WithDigest sets the stored digest lines.
func (b *Builder) WithDigest(lines []digest.Line) *Builder {
	b.in.DigestLines = lines
	return b
}

// WithSceneTags sets the tags of the current scene.
func (b *Builder) WithSceneTags(tags []string) *Builder {
	b.in.SceneTags = tags
	return b
}

// WithWorld sets the world-state tree.
func (b *Builder) WithWorld(w state.World) *Builder {
	b.in.World = w
	return b
}

// WithExpressions sets the per-character emotion lines.
func (b *Builder) WithExpressions(expressions map[string][]string) *Builder {
	b.in.Expressions = expressions
	return b
}

// Input returns the assembled input without building.
func (b *Builder) Input() Input {
	return b.in
}

// Build validates the input and returns the message stack.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	res, err := b.BuildReport()
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// BuildReport is Build with token accounting.
func (b *Builder) BuildReport() (Result, error) {
	if strings.TrimSpace(b.in.UserMessage) == "" {
		return Result{}, fmt.Errorf("user message is required")
	}
	if b.in.TurnNumber < 0 {
		return Result{}, fmt.Errorf("turn number cannot be negative: %d", b.in.TurnNumber)
	}
	return AssembleReport(b.in), nil
}
