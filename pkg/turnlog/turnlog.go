// Package turnlog builds the immutable audit records kept for every turn.
package turnlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/delta"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/narration"
	"github.com/jwebster45206/storyforge/pkg/prompts"
)

// Log stream names.
const (
	TurnStream  = "turn_log"
	StackStream = "stack_log"
	DeltaStream = "worldstate_log"
)

// ErrorFlag marks something that went wrong during a turn.
type ErrorFlag string

const (
	JSONParseFailed   ErrorFlag = "JSON_PARSE_FAILED"
	DeltaApplyFailed  ErrorFlag = "DELTA_APPLY_FAILED"
	DigestMissing     ErrorFlag = "DIGEST_MISSING"
	ContextTooLong    ErrorFlag = "CONTEXT_TOO_LONG"
	ModelTimeout      ErrorFlag = "MODEL_TIMEOUT"
	TruncatedResponse ErrorFlag = "TRUNCATED_RESPONSE"
	UnknownError      ErrorFlag = "UNKNOWN_ERROR"
)

// Entry is the canonical structured log of one turn.
type Entry struct {
	TurnNumber     int       `json:"turnNumber"`
	Timestamp      time.Time `json:"timestamp"`
	UserInput      string    `json:"userInput"`
	NarratorOutput string    `json:"narratorOutput"`

	Digest *digest.Line `json:"digest,omitempty"` // first digest line of the reply
	Deltas delta.Set    `json:"deltas,omitempty"`

	ContextSnapshot string         `json:"contextSnapshot,omitempty"`
	TokenUsage      *chat.Usage    `json:"tokenUsage,omitempty"`
	APIRequestBody  string         `json:"apiRequestBody,omitempty"`
	APIResponseBody string         `json:"apiResponseBody,omitempty"`
	APIURL          string         `json:"apiUrl,omitempty"`
	LatencyMs       int64          `json:"latencyMs"`
	AISettings      *chat.Settings `json:"aiSettings,omitempty"`
	ErrorFlags      []ErrorFlag    `json:"errorFlags"`
	ModelSlugUsed   string         `json:"modelSlugUsed"`
}

// HasFlag reports whether the entry carries flag.
func (e Entry) HasFlag(flag ErrorFlag) bool {
	for _, f := range e.ErrorFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// StackEntry records the exact stack sent to the model.
type StackEntry struct {
	Turn         int                `json:"turn"`
	Timestamp    time.Time          `json:"timestamp"`
	Model        string             `json:"model"`
	Stack        []chat.ChatMessage `json:"stack"`
	TokenSummary chat.Usage         `json:"token_summary"`
	LatencyMs    int64              `json:"latency_ms"`
}

// DeltaEntry records the instructions applied on one turn.
type DeltaEntry struct {
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
	Deltas    delta.Set `json:"deltas"`
}

// TurnData is everything known about a settled turn.
type TurnData struct {
	Turn       int
	UserInput  string
	Model      string
	Messages   []chat.ChatMessage
	Completion *chat.Completion
	Response   *narration.Response
	Settings   *chat.Settings
	Latency    time.Duration

	// Fallbacks are the token fallback steps applied to the stack.
	Fallbacks []string
	// ApplyFailed is set when any instruction was abandoned.
	ApplyFailed bool
	// Err is the transport error of a failed exchange.
	Err error
}

// Assembler builds log entries. Its clock is injectable for tests.
type Assembler struct {
	now func() time.Time
}

// NewAssembler creates an assembler using the wall clock.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// WithClock replaces the assembler's clock.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Turn builds the turn log entry.
func (a *Assembler) Turn(d TurnData) Entry {
	e := Entry{
		TurnNumber:      d.Turn,
		Timestamp:       a.now().UTC(),
		UserInput:       d.UserInput,
		ContextSnapshot: RenderStack(d.Messages),
		LatencyMs:       d.Latency.Milliseconds(),
		AISettings:      d.Settings,
		ErrorFlags:      Flags(d),
		ModelSlugUsed:   d.Model,
	}
	if d.Completion != nil {
		e.NarratorOutput = d.Completion.Content
		e.APIURL = d.Completion.URL
		e.APIRequestBody = RedactRequest(d.Completion.RequestBody)
		e.APIResponseBody = d.Completion.ResponseBody
		e.TokenUsage = usage(d.Messages, d.Completion)
		if d.Completion.Model != "" {
			e.ModelSlugUsed = d.Completion.Model
		}
	}
	if d.Response != nil {
		if len(d.Response.DigestLines) > 0 {
			first := d.Response.DigestLines[0]
			e.Digest = &first
		}
		if len(d.Response.Instructions) > 0 {
			e.Deltas = d.Response.Instructions
		}
	}
	return e
}

// Stack builds the stack log entry.
func (a *Assembler) Stack(d TurnData) StackEntry {
	model := d.Model
	if d.Completion != nil && d.Completion.Model != "" {
		model = d.Completion.Model
	}
	return StackEntry{
		Turn:         d.Turn,
		Timestamp:    a.now().UTC(),
		Model:        model,
		Stack:        append([]chat.ChatMessage{}, d.Messages...),
		TokenSummary: *usage(d.Messages, d.Completion),
		LatencyMs:    d.Latency.Milliseconds(),
	}
}

// Deltas builds the world-state delta log entry.
func (a *Assembler) Deltas(turn int, set delta.Set) DeltaEntry {
	return DeltaEntry{Turn: turn, Timestamp: a.now().UTC(), Deltas: set}
}

// Flags derives the error flags of a turn.
func Flags(d TurnData) []ErrorFlag {
	flags := []ErrorFlag{}
	if d.Err != nil {
		if errors.Is(d.Err, context.DeadlineExceeded) {
			flags = append(flags, ModelTimeout)
		} else {
			flags = append(flags, UnknownError)
		}
	}
	if len(d.Fallbacks) > 0 {
		flags = append(flags, ContextTooLong)
	}
	if d.Completion.Truncated() {
		flags = append(flags, TruncatedResponse)
	}
	if d.Response != nil {
		if len(d.Response.Malformed) > 0 {
			flags = append(flags, JSONParseFailed)
		}
		if !d.Response.HasBlock(narration.MarkerDigest) {
			flags = append(flags, DigestMissing)
		}
	}
	if d.ApplyFailed {
		flags = append(flags, DeltaApplyFailed)
	}
	return flags
}

// usage prefers provider accounting and falls back to the character
// estimate used for the token policy.
func usage(messages []chat.ChatMessage, c *chat.Completion) *chat.Usage {
	if c != nil && c.Usage != nil {
		u := *c.Usage
		return &u
	}
	u := chat.Usage{PromptTokens: prompts.EstimateTokens(messages)}
	if c != nil {
		u.CompletionTokens = len(c.Content) / 4
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return &u
}

// RenderStack renders a stack as the text snapshot kept in turn logs.
func RenderStack(messages []chat.ChatMessage) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", m.Role, m.Content)
	}
	return sb.String()
}

// RedactRequest replaces the messages array of a chat request body with
// its length. The full stack is kept in the context snapshot instead.
func RedactRequest(body string) string {
	if body == "" || !gjson.Valid(body) {
		return body
	}
	n := gjson.Get(body, "messages.#")
	if !n.Exists() {
		return body
	}
	out, err := sjson.Set(body, "messages", fmt.Sprintf("%d messages redacted", n.Int()))
	if err != nil {
		return body
	}
	return out
}
