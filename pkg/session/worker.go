package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/narration"
	"github.com/jwebster45206/storyforge/pkg/prompts"
	"github.com/jwebster45206/storyforge/pkg/state"
	"github.com/jwebster45206/storyforge/pkg/turnlog"
)

// sinkTimeout bounds a single best-effort log or snapshot write.
const sinkTimeout = 5 * time.Second

// NoNarration stands in for a reply that carried only structured blocks.
const NoNarration = "(no narration)"

// logLine is a record waiting to be written to the log sink.
type logLine struct {
	stream string
	record any
}

// lineBuffer collects the digest and scene log lines written while the
// session lock is held. They are drained and written after it is released.
type lineBuffer struct {
	lines []logLine
}

func (b *lineBuffer) AppendLogLine(_ context.Context, stream string, record []byte) error {
	b.lines = append(b.lines, logLine{stream: stream, record: json.RawMessage(record)})
	return nil
}

func (b *lineBuffer) drain() []logLine {
	lines := b.lines
	b.lines = nil
	return lines
}

// run processes queued turns in submission order until Close.
func (s *Session) run() {
	defer close(s.stopped)
	for {
		if t := s.next(); t != nil {
			s.process(t)
			continue
		}
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
	}
}

func (s *Session) next() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t
}

// process runs one turn: assemble, send, then apply the reply if the
// session is still on the turn's generation.
func (s *Session) process(t *Turn) {
	s.mu.Lock()
	if t.Generation != s.generation || s.closed {
		s.mu.Unlock()
		s.discard([]*Turn{t})
		return
	}
	stack := prompts.New().
		WithTurn(t.Number).
		WithUserMessage(t.Action).
		WithPolicy(s.policy).
		WithBlocks(s.blocks).
		WithHistory(completedBefore(s.turns, t.Number)).
		WithDigest(s.digest.ExportAll()).
		WithSceneTags(s.scene.SceneTags(s.game.World)).
		WithWorld(s.game.World).
		WithExpressions(copyExpressions(s.expressions))
	settings := s.card.AISettings
	ctx, cancel := context.WithCancel(context.Background())
	s.inflight = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	var completion *chat.Completion
	report, err := stack.BuildReport()
	if err == nil {
		if report.OverBudget() {
			s.logger.Warn("Stack over token budget", "turn", t.Number, "estimated_tokens", report.EstimatedTokens, "fallbacks", report.Fallbacks)
		}
		completion, err = s.client.Send(ctx, report.Messages, settings, s.model)
	}
	data := turnlog.TurnData{
		Turn:       t.Number,
		UserInput:  t.Action,
		Model:      s.model,
		Messages:   report.Messages,
		Completion: completion,
		Settings:   &settings,
		Latency:    time.Since(start),
		Fallbacks:  report.Fallbacks,
		Err:        err,
	}

	s.mu.Lock()
	if t.Generation != s.generation || s.closed {
		s.mu.Unlock()
		s.logger.Info("Discarded stale completion", "turn", t.Number, "generation", t.Generation)
		s.discard([]*Turn{t})
		return
	}
	s.inflight = nil

	if err != nil {
		s.turns[t.Number].Error = err.Error()
		lines := s.recordLocked(data)
		s.mu.Unlock()

		s.logger.Warn("Narrator request failed", "turn", t.Number, "error", err)
		s.appendLines(lines)
		t.settle(StateFailed, "", err)
		s.publish(Event{Type: EventTurnFailed, Turn: t.Number, Generation: t.Generation, Data: map[string]any{"error": err.Error()}})
		return
	}

	resp := narration.Parse(completion.Content)
	resp.Instructions = state.InferTags(resp.Instructions)
	data.Response = &resp

	if resp.Scene != nil {
		s.scene.ApplySceneBlock(t.Number, *resp.Scene)
	} else {
		s.scene.InferFromInstructions(resp.Instructions)
	}
	result := s.game.ApplyInstructions(resp.Instructions, s.logger)
	data.ApplyFailed = result.Failed()

	// parsed digest lines carry their array index as turn; record them
	// under the real turn number
	for _, l := range resp.DigestLines {
		s.digest.Record(t.Number, l.Score, l.Text)
	}
	s.digest.RecordFromInstructions(t.Number, resp.Prose, resp.Instructions)

	prose := resp.Prose
	if prose == "" {
		prose = NoNarration
	}
	s.turns[t.Number].Narrator = prose
	lines := append(s.pending.drain(), s.recordLocked(data)...)
	if len(resp.Instructions) > 0 {
		entry := s.logs.Deltas(t.Number, resp.Instructions)
		s.worldDeltas = append(s.worldDeltas, entry)
		lines = append(lines, logLine{stream: turnlog.DeltaStream, record: entry})
	}
	location, _ := s.scene.Location()
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("Turn completed",
		"turn", t.Number,
		"applied", len(result.Applied),
		"abandoned", len(result.Abandoned),
		"latency_ms", data.Latency.Milliseconds())
	s.appendLines(lines)
	t.settle(StateCompleted, prose, nil)
	s.publish(Event{Type: EventTurnCompleted, Turn: t.Number, Generation: gen, Data: map[string]any{"narrator": prose}})
	s.publish(Event{Type: EventStateUpdated, Turn: t.Number, Generation: gen, Data: map[string]any{"location": location}})

	pctx, pcancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer pcancel()
	if err := s.Persist(pctx); err != nil {
		s.logger.Warn("Failed to persist snapshot", "turn", t.Number, "error", err)
	}
}

// recordLocked appends the turn and stack log entries and returns them for
// the sink.
func (s *Session) recordLocked(data turnlog.TurnData) []logLine {
	entry := s.logs.Turn(data)
	stack := s.logs.Stack(data)
	s.turnLogs = append(s.turnLogs, entry)
	s.stackLogs = append(s.stackLogs, stack)
	return []logLine{
		{stream: turnlog.TurnStream, record: entry},
		{stream: turnlog.StackStream, record: stack},
	}
}

// appendLines writes log records to the sink. Failures are logged only.
func (s *Session) appendLines(lines []logLine) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, l := range lines {
		data, err := json.Marshal(l.record)
		if err != nil {
			s.logger.Debug("Failed to encode log line", "stream", l.stream, "error", err)
			continue
		}
		if err := s.sink.AppendLogLine(ctx, l.stream, data); err != nil {
			s.logger.Debug("Failed to append log line", "stream", l.stream, "error", err)
		}
	}
}

// completedBefore returns the settled, successful turns before n.
func completedBefore(turns []chat.ConversationTurn, n int) []chat.ConversationTurn {
	if n > len(turns) {
		n = len(turns)
	}
	var out []chat.ConversationTurn
	for _, t := range turns[:n] {
		if t.Narrator != "" {
			out = append(out, t)
		}
	}
	return out
}
