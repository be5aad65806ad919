// Package digest keeps the ranked, pruned memory of short importance-scored
// summaries extracted from past turns.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/storyforge/pkg/delta"
	"github.com/jwebster45206/storyforge/pkg/state"
)

const (
	// MaxStored bounds the in-memory digest.
	MaxStored = 30
	// DefaultContextLines is how many lines TopForContext returns by default.
	DefaultContextLines = 12
	// LogStream is the name of the append-only digest log.
	LogStream = "digest_log"

	MinScore = 1
	MaxScore = 5
)

var tagPattern = regexp.MustCompile(`[#@$]\w+`)

// Line is one digest memory.
type Line struct {
	Turn  int      `json:"turn"`
	Tags  []string `json:"tags"`
	Score int      `json:"score"`
	Text  string   `json:"text"`
}

// HasSymbolicTag reports whether the line carries a #/@ tag.
func (l Line) HasSymbolicTag() bool {
	for _, t := range l.Tags {
		if state.IsSymbolicTag(t) {
			return true
		}
	}
	return false
}

// ExtractTags returns the distinct #, @ and $ tags in text in first-seen order.
func ExtractTags(text string) []string {
	matches := tagPattern.FindAllString(text, -1)
	tags := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		tags = append(tags, m)
	}
	return tags
}

// LogSink receives append-only log lines. Failures are the sink's problem;
// the store never surfaces them.
type LogSink interface {
	AppendLogLine(ctx context.Context, stream string, record []byte) error
}

// Store is the digest memory of one session. It is not safe for concurrent
// use; the owning session serializes access.
type Store struct {
	lines  []Line
	sink   LogSink
	logger *slog.Logger
	lower  cases.Caser
}

// NewStore creates an empty digest store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		lower:  cases.Lower(language.Und),
	}
}

// WithSink mirrors recorded lines to an append-only log.
func (s *Store) WithSink(sink LogSink) *Store {
	s.sink = sink
	return s
}

// Record appends a line. Scores outside 1..5 and blank text are ignored.
// The store is pruned afterwards.
func (s *Store) Record(turn, score int, text string) {
	text = strings.TrimSpace(text)
	if score < MinScore || score > MaxScore || text == "" {
		return
	}
	line := Line{
		Turn:  turn,
		Tags:  ExtractTags(text),
		Score: score,
		Text:  text,
	}
	s.lines = append(s.lines, line)
	s.mirror(line)
	s.Prune(MaxStored)
}

func (s *Store) mirror(line Line) {
	if s.sink == nil {
		return
	}
	data, err := json.Marshal(line)
	if err != nil {
		s.logger.Debug("Failed to marshal digest line", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.sink.AppendLogLine(ctx, LogStream, data); err != nil {
		s.logger.Debug("Failed to mirror digest line", "error", err)
	}
}

// RecordFromInstructions promotes applied instructions and the first
// sentence of the prose into digest lines. Nothing is recorded for a turn
// without instructions.
func (s *Store) RecordFromInstructions(turn int, prose string, set delta.Set) {
	if len(set) == 0 {
		return
	}
	for _, token := range set.Tokens() {
		inst := set[token]
		s.Record(turn, Score(token, inst), s.summarize(inst))
	}

	if first := firstSentence(prose); len([]rune(first)) > 10 {
		s.Record(turn, 3, first)
	}
}

// Score rates an instruction's importance from its path and source token.
func Score(token string, inst delta.Instruction) int {
	key := inst.Key
	switch {
	case strings.HasPrefix(key, "player."), strings.HasPrefix(key, "world."):
		return 5
	case strings.Contains(key, ".flags."):
		return 4
	case strings.Contains(key, ".status"):
		return 3
	case strings.HasPrefix(token, "+"), strings.HasPrefix(token, "!"):
		return 2
	}
	return 1
}

func (s *Store) summarize(inst delta.Instruction) string {
	subject := inst.Key
	if _, ok := state.DeclaredKind(inst); ok {
		segs := inst.Segments()
		subject = "@" + s.lower.String(segs[1])
	}
	value := renderValue(inst.Value)
	switch inst.Op {
	case delta.OpAdd:
		return fmt.Sprintf("Added to %s: %s", subject, value)
	case delta.OpAssign:
		return fmt.Sprintf("Set %s = %s", subject, value)
	case delta.OpDeclare:
		return fmt.Sprintf("Declared %s as %s", subject, value)
	case delta.OpDelete:
		return fmt.Sprintf("Removed %s", subject)
	}
	return ""
}

func renderValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func firstSentence(prose string) string {
	for _, seg := range strings.FieldsFunc(prose, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if seg = strings.TrimSpace(seg); seg != "" {
			return seg
		}
	}
	return ""
}

// TopForContext selects the maxLines highest-priority lines (score desc,
// then turn asc) and returns their texts in chronological order.
func (s *Store) TopForContext(maxLines int) []string {
	if maxLines <= 0 || len(s.lines) == 0 {
		return nil
	}
	ranked := make([]Line, len(s.lines))
	copy(ranked, s.lines)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Turn < ranked[j].Turn
	})
	if len(ranked) > maxLines {
		ranked = ranked[:maxLines]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Turn < ranked[j].Turn
	})
	texts := make([]string, len(ranked))
	for i, l := range ranked {
		texts[i] = l.Text
	}
	return texts
}

// Prune keeps the maxStored most important lines, preferring recent ones
// among equal scores.
func (s *Store) Prune(maxStored int) {
	if len(s.lines) <= maxStored {
		return
	}
	sort.SliceStable(s.lines, func(i, j int) bool {
		if s.lines[i].Score != s.lines[j].Score {
			return s.lines[i].Score > s.lines[j].Score
		}
		return s.lines[i].Turn > s.lines[j].Turn
	})
	dropped := len(s.lines) - maxStored
	s.lines = s.lines[:maxStored:maxStored]
	s.logger.Debug("Pruned digest", "dropped", dropped, "kept", maxStored)
}

// Lines returns a copy of the stored lines.
func (s *Store) Lines() []Line {
	return s.ExportAll()
}

// ExportAll returns a copy of every stored line.
func (s *Store) ExportAll() []Line {
	out := make([]Line, len(s.lines))
	for i, l := range s.lines {
		l.Tags = append([]string{}, l.Tags...)
		out[i] = l
	}
	return out
}

// ReplaceAll swaps in lines wholesale, as on snapshot restore.
func (s *Store) ReplaceAll(lines []Line) {
	s.lines = make([]Line, len(lines))
	for i, l := range lines {
		l.Tags = append([]string{}, l.Tags...)
		s.lines[i] = l
	}
}

// Clear empties the store.
func (s *Store) Clear() {
	s.lines = nil
}

// Len returns the number of stored lines.
func (s *Store) Len() int {
	return len(s.lines)
}
