// Package scene tracks the current location and the tagged entities
// present in it.
package scene

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/storyforge/pkg/delta"
	"github.com/jwebster45206/storyforge/pkg/state"
)

// LogStream is the name of the append-only scene log.
const LogStream = "scene_log"

// LocationPath is the instruction path that moves the player.
const LocationPath = "world.location"

// Block is an explicit scene block decoded from a narrator reply.
type Block struct {
	Location *string  `json:"location,omitempty"`
	Present  []string `json:"present"`
}

// State is the value form of the tracker, kept in snapshots.
type State struct {
	Location *string  `json:"location"`
	Present  []string `json:"present"`
}

// LogSink receives append-only scene log lines.
type LogSink interface {
	AppendLogLine(ctx context.Context, stream string, record []byte) error
}

type logEntry struct {
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
	Location  *string   `json:"location"`
	Present   []string  `json:"present"`
}

// Tracker holds the scene of one session. It is not safe for concurrent
// use; the owning session serializes access.
type Tracker struct {
	location *string
	present  []string

	sink   LogSink
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates an empty scene tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, now: time.Now}
}

// WithSink records applied scene blocks to an append-only log.
func (t *Tracker) WithSink(sink LogSink) *Tracker {
	t.sink = sink
	return t
}

// ApplySceneBlock replaces the scene with an explicit block.
func (t *Tracker) ApplySceneBlock(turn int, b Block) {
	t.location = copyString(b.Location)
	t.present = dedupe(b.Present)
	t.logger.Debug("Scene set from block", "turn", turn, "location", deref(t.location), "present", t.present)
	t.mirror(turn)
}

// InferFromInstructions derives the scene from Declare instructions. It
// only runs while no location and no present entities are known.
func (t *Tracker) InferFromInstructions(set delta.Set) bool {
	if t.location != nil || len(t.present) > 0 {
		return false
	}
	changed := false
	for _, inst := range set.Sorted() {
		if inst.Op != delta.OpDeclare {
			continue
		}
		if inst.Key == LocationPath {
			if s, ok := inst.Value.(string); ok {
				t.location = &s
				changed = true
			}
			continue
		}
		if _, ok := state.DeclaredKind(inst); ok {
			segs := inst.Segments()
			t.present = append(t.present, segs[0]+"."+segs[1])
			changed = true
		}
	}
	t.present = dedupe(t.present)
	if changed {
		t.logger.Debug("Scene inferred from instructions", "location", deref(t.location), "present", t.present)
	}
	return changed
}

// SceneTags resolves the present entities to their #/@ tags, followed by
// the location if it is itself an @ tag. Scene blocks list tags directly;
// inferred scenes list category.entity paths.
func (t *Tracker) SceneTags(world state.World) []string {
	var tags []string
	for _, path := range t.present {
		if state.IsSymbolicTag(path) {
			tags = append(tags, path)
			continue
		}
		category, entity, ok := strings.Cut(path, ".")
		if !ok {
			continue
		}
		attrs, ok := world.Entity(category, entity)
		if !ok {
			continue
		}
		tag, _ := attrs[state.TagKey].(string)
		if state.IsSymbolicTag(tag) {
			tags = append(tags, tag)
		}
	}
	if t.location != nil && strings.HasPrefix(*t.location, "@") {
		tags = append(tags, *t.location)
	}
	return tags
}

// Location returns the current location, if any.
func (t *Tracker) Location() (string, bool) {
	if t.location == nil {
		return "", false
	}
	return *t.location, true
}

// Present returns a copy of the present entity paths.
func (t *Tracker) Present() []string {
	return append([]string{}, t.present...)
}

// Reset clears the scene.
func (t *Tracker) Reset() {
	t.location = nil
	t.present = nil
}

// Snapshot returns the value form of the scene.
func (t *Tracker) Snapshot() State {
	return State{Location: copyString(t.location), Present: t.Present()}
}

// Restore replaces the scene with a snapshot value.
func (t *Tracker) Restore(s State) {
	t.location = copyString(s.Location)
	t.present = append([]string(nil), s.Present...)
}

func (t *Tracker) mirror(turn int) {
	if t.sink == nil {
		return
	}
	data, err := json.Marshal(logEntry{
		Turn:      turn,
		Timestamp: t.now().UTC(),
		Location:  t.location,
		Present:   t.Present(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.sink.AppendLogLine(ctx, LogStream, data); err != nil {
		t.logger.Debug("Failed to write scene log", "error", err)
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
