package scene

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/jwebster45206/storyforge/pkg/delta"
	"github.com/jwebster45206/storyforge/pkg/state"
)

type memSink struct {
	lines []string
}

func (m *memSink) AppendLogLine(_ context.Context, stream string, record []byte) error {
	m.lines = append(m.lines, stream+" "+string(record))
	return nil
}

func strPtr(s string) *string { return &s }

func TestTracker_ApplySceneBlock(t *testing.T) {
	sink := &memSink{}
	tr := NewTracker(nil).WithSink(sink)
	tr.ApplySceneBlock(3, Block{Location: strPtr("@tavern"), Present: []string{"#bob", "#bob", "#alice"}})

	loc, ok := tr.Location()
	if !ok || loc != "@tavern" {
		t.Errorf("location = %q, %v", loc, ok)
	}
	if got, want := tr.Present(), []string{"#bob", "#alice"}; !reflect.DeepEqual(got, want) {
		t.Errorf("present = %v, want %v", got, want)
	}
	if len(sink.lines) != 1 || !strings.HasPrefix(sink.lines[0], LogStream+" ") {
		t.Fatalf("expected one scene log line, got %v", sink.lines)
	}
	if !strings.Contains(sink.lines[0], `"turn":3`) {
		t.Errorf("log line missing turn: %s", sink.lines[0])
	}
}

func TestTracker_InferFromInstructions(t *testing.T) {
	tr := NewTracker(nil)
	set := delta.Set{
		"!world.location": delta.Declare("world.location", "@market"),
		"!npcs.bob":       delta.Declare("npcs.bob", map[string]any{"tag": "character"}),
		"!places.inn":     delta.Declare("places.inn", map[string]any{"tag": "location"}),
		"!items.lamp":     delta.Declare("items.lamp", map[string]any{"tag": "item"}),
		"=npcs.carol":     delta.Assign("npcs.carol", map[string]any{"tag": "character"}),
	}
	if !tr.InferFromInstructions(set) {
		t.Fatal("expected inference to change the scene")
	}
	loc, _ := tr.Location()
	if loc != "@market" {
		t.Errorf("location = %q", loc)
	}
	want := []string{"npcs.bob", "places.inn"}
	if got := tr.Present(); !reflect.DeepEqual(got, want) {
		t.Errorf("present = %v, want %v", got, want)
	}
}

func TestTracker_InferenceOnlyWhileEmpty(t *testing.T) {
	tr := NewTracker(nil)
	tr.ApplySceneBlock(1, Block{Location: strPtr("@tavern")})

	changed := tr.InferFromInstructions(delta.Set{
		"!world.location": delta.Declare("world.location", "@market"),
		"!npcs.bob":       delta.Declare("npcs.bob", map[string]any{"tag": "character"}),
	})
	if changed {
		t.Error("inference must not run once a scene block set the location")
	}
	loc, _ := tr.Location()
	if loc != "@tavern" || len(tr.Present()) != 0 {
		t.Errorf("scene altered: location=%q present=%v", loc, tr.Present())
	}

	tr2 := NewTracker(nil)
	tr2.ApplySceneBlock(1, Block{Present: []string{"npcs.bob"}})
	if tr2.InferFromInstructions(delta.Set{"!world.location": delta.Declare("world.location", "@market")}) {
		t.Error("inference must not run while present is non-empty")
	}
}

func TestTracker_SceneTags(t *testing.T) {
	world := state.World{
		"npcs": map[string]any{
			"bob":   map[string]any{"tag": "#bob"},
			"carol": map[string]any{"tag": "character"},
		},
		"places": map[string]any{"inn": map[string]any{"tag": "@inn"}},
	}
	tr := NewTracker(nil)
	tr.Restore(State{
		Location: strPtr("@square"),
		Present:  []string{"npcs.bob", "npcs.carol", "places.inn", "npcs.ghost", "malformed"},
	})
	got := tr.SceneTags(world)
	want := []string{"#bob", "@inn", "@square"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SceneTags = %v, want %v", got, want)
	}

	tr.ApplySceneBlock(1, Block{Location: strPtr("@inn"), Present: []string{"#bob", "#dana"}})
	got = tr.SceneTags(world)
	want = []string{"#bob", "#dana", "@inn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("scene block tags = %v, want %v", got, want)
	}

	tr.Restore(State{Location: strPtr("square")})
	if got := tr.SceneTags(world); len(got) != 0 {
		t.Errorf("untagged location should not be a scene tag: %v", got)
	}
}

func TestTracker_SnapshotRestoreReset(t *testing.T) {
	tr := NewTracker(nil)
	tr.ApplySceneBlock(1, Block{Location: strPtr("@tavern"), Present: []string{"#bob"}})
	snap := tr.Snapshot()

	*snap.Location = "@elsewhere"
	if loc, _ := tr.Location(); loc != "@tavern" {
		t.Errorf("snapshot aliases tracker state: %q", loc)
	}

	tr.Reset()
	if _, ok := tr.Location(); ok || len(tr.Present()) != 0 {
		t.Error("reset should clear the scene")
	}

	tr.Restore(State{Location: strPtr("@tavern"), Present: []string{"#bob"}})
	if loc, _ := tr.Location(); loc != "@tavern" {
		t.Errorf("restore location = %q", loc)
	}
}
