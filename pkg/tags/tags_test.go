package tags

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jwebster45206/storyforge/pkg/state"
)

func TestValidate(t *testing.T) {
	world := state.World{
		"npcs": map[string]any{
			"bob":   map[string]any{"tag": "#bob"},
			"carol": map[string]any{"tag": ""},
			"dave":  map[string]any{"mood": "grim"},
			"erin":  map[string]any{"tag": "erin"},
			"frank": map[string]any{"tag": 7},
		},
		"places": map[string]any{
			"inn":    map[string]any{"tag": "@inn"},
			"tavern": map[string]any{"tag": "@inn"},
		},
		"aliases": map[string]any{
			"bobby": map[string]any{"tag": "#bob"},
		},
		"rules": map[string]any{"hard": true},
	}
	got := Validate(world)
	// aliases sorts before npcs, so it owns #bob and npcs.bob is the duplicate
	want := []Issue{
		{Path: "npcs.bob", Issue: Duplicate},
		{Path: "npcs.carol", Issue: Empty},
		{Path: "npcs.dave", Issue: Missing},
		{Path: "npcs.erin", Issue: Malformed},
		{Path: "npcs.frank", Issue: Malformed},
		{Path: "places.tavern", Issue: Duplicate},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_CleanAndReadOnly(t *testing.T) {
	world := state.World{
		"npcs":   map[string]any{"bob": map[string]any{"tag": "#bob"}},
		"places": map[string]any{"inn": map[string]any{"tag": "@inn"}},
	}
	before := world.Clone()
	if got := Validate(world); len(got) != 0 {
		t.Errorf("expected no issues, got %v", got)
	}
	if diff := cmp.Diff(before, world); diff != "" {
		t.Errorf("validate mutated the world (-before +after):\n%s", diff)
	}
	if got := Validate(nil); got == nil || len(got) != 0 {
		t.Errorf("nil world should yield an empty list, got %#v", got)
	}
}

func TestIssue_String(t *testing.T) {
	if got := (Issue{Path: "npcs.bob", Issue: Missing}).String(); got != "npcs.bob: missing tag" {
		t.Errorf("String() = %q", got)
	}
}
