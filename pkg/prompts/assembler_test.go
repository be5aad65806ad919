package prompts

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/state"
)

func sys(content string) chat.ChatMessage {
	return chat.ChatMessage{Role: chat.ChatRoleSystem, Content: content}
}

func fullInput() Input {
	p := DefaultPolicy()
	p.NarratorProse = Inclusion{Mode: ModeAlways}
	p.Digest.Filtering = FilterNone
	return Input{
		TurnNumber:  0,
		UserMessage: "  look around ",
		Policy:      p,
		Blocks: StaticBlocks{
			FirstTurn: "Welcome",
			Prompt:    "You narrate.",
			GameRules: "Rules.",
		},
		History: []chat.ConversationTurn{{User: "hi", Narrator: "Hello #bob"}},
		DigestLines: []digest.Line{
			{Turn: 1, Score: 5, Text: "king died"},
			{Turn: 2, Score: 1, Text: "trivia"},
			{Turn: 3, Score: 3, Text: "found key"},
		},
		Expressions: map[string][]string{"#bob": {"smiles", "frowns", "laughs", "sighs"}},
		World: state.World{
			"npcs": map[string]any{"bob": map[string]any{"tag": "#bob", "mood": "calm"}},
		},
	}
}

func TestAssemble_ConstructionOrder(t *testing.T) {
	got := Assemble(fullInput())
	want := []chat.ChatMessage{
		sys("Welcome"),
		sys("You narrate."),
		sys("Rules."),
		{Role: chat.ChatRoleUser, Content: "hi"},
		{Role: chat.ChatRoleAgent, Content: "Hello #bob"},
		sys("Memory Summary:\n- [5] king died\n- [3] found key"),
		sys("Character Emotions:\n- #bob:\n    • smiles\n    • frowns\n    • laughs"),
		sys(`World State:` + "\n" + `{"npcs":{"bob":{"mood":"calm","tag":"#bob"}}}`),
		sys("Known Entities:\n- #bob → npcs.bob"),
		sys("Output format: prose_digest_emit"),
		{Role: chat.ChatRoleUser, Content: "look around"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	in := fullInput()
	in.TurnNumber = 2
	in.World["places"] = map[string]any{
		"inn":    map[string]any{"tag": "@inn"},
		"market": map[string]any{"tag": "@market"},
	}
	in.Expressions["#alice"] = []string{"grins"}

	first := Assemble(in)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, Assemble(in)); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
	if first[0].Content == "Welcome" {
		t.Error("first-turn block must only be emitted on turn 0")
	}
}

func TestAssemble_ProseHistory(t *testing.T) {
	history := []chat.ConversationTurn{
		{User: "u1", Narrator: "n1 #bob"},
		{User: "u2", Narrator: "n2"},
		{User: "u3", Narrator: "n3 @inn"},
		{User: "u4", Narrator: "n4"},
	}
	tests := []struct {
		name      string
		inclusion Inclusion
		wantUsers []string
	}{
		{name: "always", inclusion: Inclusion{Mode: ModeAlways}, wantUsers: []string{"u1", "u2", "u3", "u4"}},
		{name: "first n", inclusion: Inclusion{Mode: ModeFirstN, N: 2}, wantUsers: []string{"u1", "u2"}},
		{name: "after n", inclusion: Inclusion{Mode: ModeAfterN, N: 1}, wantUsers: []string{"u2", "u3", "u4"}},
		{name: "after n past end", inclusion: Inclusion{Mode: ModeAfterN, N: 9}, wantUsers: nil},
		{name: "never", inclusion: Inclusion{Mode: ModeNever}, wantUsers: nil},
		{name: "filtered keeps all", inclusion: Inclusion{Mode: ModeFiltered, N: 1}, wantUsers: []string{"u1", "u2", "u3", "u4"}},
		{name: "filtered scene only", inclusion: Inclusion{Mode: ModeFiltered, Filtering: FilterSceneOnly}, wantUsers: []string{"u1", "u3"}},
		{name: "scene only", inclusion: Inclusion{Mode: ModeAlways, Filtering: FilterSceneOnly}, wantUsers: []string{"u1", "u3"}},
		{name: "tagged keeps all", inclusion: Inclusion{Mode: ModeFirstN, N: 3, Filtering: FilterTagged}, wantUsers: []string{"u1", "u2", "u3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.NarratorProse = tt.inclusion
			p.OutputFormat = ""
			msgs := Assemble(Input{
				TurnNumber:  4,
				UserMessage: "go",
				Policy:      p,
				History:     history,
				SceneTags:   []string{"#bob", "@inn"},
			})

			var users []string
			for i, m := range msgs[:len(msgs)-1] {
				switch m.Role {
				case chat.ChatRoleUser:
					users = append(users, m.Content)
					if next := msgs[i+1]; next.Role != chat.ChatRoleAgent {
						t.Errorf("user message %q not followed by narrator", m.Content)
					}
				case chat.ChatRoleSystem:
					t.Errorf("unexpected system message %q", m.Content)
				}
			}
			if diff := cmp.Diff(tt.wantUsers, users); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAssemble_DigestEmission(t *testing.T) {
	lines := []digest.Line{
		{Turn: 0, Score: 4, Text: "major"},
		{Turn: 1, Score: 2, Text: "minor"},
		{Turn: 2, Score: 3, Tags: []string{"#bob"}, Text: "#bob spoke"},
		{Turn: 3, Score: 7, Text: "no rule"},
	}
	tests := []struct {
		name      string
		turn      int
		filtering Filtering
		want      string
	}{
		{name: "turn 0", turn: 0, filtering: FilterNone, want: "Memory Summary:\n- [2] minor\n- [3] #bob spoke"},
		{name: "turn 1", turn: 1, filtering: FilterNone, want: "Memory Summary:\n- [4] major\n- [2] minor\n- [3] #bob spoke"},
		{name: "turn 3", turn: 3, filtering: FilterNone, want: "Memory Summary:\n- [4] major\n- [3] #bob spoke"},
		{name: "turn 6", turn: 6, filtering: FilterNone, want: "Memory Summary:\n- [4] major"},
		{name: "tagged", turn: 3, filtering: FilterTagged, want: "Memory Summary:\n- [3] #bob spoke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.Digest.Filtering = tt.filtering
			got := digestBlock(lines, p, tt.turn, 0)
			if strings.TrimSpace(got) != tt.want {
				t.Errorf("digest block = %q, want %q", got, tt.want)
			}
		})
	}

	untagged := Assemble(Input{
		TurnNumber:  1,
		UserMessage: "x",
		Policy:      LoadPolicy("not json"),
		DigestLines: []digest.Line{{Turn: 0, Score: 5, Text: "untagged fact"}},
	})
	for _, m := range untagged {
		if strings.HasPrefix(m.Content, "Memory Summary") {
			t.Errorf("default policy should drop untagged lines: %q", m.Content)
		}
	}

	p := DefaultPolicy()
	p.DigestEmission = map[int]EmissionRule{}
	msgs := Assemble(Input{TurnNumber: 1, UserMessage: "x", Policy: p, DigestLines: lines})
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "Memory Summary") {
			t.Errorf("empty emission table should emit no digest: %q", m.Content)
		}
	}
}

func TestAssemble_Expressions(t *testing.T) {
	expressions := map[string][]string{
		"#bob":  {"smiles"},
		"@inn":  {"creaks"},
		"guard": {"scowls"},
	}
	tests := []struct {
		name      string
		inclusion Inclusion
		want      string
	}{
		{name: "all", inclusion: Inclusion{Mode: ModeAlways}, want: "Character Emotions:\n- #bob:\n    • smiles\n- @inn:\n    • creaks\n- guard:\n    • scowls\n"},
		{name: "scene only", inclusion: Inclusion{Mode: ModeAlways, Filtering: FilterSceneOnly}, want: "Character Emotions:\n- #bob:\n    • smiles\n"},
		{name: "never", inclusion: Inclusion{Mode: ModeNever}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expressionBlock(expressions, tt.inclusion, 3); got != tt.want {
				t.Errorf("expression block = %q, want %q", got, tt.want)
			}
		})
	}
	if got := expressionBlock(nil, Inclusion{Mode: ModeAlways}, 3); got != "" {
		t.Errorf("empty map should emit nothing, got %q", got)
	}
}

func TestAssemble_SceneFilteredBlocks(t *testing.T) {
	world := state.World{
		"npcs":   map[string]any{"bob": map[string]any{"tag": "#bob"}, "eve": map[string]any{"tag": "#eve"}},
		"places": map[string]any{"inn": map[string]any{"tag": "@inn"}},
		"items":  map[string]any{"lamp": map[string]any{"lit": true}},
	}
	scene := []string{"#bob"}

	got := worldStateBlock(world, Inclusion{Mode: ModeFiltered, Filtering: FilterSceneOnly}, scene)
	want := `World State:` + "\n" + `{"npcs":{"bob":{"tag":"#bob"},"eve":{"tag":"#eve"}}}`
	if got != want {
		t.Errorf("world block = %q, want %q", got, want)
	}
	if got := worldStateBlock(world, Inclusion{Filtering: FilterSceneOnly}, nil); got != "" {
		t.Errorf("empty scene should emit no world block, got %q", got)
	}
	if got := worldStateBlock(state.World{}, Inclusion{}, nil); got != "" {
		t.Errorf("empty world should emit nothing, got %q", got)
	}

	known := knownEntitiesBlock(world, Inclusion{Mode: ModeAlways, Filtering: FilterSceneOnly}, []string{"npcs.eve", "@inn"})
	if want := "Known Entities:\n- #eve → npcs.eve\n- @inn → places.inn"; known != want {
		t.Errorf("known entities = %q, want %q", known, want)
	}
	all := knownEntitiesBlock(world, Inclusion{Mode: ModeAfterN, N: 1}, nil)
	if want := "Known Entities:\n- #eve → npcs.eve\n- @inn → places.inn"; all != want {
		t.Errorf("known entities after 1 = %q, want %q", all, want)
	}
	if got := knownEntitiesBlock(world, Inclusion{Mode: ModeFiltered}, nil); got != "" {
		t.Errorf("filtered mode clips known entities to nothing, got %q", got)
	}
}

func TestAssembleReport_TokenFallback(t *testing.T) {
	in := fullInput()
	npcs := map[string]any{}
	for i := 0; i < 40; i++ {
		npcs[fmt.Sprintf("npc%02d", i)] = map[string]any{"tag": fmt.Sprintf("#npc%02d", i)}
	}
	in.World = state.World{"npcs": npcs}
	in.Policy.KnownEntities = Inclusion{Mode: ModeAlways}
	in.Policy.WorldState = Inclusion{Mode: ModeFiltered, Filtering: FilterSceneOnly}
	in.Policy.Tokens.MaxTokens = 0

	unbounded := AssembleReport(in)
	if unbounded.OverBudget() {
		t.Fatalf("no budget should apply no fallbacks: %v", unbounded.Fallbacks)
	}

	withoutKnown := in
	withoutKnown.Policy.KnownEntities = Inclusion{Mode: ModeNever}
	target := AssembleReport(withoutKnown)
	if target.EstimatedTokens >= unbounded.EstimatedTokens {
		t.Fatalf("known entities should add tokens: %d vs %d", target.EstimatedTokens, unbounded.EstimatedTokens)
	}

	in.Policy.Tokens.MaxTokens = target.EstimatedTokens
	res := AssembleReport(in)
	if diff := cmp.Diff([]string{FallbackDropKnownEntities}, res.Fallbacks); diff != "" {
		t.Errorf("fallbacks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(target.Messages, res.Messages); diff != "" {
		t.Errorf("fallback stack mismatch (-want +got):\n%s", diff)
	}

	in.Policy.Tokens.MaxTokens = 1
	res = AssembleReport(in)
	want := []string{FallbackDropKnownEntities, FallbackDropLowImportance, FallbackTruncateExpressionLog}
	if diff := cmp.Diff(want, res.Fallbacks); diff != "" {
		t.Errorf("fallbacks mismatch (-want +got):\n%s", diff)
	}
	for _, m := range res.Messages {
		if strings.HasPrefix(m.Content, "Memory Summary") && strings.Contains(m.Content, "[3]") {
			t.Errorf("low-importance digest line survived: %q", m.Content)
		}
		if strings.HasPrefix(m.Content, "Character Emotions") && strings.Contains(m.Content, "frowns") {
			t.Errorf("expression log not truncated: %q", m.Content)
		}
	}
}

func TestBuilder(t *testing.T) {
	if _, err := New().WithUserMessage("  ").Build(); err == nil {
		t.Error("expected an error for a blank user message")
	}
	if _, err := New().WithUserMessage("go").WithTurn(-1).Build(); err == nil {
		t.Error("expected an error for a negative turn")
	}

	in := fullInput()
	b := New().
		WithTurn(in.TurnNumber).
		WithUserMessage(in.UserMessage).
		WithPolicy(in.Policy).
		WithBlocks(in.Blocks).
		WithHistory(in.History).
		WithDigest(in.DigestLines).
		WithExpressions(in.Expressions).
		WithWorld(in.World).
		WithSceneTags(nil)
	got, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff(Assemble(in), got); diff != "" {
		t.Errorf("builder differs from Assemble (-want +got):\n%s", diff)
	}
}

func TestStaticBlocks_Defaults(t *testing.T) {
	b := StaticBlocks{Prompt: "custom"}.Defaults()
	if b.Prompt != "custom" || b.EmitSkeleton != DefaultEmitSkeleton || b.GameRules != DefaultGameRules {
		t.Errorf("defaults = %+v", b)
	}
	if b.FirstTurn != "" {
		t.Errorf("first turn has no default, got %q", b.FirstTurn)
	}
}
