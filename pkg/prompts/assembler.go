package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/state"
)

// StaticBlocks are the fixed system texts of a prompt card.
type StaticBlocks struct {
	FirstTurn    string `json:"firstTurn"`
	Prompt       string `json:"prompt"`
	EmitSkeleton string `json:"emitSkeleton"`
	GameRules    string `json:"gameRules"`
}

// Input is everything the stack for one turn is built from.
type Input struct {
	TurnNumber  int
	UserMessage string
	Policy      Policy
	Blocks      StaticBlocks
	History     []chat.ConversationTurn
	DigestLines []digest.Line
	SceneTags   []string
	World       state.World

	// Expressions maps a character key to its emotion lines, oldest first.
	Expressions map[string][]string
}

// Result is an assembled stack with its size estimate and the token
// fallbacks that were needed to reach it.
type Result struct {
	Messages        []chat.ChatMessage
	EstimatedTokens int
	Fallbacks       []string
}

// OverBudget reports whether any fallback step was applied.
func (r Result) OverBudget() bool {
	return len(r.Fallbacks) > 0
}

// EstimateTokens approximates the token count of a stack as a quarter of
// its characters.
func EstimateTokens(messages []chat.ChatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n / 4
}

// Assemble builds the ordered message stack for one turn. It has no hidden
// state: identical inputs produce identical stacks.
func Assemble(in Input) []chat.ChatMessage {
	return AssembleReport(in).Messages
}

// AssembleReport is Assemble plus token accounting. When the estimate
// exceeds the policy's maxTokens, fallback steps are applied in order until
// the stack fits or the plan is exhausted.
func AssembleReport(in Input) Result {
	var knobs knobs
	msgs := build(in, knobs)
	res := Result{Messages: msgs, EstimatedTokens: EstimateTokens(msgs)}

	limit := in.Policy.Tokens.MaxTokens
	if limit <= 0 || res.EstimatedTokens <= limit {
		return res
	}
	for _, step := range in.Policy.Tokens.FallbackPlan {
		if !knobs.apply(step) {
			continue
		}
		res.Fallbacks = append(res.Fallbacks, step)
		res.Messages = build(in, knobs)
		res.EstimatedTokens = EstimateTokens(res.Messages)
		if res.EstimatedTokens <= limit {
			break
		}
	}
	return res
}

// knobs are the reductions the token fallback plan can switch on.
type knobs struct {
	dropKnownEntities bool
	minDigestScore    int
	expressionLines   int
}

func (k *knobs) apply(step string) bool {
	switch step {
	case FallbackDropKnownEntities:
		k.dropKnownEntities = true
	case FallbackDropLowImportance:
		k.minDigestScore = 4
	case FallbackTruncateExpressionLog:
		k.expressionLines = 1
	default:
		return false
	}
	return true
}

func build(in Input, k knobs) []chat.ChatMessage {
	var msgs []chat.ChatMessage
	system := func(content string) {
		if content = strings.TrimSpace(content); content != "" {
			msgs = append(msgs, chat.ChatMessage{Role: chat.ChatRoleSystem, Content: content})
		}
	}

	if in.TurnNumber == 0 {
		system(in.Blocks.FirstTurn)
	}
	system(in.Blocks.Prompt)
	system(in.Blocks.EmitSkeleton)
	system(in.Blocks.GameRules)

	for _, turn := range proseHistory(in.History, in.Policy.NarratorProse, in.SceneTags) {
		msgs = append(msgs,
			chat.ChatMessage{Role: chat.ChatRoleUser, Content: turn.User},
			chat.ChatMessage{Role: chat.ChatRoleAgent, Content: turn.Narrator},
		)
	}

	system(digestBlock(in.DigestLines, in.Policy, in.TurnNumber, k.minDigestScore))

	perCharacter := in.Policy.ExpressionLinesPerCharacter
	if k.expressionLines > 0 && (perCharacter <= 0 || k.expressionLines < perCharacter) {
		perCharacter = k.expressionLines
	}
	system(expressionBlock(in.Expressions, in.Policy.ExpressionLog, perCharacter))

	system(worldStateBlock(in.World, in.Policy.WorldState, in.SceneTags))

	if !k.dropKnownEntities {
		system(knownEntitiesBlock(in.World, in.Policy.KnownEntities, in.SceneTags))
	}

	if f := strings.TrimSpace(in.Policy.OutputFormat); f != "" {
		system("Output format: " + f)
	}

	msgs = append(msgs, chat.ChatMessage{Role: chat.ChatRoleUser, Content: strings.TrimSpace(in.UserMessage)})
	return msgs
}

// clip applies a first/after/always/never mode to n items.
func clip[T any](items []T, mode Mode, n int) []T {
	if n < 0 {
		n = 0
	}
	switch mode {
	case ModeAlways:
		return items
	case ModeFirstN:
		if n < len(items) {
			return items[:n]
		}
		return items
	case ModeAfterN:
		if n < len(items) {
			return items[n:]
		}
		return nil
	default:
		return nil
	}
}

func proseHistory(history []chat.ConversationTurn, p Inclusion, sceneTags []string) []chat.ConversationTurn {
	kept := history
	if p.Filtering == FilterSceneOnly {
		kept = nil
		for _, turn := range history {
			if containsAny(turn.Narrator, sceneTags) {
				kept = append(kept, turn)
			}
		}
	}
	if p.Mode == ModeFiltered {
		return kept
	}
	return clip(kept, p.Mode, p.N)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// emits reports whether a line of the given score is emitted on turn.
// A score without a rule is never emitted.
func emits(table map[int]EmissionRule, score, turn int) bool {
	rule, ok := table[score]
	if !ok {
		return false
	}
	switch rule.Mode {
	case ModeAlways:
		return true
	case ModeFirstN:
		return turn < rule.N
	case ModeAfterN:
		return turn >= rule.N
	default:
		return false
	}
}

func digestBlock(lines []digest.Line, p Policy, turn, minScore int) string {
	var sb strings.Builder
	for _, l := range lines {
		if !emits(p.DigestEmission, l.Score, turn) {
			continue
		}
		if p.Digest.Filtering == FilterTagged && !l.HasSymbolicTag() {
			continue
		}
		if l.Score < minScore {
			continue
		}
		fmt.Fprintf(&sb, "- [%d] %s\n", l.Score, l.Text)
	}
	if sb.Len() == 0 {
		return ""
	}
	return "Memory Summary:\n" + sb.String()
}

func expressionBlock(expressions map[string][]string, p Inclusion, perCharacter int) string {
	if p.Mode == ModeNever || len(expressions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(expressions))
	for k := range expressions {
		if p.Filtering == FilterSceneOnly && !strings.HasPrefix(k, "#") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		lines := expressions[k]
		if perCharacter >= 0 && len(lines) > perCharacter {
			lines = lines[:perCharacter]
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "- %s:\n", k)
		for _, line := range lines {
			fmt.Fprintf(&sb, "    • %s\n", line)
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "Character Emotions:\n" + sb.String()
}

// inScene reports whether an entity is named by the scene, either by its
// category.entity path or by its tag.
func inScene(ref state.EntityRef, scene map[string]bool) bool {
	if scene[ref.Path()] {
		return true
	}
	tag, ok := ref.Tag()
	return ok && tag != "" && scene[tag]
}

func worldStateBlock(world state.World, p Inclusion, sceneTags []string) string {
	view := world
	if p.Filtering == FilterSceneOnly {
		scene := toSet(sceneTags)
		view = state.World{}
		for _, ref := range world.Entities() {
			if inScene(ref, scene) {
				view[ref.Category] = world[ref.Category]
			}
		}
	}
	if len(view) == 0 {
		return ""
	}
	data, err := json.Marshal(view)
	if err != nil {
		return ""
	}
	return "World State:\n" + string(data)
}

func knownEntitiesBlock(world state.World, p Inclusion, sceneTags []string) string {
	scene := toSet(sceneTags)
	var lines []string
	for _, ref := range world.Entities() {
		tag, ok := ref.Tag()
		if !ok {
			continue
		}
		if p.Filtering == FilterSceneOnly && !inScene(ref, scene) {
			continue
		}
		lines = append(lines, tag+" → "+ref.Path())
	}
	lines = clip(lines, p.Mode, p.N)
	if len(lines) == 0 {
		return ""
	}
	return "Known Entities:\n- " + strings.Join(lines, "\n- ")
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
