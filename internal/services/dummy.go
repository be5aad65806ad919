package services

import (
	"context"
	"strings"
	"time"

	"github.com/jwebster45206/storyforge/pkg/chat"
)

// DummyURL is reported as the endpoint of scripted replies.
const DummyURL = "dummy://narrator.local"

// scriptedReplies are keyed by the trimmed, lowercased player action.
var scriptedReplies = map[string]string{
	"1": `You sift through the rubble of the old ruins. Dust clings to your fingers, but you find a stash of scrap. Three goblins scatter from the shadows.
@delta
{"!enemies.goblin_1": {"hp": 6, "status": "hostile", "tag": "#goblin_1"}, "!enemies.goblin_2": {"hp": 4, "status": "fleeing", "tag": "#goblin_2"}, "!enemies.goblin_3": {"hp": 8, "status": "angry", "tag": "#goblin_3"}}
@digest
[{"text": "#goblin_1 and two others ambushed the player in the ruins", "importance": 4}]
@scene
{"location": "@ruins", "present": ["#goblin_1", "#goblin_2", "#goblin_3"]}`,

	"2": `You press deeper into the forest. Twisting roots slow your path, but signs of an old camp emerge.
@delta
{"=world.location": "@deep_forest", "!world.flags.enteredForest": true, "+inventory.supplies.torches": 1}
@digest
[{"text": "The player entered @deep_forest and found an old camp", "importance": 3}]
@scene
{"location": "@deep_forest", "present": []}`,

	"3": `You make a simple camp and rest. The fire crackles as you settle in for the night.
@delta
{"=player.narration": "Rested by the fire.", "+player.hp": 10, "!world.flags.restedHere": true}
@digest
[{"text": "The player rested and recovered", "importance": 2}]`,

	"4": `You wander without clear direction. The terrain shifts around you, unfamiliar and vast.
@delta
{"=world.location": "@unknown", "!world.flags.exploring": true}`,
}

const idleReply = `You hesitate, unsure what to do next.
@delta
{"!world.flags.idle": true}`

// DummyNarrator implements ChatClient with canned replies for offline play.
// Actions "1" to "4" pick a scripted scene; anything else idles.
type DummyNarrator struct {
	delay time.Duration
}

// NewDummyNarrator creates a scripted narrator that waits delay before
// answering.
func NewDummyNarrator(delay time.Duration) *DummyNarrator {
	return &DummyNarrator{delay: delay}
}

// Send answers the last user message with a scripted reply.
func (d *DummyNarrator) Send(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var action string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.ChatRoleUser {
			action = strings.ToLower(strings.TrimSpace(messages[i].Content))
			break
		}
	}

	reply, ok := scriptedReplies[action]
	if !ok {
		reply = idleReply
	}
	return &chat.Completion{
		Content:      reply,
		FinishReason: "stop",
		Model:        model,
		URL:          DummyURL,
		RequestBody:  "(dummy)",
		ResponseBody: "(dummy)",
	}, nil
}
