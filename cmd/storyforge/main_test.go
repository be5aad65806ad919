package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/storyforge/internal/services"
	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRollCmd(t *testing.T) {
	out, err := run(t, "roll", "--seed", "7", "2d6+1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Rolled 2d6+1: "), out)

	again, err := run(t, "roll", "--seed", "7", "2d6+1")
	require.NoError(t, err)
	assert.Equal(t, out, again)

	_, err = run(t, "roll", "d6")
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "harbor.json", `{
  "title": "The Harbor",
  "prompt": "Narrate.",
  "worldStateInit": "{\"npcs\":{\"mara\":{\"tag\":\"#mara\"},\"finn\":{}}}"
}`)
	noTitle := writeFile(t, dir, "blank.yaml", "title: \"\"\nprompt: Narrate.\n")
	shallow := writeFile(t, dir, "shallow.json", `{"title": "Flat", "worldStateInit": "{\"npcs\": 1}"}`)

	out, err := run(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+good)
	assert.Contains(t, out, "warning: npcs.finn: missing tag")

	out, err = run(t, "validate", good, noTitle, shallow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3")
	assert.Contains(t, out, "FAIL "+noTitle)
	assert.Contains(t, out, "FAIL "+shallow)
}

func TestPlayer_Run(t *testing.T) {
	client := services.NewMockChatClient()
	client.SetReply("The fog lifts over the docks.\n@delta\n{\"+player.gold\": 5}")
	sess := session.New(
		session.WithClient(client),
		session.WithSlots(storage.NewMockSlotStore()),
	)
	defer sess.Close()
	require.NoError(t, sess.ActivateCard(&card.Card{ID: "harbor", Title: "the harbor", Prompt: "Narrate."}))

	var out bytes.Buffer
	p := &player{session: sess, out: &out, width: 20, title: cases.Title(language.English)}
	in := strings.NewReader("look around\n/save dock\n/roll 0d6\n/quit\nnever read\n")
	require.NoError(t, p.run(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "== The Harbor ==")
	assert.Contains(t, text, "The fog lifts over\nthe docks.")
	assert.Contains(t, text, `Saved "dock" (1 turns).`)
	assert.Contains(t, text, "! invalid dice formula")
	assert.Equal(t, 55, sess.GameState().Gold)
	assert.Len(t, sess.Turns(), 1)
}
