package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/storyforge/pkg/session"
)

const playHelp = `Commands:
  /roll NdM[+K|-K][!]  roll dice and send the result as your action
  /state               print the world state
  /scene               print the current scene tags
  /save [name]         save to a slot
  /load name           restore a slot
  /reset               restart the story
  /quit                leave`

func newPlayCmd() *cobra.Command {
	var (
		cardRef   string
		sessionID string
		width     int
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a prompt card in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// logs go to stderr so they do not interleave with the story
			cfg, log, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log, sessionID)
			if err != nil {
				return err
			}
			defer a.Close()

			resumed := false
			if sessionID != "" {
				if resumed, err = a.session.Resume(ctx); err != nil {
					log.Warn("Failed to resume session snapshot", "error", err)
				}
			}
			if !resumed {
				if cardRef == "" {
					return fmt.Errorf("--card is required unless --session resumes a saved game")
				}
				c, err := a.loadCard(ctx, cardRef)
				if err != nil {
					return err
				}
				if err := a.session.ActivateCard(c); err != nil {
					return fmt.Errorf("failed to activate card: %w", err)
				}
			}

			p := &player{
				session: a.session,
				out:     cmd.OutOrStdout(),
				width:   width,
				title:   cases.Title(language.English),
			}
			return p.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&cardRef, "card", "", "prompt card file or library id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume")
	cmd.Flags().IntVar(&width, "width", 80, "wrap width for narration")
	cmd.Flags().Bool("dummy", false, "use the scripted dummy narrator instead of the model")
	return cmd
}

type player struct {
	session *session.Session
	out     io.Writer
	width   int
	title   cases.Caser
}

func (p *player) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *player) narrate(text string) {
	p.printf("\n%s\n\n", wordwrap.String(text, p.width))
}

func (p *player) run(ctx context.Context, in io.Reader) error {
	if c := p.session.Card(); c != nil {
		p.printf("== %s ==\n", p.title.String(c.Title))
	}
	for _, t := range p.session.Turns() {
		p.printf("> %s\n", t.User)
		p.narrate(t.Narrator)
	}
	p.printf("Type an action, or /help.\n")

	scanner := bufio.NewScanner(in)
	for {
		p.printf("> ")
		if !scanner.Scan() {
			p.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := p.handle(ctx, line)
		if err != nil {
			p.printf("! %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line. It reports true when the player quits.
func (p *player) handle(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		p.printf("%s\n", playHelp)
		return false, nil
	case "/state":
		data, err := json.MarshalIndent(p.session.GameState(), "", "  ")
		if err != nil {
			return false, err
		}
		p.printf("%s\n", data)
		return false, nil
	case "/scene":
		p.printf("%s\n", strings.Join(p.session.SceneTags(), " "))
		return false, nil
	case "/save":
		slot, err := p.session.SaveSnapshot(ctx, arg)
		if err != nil {
			return false, err
		}
		p.printf("Saved %q (%d turns).\n", slot.Name, slot.Turns)
		return false, nil
	case "/load":
		if err := p.session.RestoreSnapshot(ctx, arg); err != nil {
			return false, err
		}
		p.printf("Loaded %q.\n", arg)
		return false, nil
	case "/reset":
		return false, p.session.Reset()
	}

	turn, err := p.session.SubmitAction(ctx, line)
	if err != nil {
		return false, err
	}
	if _, err := turn.Wait(ctx); err != nil {
		return false, err
	}
	narrator, err := turn.Result()
	if err != nil {
		return false, err
	}
	if narrator != "" {
		p.narrate(narrator)
	}
	return false, nil
}
