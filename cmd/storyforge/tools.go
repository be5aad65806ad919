package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/storyforge/internal/config"
	"github.com/jwebster45206/storyforge/internal/logger"
	istorage "github.com/jwebster45206/storyforge/internal/storage"
	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/dice"
	"github.com/jwebster45206/storyforge/pkg/state"
	"github.com/jwebster45206/storyforge/pkg/tags"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate prompt card files",
		Long: `Checks each card file against the card schema, that its title is set, and
that its worldStateInit is a category -> entity -> attribute tree. Tag
problems in the initial world state are reported as warnings.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				warnings, err := validateCard(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", path)
				for _, w := range warnings {
					fmt.Fprintf(out, "     warning: %s\n", w)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d card files failed validation", failed, len(args))
			}
			return nil
		},
	}
}

// validateCard returns tag warnings for a valid card, or the reason it is
// invalid.
func validateCard(path string) ([]tags.Issue, error) {
	c, err := card.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.WorldStateInit == "" {
		return nil, nil
	}
	world, err := state.ParseInit(c.WorldStateInit)
	if err != nil {
		return nil, err
	}
	return tags.Validate(world), nil
}

func newRollCmd() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "roll FORMULA",
		Short: "Roll dice, e.g. 2d6+1 or 3d4! to list each die",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roller := dice.NewRoller()
			if cmd.Flags().Changed("seed") {
				roller = dice.NewSeededRoller(seed)
			}
			res, err := roller.Roll(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for repeatable rolls")
	return cmd
}

func newSlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage save slots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List save slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, closeSlots, err := openSlots()
			if err != nil {
				return err
			}
			defer closeSlots()

			list, err := slots.ListSlots(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved slots.")
				return nil
			}
			title := cases.Title(language.English)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCARD\tTURNS\tSAVED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, title.String(s.Title), s.Turns, s.SavedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a save slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, closeSlots, err := openSlots()
			if err != nil {
				return err
			}
			defer closeSlots()

			if err := slots.DeleteSlot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
			return nil
		},
	})
	return cmd
}

func openSlots() (*istorage.SQLiteSlots, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.SetupWriter(cfg, os.Stderr)
	slots, err := istorage.OpenSlots(cfg.SlotsDB, log)
	if err != nil {
		return nil, nil, err
	}
	return slots, func() { _ = slots.Close() }, nil
}
