// Command storyforge runs the text-adventure engine as an HTTP API or a
// line-oriented console game, and carries the card and dice tooling.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/storyforge/internal/config"
	"github.com/jwebster45206/storyforge/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storyforge",
		Short:         "Narrated text adventures driven by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newPlayCmd(),
		newValidateCmd(),
		newRollCmd(),
		newSlotsCmd(),
	)
	return root
}

// loadConfig loads the configuration and installs the default logger,
// writing logs to w.
func loadConfig(cmd *cobra.Command, w *os.File) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("dummy") {
		cfg.DummyNarrator, _ = cmd.Flags().GetBool("dummy")
	}
	return cfg, logger.SetupWriter(cfg, w), nil
}
