package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/storyforge/internal/handlers"
	"github.com/jwebster45206/storyforge/internal/logger"
)

func newServeCmd() *cobra.Command {
	var (
		sessionID string
		cardRef   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for one session",
		Long: `Serves the session API on $PORT. With --session the session id is fixed and
its last snapshot is resumed from storage. With --card a prompt card (a file
path or a library id) is activated when nothing was resumed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, os.Stdout)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, sessionID)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.WithError(log, err).Error("Error closing backends")
				}
			}()

			log.Info("Starting StoryForge API",
				"port", cfg.Port,
				"environment", cfg.Environment,
				"session_id", a.session.ID(),
				"model_name", cfg.ModelName,
				"log_mirror", cfg.LogMirror)

			resumed, err := a.session.Resume(ctx)
			if err != nil {
				logger.WithError(log, err).Warn("Failed to resume session snapshot")
			}
			if !resumed && cardRef != "" {
				c, err := a.loadCard(ctx, cardRef)
				if err != nil {
					return err
				}
				if err := a.session.ActivateCard(c); err != nil {
					return fmt.Errorf("failed to activate card: %w", err)
				}
			}

			server := &http.Server{
				Addr:        ":" + cfg.Port,
				Handler:     handlers.Routes(a.session, a.store, a.cards, log),
				ReadTimeout: 15 * time.Second,
				// no WriteTimeout: ?wait=true and websocket streams hold responses open
				IdleTimeout: 60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("Server starting", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				a.relayEvents(gctx)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Server is shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := a.session.Persist(shutdownCtx); err != nil {
					log.Warn("Failed to persist session on shutdown", "error", err)
				}
				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to serve and resume (default: a new id)")
	cmd.Flags().StringVar(&cardRef, "card", "", "prompt card file or library id to activate")
	cmd.Flags().Bool("dummy", false, "use the scripted dummy narrator instead of the model")
	return cmd
}
