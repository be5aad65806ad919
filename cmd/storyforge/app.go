package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/storyforge/internal/config"
	"github.com/jwebster45206/storyforge/internal/services"
	"github.com/jwebster45206/storyforge/internal/services/events"
	istorage "github.com/jwebster45206/storyforge/internal/storage"
	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/session"
	"github.com/jwebster45206/storyforge/pkg/storage"
)

// app holds a session and the backends it was built on.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	session *session.Session
	store   storage.Storage
	slots   *istorage.SQLiteSlots
	fileLog *istorage.FileLog
	redis   *istorage.RedisStorage
	cards   *card.Library
}

// newApp wires a session to the backends selected by cfg. Snapshots go to
// Redis when it is the log mirror and stay in memory otherwise.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, sessionID string) (*app, error) {
	a := &app{
		cfg:   cfg,
		log:   log,
		cards: card.NewLibrary(cfg.CardsDir, log),
	}

	var sink storage.LogSink = storage.NopSink{}
	switch cfg.LogMirror {
	case config.MirrorRedis:
		rs, err := istorage.NewRedisStorage(cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := rs.WaitForConnection(waitCtx, 10, 2*time.Second); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = rs
		a.store = rs
		sink = rs
	case config.MirrorFile:
		fl, err := istorage.NewFileLog(filepath.Join(cfg.DataDir, "logs"), log)
		if err != nil {
			return nil, err
		}
		a.fileLog = fl
		sink = fl
	}
	if a.store == nil {
		a.store = storage.NewMockStorage()
	}

	slots, err := istorage.OpenSlots(cfg.SlotsDB, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.slots = slots

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	a.session = session.New(
		session.WithID(sessionID),
		session.WithClient(newClient(cfg, log)),
		session.WithModel(cfg.ModelName),
		session.WithStorage(a.store),
		session.WithLogSink(sink),
		session.WithSlots(slots),
		session.WithLogger(log),
	)
	return a, nil
}

func newClient(cfg *config.Config, log *slog.Logger) session.Client {
	if cfg.DummyNarrator {
		log.Info("Using the scripted dummy narrator", "url", services.DummyURL)
		return services.NewDummyNarrator(500 * time.Millisecond)
	}
	return services.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.RequestTimeout, log).
		WithUserAgent(cfg.UserAgent)
}

// relayEvents forwards session events to Redis Pub/Sub until ctx ends. It
// is a no-op without Redis.
func (a *app) relayEvents(ctx context.Context) {
	if a.redis == nil {
		return
	}
	ch, unsubscribe := a.session.Subscribe()
	defer unsubscribe()
	events.NewBroadcaster(a.redis.Client(), a.log).Relay(ctx, ch)
}

// loadCard reads a card from a file path or, failing that, by id from the
// library.
func (a *app) loadCard(ctx context.Context, ref string) (*card.Card, error) {
	if _, ok := card.FormatFor(ref); ok {
		return card.LoadFile(ref)
	}
	return a.cards.Get(ctx, ref)
}

// Close stops the session and closes every backend.
func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.slots != nil {
		errs = append(errs, a.slots.Close())
	}
	if a.fileLog != nil {
		errs = append(errs, a.fileLog.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
