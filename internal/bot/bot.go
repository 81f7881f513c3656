// Package bot implements lifecycle management and component orchestration
// for the birthday bot: the startup catch-up tick, the daily schedule, and
// the roster file watcher.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"birthdaybot/internal/engine"
	"birthdaybot/internal/roster"
)

// Bot represents the main application and manages its components'
// lifecycle.
type Bot struct {
	logger    *slog.Logger
	engine    *engine.Engine
	scheduler *Scheduler
	roster    *roster.Loader
}

// NewBot creates a new bot instance with all required dependencies.
func NewBot(
	logger *slog.Logger,
	eng *engine.Engine,
	scheduler *Scheduler,
	rosterLoader *roster.Loader,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		engine:    eng,
		scheduler: scheduler,
		roster:    rosterLoader,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. A startup tick runs immediately so greetings missed
// during downtime go out without waiting for the next scheduled time.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Running startup catch-up tick...")
		if _, err := b.engine.RunTick(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Startup tick failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return err
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	g.Go(func() error {
		err := b.roster.Watch(gCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Roster watcher stopped", "error", err)
			return err
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
