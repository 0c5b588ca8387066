// Package bot implements the core application lifecycle: it ties the HTTP
// surface, the message log bridge, and the scheduler together and manages
// their startup and graceful shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/campushq/bursarbot/internal/bridge"
	"github.com/campushq/bursarbot/internal/server"
)

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	server    *server.Server
	bridge    *bridge.Bridge
	scheduler *Scheduler
}

// NewBot creates a new instance of the application with all required dependencies.
func NewBot(logger *slog.Logger, srv *server.Server, br *bridge.Bridge, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		server:    srv,
		bridge:    br,
		scheduler: scheduler,
	}
}

// Run starts all components, handling graceful shutdown on context
// cancellation. It returns an error if any component fails during startup or
// execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bursarbot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting HTTP server...")
		if err := b.server.Run(gCtx); err != nil {
			b.logger.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting message log bridge...")
		if err := b.bridge.Run(gCtx); err != nil {
			b.logger.Error("Bridge failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	b.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
