// Package main contains the entrypoint for the bursarbot tuition assistant worker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campushq/bursarbot/internal/assistant"
	"github.com/campushq/bursarbot/internal/bot"
	"github.com/campushq/bursarbot/internal/bot/tasks"
	"github.com/campushq/bursarbot/internal/bridge"
	"github.com/campushq/bursarbot/internal/config"
	"github.com/campushq/bursarbot/internal/database"
	"github.com/campushq/bursarbot/internal/gemini"
	"github.com/campushq/bursarbot/internal/logger"
	"github.com/campushq/bursarbot/internal/server"
	"github.com/campushq/bursarbot/internal/tuition"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// model client, tool executor, bridge, HTTP server, scheduler), handles
// graceful shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		// Missing credentials terminate the process before any listener or
		// subscription is established.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	executor := tuition.NewExecutor(cfg.Tuition, log)
	orchestrator := assistant.New(gemClient, executor, cfg.Gemini, log)
	br := bridge.New(store, orchestrator, cfg.Bridge, cfg.Messages.GeneralError, log)
	srv := server.New(store, cfg.Server.Port, log)

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Bridge: br,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, srv, br, sched)

	log.Info("Starting bursarbot...")
	runErr := app.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
