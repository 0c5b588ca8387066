package tasks

import (
	"log/slog"

	"github.com/campushq/bursarbot/internal/bridge"
	"github.com/campushq/bursarbot/internal/database"
)

// TaskDeps provides dependencies for scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Bridge *bridge.Bridge
}
