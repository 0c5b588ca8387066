package tasks

import (
	"context"
	"fmt"
	"time"
)

// newLogSweepTask creates the scheduled task that re-dispatches user entries
// whose added-entry notification was lost (full subscriber buffer, restart).
func newLogSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "log_sweep")

	return func(ctx context.Context) error {
		log.DebugContext(ctx, "Starting log sweep...")
		startTime := time.Now()

		err := deps.Bridge.Sweep(ctx)

		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Log sweep failed", "error", err, "duration", duration)
			return fmt.Errorf("log sweep failed: %w", err)
		}

		log.DebugContext(ctx, "Log sweep completed", "duration", duration)
		return nil
	}
}
