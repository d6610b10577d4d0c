package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask vacuums the relay database.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", SQLMaintenance)

	return func(ctx context.Context) error {
		start := time.Now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Vacuum failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("sql maintenance: %w", err)
		}
		log.InfoContext(ctx, "Vacuum finished", "duration", time.Since(start))
		return nil
	}
}
