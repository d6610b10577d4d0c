package tasks

import (
	"context"
)

// Task names, matching the keys of scheduler.tasks in the configuration.
const (
	SQLMaintenance    = "sql_maintenance"
	ReferralReconcile = "referral_reconcile"
	LinkCachePurge    = "link_cache_purge"
)

// ScheduledTaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns every scheduled task keyed by its configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks[SQLMaintenance] = newSQLMaintenanceTask(deps)
	tasks[ReferralReconcile] = newReferralReconcileTask(deps)
	if deps.Links != nil {
		tasks[LinkCachePurge] = newLinkCachePurgeTask(deps)
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
