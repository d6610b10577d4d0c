package tasks

import "context"

// newLinkCachePurgeTask evicts expired generated links.
func newLinkCachePurgeTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", LinkCachePurge)

	return func(ctx context.Context) error {
		if dropped := deps.Links.Purge(); dropped > 0 {
			log.DebugContext(ctx, "Purged expired links", "count", dropped)
		}
		return nil
	}
}
