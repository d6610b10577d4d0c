package tasks

import (
	"context"
	"fmt"
)

// newReferralReconcileTask repairs referral counts that drifted from referred_by.
func newReferralReconcileTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", ReferralReconcile)

	return func(ctx context.Context) error {
		fixed, err := deps.Store.ReconcileReferralCounts(ctx)
		if err != nil {
			return fmt.Errorf("referral reconcile failed: %w", err)
		}
		log.InfoContext(ctx, "Referral counts reconciled", "rows_fixed", fixed)
		return nil
	}
}
