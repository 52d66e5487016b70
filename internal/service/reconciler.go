package service

import (
	"context"
	"fmt"

	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/registry"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

const interruptedTaskError = "interrupted by service restart"

// Reconciler repairs campaigns left in sending by a process that died.
type Reconciler struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.RecipientTaskRepositoryInterface
	Registry  *registry.Registry
	Lease     registry.Lease
	Log       logger.Logger
}

// Sweep moves every orphaned sending campaign to paused and fails its interrupted tasks.
// A campaign is orphaned when no loop runs for it here and no other process holds its lease.
// Operators resume reconciled campaigns explicitly.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	ids, err := r.Campaigns.ListIDsByStatus(ctx, model.CampaignSending)
	if err != nil {
		return 0, fmt.Errorf("list sending campaigns: %w", err)
	}

	reconciled := 0
	for _, id := range ids {
		if r.Registry.IsActive(id) {
			continue
		}
		held, err := r.Lease.Held(ctx, id)
		if err != nil {
			r.Log.Warn("lease check failed, leaving campaign untouched", map[string]interface{}{"campaign_id": id, "error": err})
			continue
		}
		if held {
			continue
		}

		failed, err := r.Tasks.FailInterrupted(ctx, id, interruptedTaskError)
		if err != nil {
			return reconciled, err
		}
		moved, err := r.Campaigns.TransitionStatus(ctx, id, model.CampaignPaused, model.CampaignSending)
		if err != nil {
			return reconciled, err
		}
		if moved {
			reconciled++
			reconciledCampaignsCounter.Inc()
			r.Log.Warn("orphaned campaign paused", map[string]interface{}{
				"campaign_id":       id,
				"interrupted_tasks": failed,
			})
		}
	}
	return reconciled, nil
}
