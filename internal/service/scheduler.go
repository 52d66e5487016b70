package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

// Scheduler starts scheduled campaigns once their time has come.
type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Starter   interface {
		Start(ctx context.Context, campaignID int) (*Ack, error)
	}
	Interval  time.Duration
	BatchSize int
	Log       logger.Logger
	Now       func() time.Time
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Log.Info("scheduler started", map[string]interface{}{"interval": s.Interval.String()})
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.PollOnce(ctx); err != nil {
			s.Log.Error("scheduler poll failed", map[string]interface{}{"error": err})
		}
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce starts every due campaign and returns how many were started.
// A failure on one campaign is logged and does not stop the others.
func (s *Scheduler) PollOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	ids, err := s.Campaigns.ListDueScheduled(ctx, now(), s.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}

	started := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ack, err := s.Starter.Start(ctx, id)
		switch {
		case err != nil:
			schedulerStartedCounter.WithLabelValues("error").Inc()
			var setupErr *appErrors.SetupError
			if errors.As(err, &setupErr) {
				s.Log.Warn("scheduled campaign could not start", map[string]interface{}{"campaign_id": id, "error": err})
				continue
			}
			s.Log.Error("starting scheduled campaign failed", map[string]interface{}{"campaign_id": id, "error": err})
		case ack.AlreadyRunning:
			schedulerStartedCounter.WithLabelValues("already_running").Inc()
		default:
			schedulerStartedCounter.WithLabelValues("started").Inc()
			s.Log.Info("scheduled campaign started", map[string]interface{}{"campaign_id": id})
			started++
		}
	}
	return started, nil
}
