package queue

import (
	"context"
	"fmt"

	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

// CommandPublisher hands campaign starts to whichever process consumes Topic.
// It satisfies the scheduler's Starter, so due campaigns are started by a subscriber.
type CommandPublisher struct {
	Queue Queue
	Topic string
}

// Start queues a start command. The ack only says the command was queued.
func (p *CommandPublisher) Start(ctx context.Context, campaignID int) (*service.Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Queue.Publish(p.Topic, NewCommand(CommandStart, campaignID)); err != nil {
		return nil, fmt.Errorf("queue start of campaign %d: %w", campaignID, err)
	}
	return &service.Ack{
		CampaignID: campaignID,
		Accepted:   true,
		Status:     model.CampaignScheduled,
		Message:    "start queued",
	}, nil
}
