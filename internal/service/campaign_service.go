// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

// CampaignCommander is the command surface shared by HTTP, the command queue and the scheduler.
type CampaignCommander interface {
	Start(ctx context.Context, campaignID int) (*Ack, error)
	Pause(ctx context.Context, campaignID int) (*Ack, error)
	Resume(ctx context.Context, campaignID int) (*Ack, error)
	Cancel(ctx context.Context, campaignID int) (*Ack, error)
}

var _ CampaignCommander = (*Dispatcher)(nil)
var _ CampaignCommander = (*CampaignService)(nil)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TaskRepo     repository.RecipientTaskRepositoryInterface
	Builder      *CampaignBuilder
	Dispatcher   *Dispatcher
	Now          func() time.Time
}

// CampaignDetails is the status polling view of a campaign.
type CampaignDetails struct {
	ID          int                  `json:"id"`
	TenantID    int                  `json:"tenant_id"`
	Name        string               `json:"name"`
	Status      model.CampaignStatus `json:"status"`
	Running     bool                 `json:"running"`
	Sent        int                  `json:"sent"`
	Failed      int                  `json:"failed"`
	Total       int                  `json:"total"`
	Progress    float64              `json:"progress"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Stats       map[string]int       `json:"stats"`
}

func (s *CampaignService) Start(ctx context.Context, campaignID int) (*Ack, error) {
	return s.Dispatcher.Start(ctx, campaignID)
}

func (s *CampaignService) Pause(ctx context.Context, campaignID int) (*Ack, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.Dispatcher.Pause(ctx, campaignID)
}

func (s *CampaignService) Resume(ctx context.Context, campaignID int) (*Ack, error) {
	return s.Dispatcher.Resume(ctx, campaignID)
}

func (s *CampaignService) Cancel(ctx context.Context, campaignID int) (*Ack, error) {
	return s.Dispatcher.Cancel(ctx, campaignID)
}

func (s *CampaignService) CreateFromOffer(ctx context.Context, offerID int, customMessage *string) (*model.Campaign, error) {
	return s.Builder.BuildFromOffer(ctx, offerID, customMessage)
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	return s.Builder.Create(ctx, in)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, filter repository.CampaignFilter) ([]model.Campaign, map[string]int, error) {
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, filter, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

// GetCampaignDetails returns status, counters and progress of a campaign.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{}
	if s.TaskRepo != nil {
		byStatus, err := s.TaskRepo.Stats(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("task stats for campaign %d: %w", campaignID, err)
		}
		for status, n := range byStatus {
			stats[string(status)] = n
		}
	}

	return &CampaignDetails{
		ID:          c.ID,
		TenantID:    c.TenantID,
		Name:        c.Name,
		Status:      c.Status,
		Running:     s.Dispatcher != nil && s.Dispatcher.IsActive(c.ID),
		Sent:        c.SentCount,
		Failed:      c.FailedCount,
		Total:       c.TotalRecipients,
		Progress:    c.Progress(),
		ScheduledAt: c.ScheduledAt,
		CreatedAt:   c.CreatedAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		Stats:       stats,
	}, nil
}

// ListRecipients pages through a campaign's per-recipient outcomes.
func (s *CampaignService) ListRecipients(ctx context.Context, campaignID int, status model.TaskStatus, page, pageSize int) ([]*model.RecipientTask, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)
	tasks, total, err := s.TaskRepo.ListByCampaign(ctx, campaignID, status, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return tasks, pagination(page, pageSize, total), nil
}

// Schedule moves a draft campaign to scheduled for a future time.
func (s *CampaignService) Schedule(ctx context.Context, campaignID int, at time.Time) (*model.Campaign, error) {
	if err := validateScheduledAt(at, s.now()); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	ok, err := s.CampaignRepo.Schedule(ctx, campaignID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Transition(campaignID, string(c.Status), "schedule")
	}
	return s.CampaignRepo.GetByID(ctx, campaignID)
}

// Unschedule returns a scheduled campaign to draft.
func (s *CampaignService) Unschedule(ctx context.Context, campaignID int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	ok, err := s.CampaignRepo.Unschedule(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Transition(campaignID, string(c.Status), "unschedule")
	}
	return s.CampaignRepo.GetByID(ctx, campaignID)
}

// Delete removes a campaign that is not sending.
func (s *CampaignService) Delete(ctx context.Context, campaignID int) error {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignSending || s.Dispatcher.IsActive(campaignID) {
		return appErrors.Transition(campaignID, string(model.CampaignSending), "delete")
	}
	ok, err := s.CampaignRepo.Delete(ctx, campaignID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.Transition(campaignID, string(model.CampaignSending), "delete")
	}
	return nil
}

// PreviewMessage renders the campaign template, or override when given, for one customer of the campaign's tenant.
func (s *CampaignService) PreviewMessage(ctx context.Context, campaignID, customerID int, override *string) (string, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	customer, err := s.Builder.Customers.GetByID(ctx, customerID)
	if err != nil {
		return "", err
	}
	if customer.TenantID != c.TenantID {
		return "", appErrors.NewNotFound("customer", customerID)
	}
	tenant, err := s.Builder.Tenants.GetByID(ctx, c.TenantID)
	if err != nil {
		return "", err
	}

	template := c.MessageTemplate
	if override != nil && *override != "" {
		template = *override
	}
	return RenderMessage(template, customer.Name, tenant.Name), nil
}

// ActiveCampaigns lists campaign ids with a loop in this process.
func (s *CampaignService) ActiveCampaigns() []int {
	return s.Dispatcher.ListActive()
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}
