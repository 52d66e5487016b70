// internal/service/builder.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

// CampaignBuilder creates campaigns together with their recipient tasks.
type CampaignBuilder struct {
	Offers    repository.OfferRepositoryInterface
	Tenants   repository.TenantRepositoryInterface
	Customers repository.CustomerRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	// Defaults is the pacing given to campaigns built from offers.
	Defaults model.Pacing
	Log      logger.Logger
	Now      func() time.Time
}

// CreateCampaignInput is a campaign authored by hand rather than derived from an offer.
type CreateCampaignInput struct {
	TenantID        int           `json:"tenant_id"`
	Name            string        `json:"name"`
	MessageTemplate string        `json:"message_template"`
	MediaPath       string        `json:"media_path"`
	Pacing          *model.Pacing `json:"pacing"`
	ScheduledAt     *time.Time    `json:"scheduled_at"`
}

// BuildFromOffer creates a draft campaign addressed to every active, opted-in customer of the offer's tenant.
// A non-blank customMessage replaces the synthesized text entirely.
func (b *CampaignBuilder) BuildFromOffer(ctx context.Context, offerID int, customMessage *string) (*model.Campaign, error) {
	offer, err := b.Offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	tenant, err := b.Tenants.GetByID(ctx, offer.TenantID)
	if err != nil {
		return nil, err
	}

	message := DefaultOfferMessage(offer, tenant)
	if customMessage != nil && strings.TrimSpace(*customMessage) != "" {
		message = *customMessage
	}

	id := offer.ID
	c := &model.Campaign{
		TenantID:        tenant.ID,
		OfferID:         &id,
		Name:            "Promoção: " + offer.Title,
		MessageTemplate: message,
		MediaPath:       offer.ImagePath,
		Pacing:          b.Defaults,
		Status:          model.CampaignDraft,
	}
	if err := b.persist(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

var createCampaignSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["tenant_id", "name", "message_template"],
  "properties": {
    "tenant_id":        {"type": "integer", "minimum": 1},
    "name":             {"type": "string", "pattern": "\\S"},
    "message_template": {"type": "string", "pattern": "\\S"},
    "media_path":       {"type": "string"},
    "pacing": {
      "type": ["object", "null"],
      "properties": {
        "delay_min_seconds":   {"type": "integer", "minimum": 1},
        "delay_max_seconds":   {"type": "integer", "minimum": 1},
        "batch_size":          {"type": "integer", "minimum": 1},
        "batch_pause_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "scheduled_at": {"type": ["string", "null"], "format": "date-time"}
  }
}`)

// validateCreateInput checks the shape of in; cross-field pacing rules live in ValidatePacing.
func validateCreateInput(in CreateCampaignInput) error {
	result, err := gojsonschema.Validate(createCampaignSchema, gojsonschema.NewGoLoader(in))
	if err != nil {
		return fmt.Errorf("validate campaign input: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return appErrors.Validation("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateScheduledAt rejects schedule times that are not strictly in the future.
func validateScheduledAt(at, now time.Time) error {
	if !at.After(now) {
		return appErrors.Validation("scheduled_at must be in the future")
	}
	return nil
}

// Create validates a hand-authored campaign and addresses it to the tenant's opted-in customers.
func (b *CampaignBuilder) Create(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}
	if in.ScheduledAt != nil {
		if err := validateScheduledAt(*in.ScheduledAt, b.now()); err != nil {
			return nil, err
		}
	}

	p := b.Defaults
	if in.Pacing != nil {
		p = *in.Pacing
	}
	if err := ValidatePacing(p); err != nil {
		return nil, err
	}

	if _, err := b.Tenants.GetByID(ctx, in.TenantID); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		TenantID:        in.TenantID,
		Name:            strings.TrimSpace(in.Name),
		MessageTemplate: in.MessageTemplate,
		MediaPath:       in.MediaPath,
		Pacing:          p,
		Status:          model.CampaignDraft,
	}
	if in.ScheduledAt != nil {
		c.Status = model.CampaignScheduled
		c.ScheduledAt = in.ScheduledAt
	}
	if err := b.persist(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *CampaignBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *CampaignBuilder) persist(ctx context.Context, c *model.Campaign) error {
	customers, err := b.Customers.ListOptedIn(ctx, c.TenantID)
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(customers))
	for _, cu := range customers {
		// The query filters already; this keeps the opt-in invariant local.
		if cu.AcceptsPromotions && cu.Active {
			ids = append(ids, cu.ID)
		}
	}

	if err := b.Campaigns.CreateWithRecipients(ctx, c, ids); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if b.Log != nil {
		b.Log.Info("campaign created", map[string]interface{}{
			"campaign_id": c.ID,
			"tenant_id":   c.TenantID,
			"recipients":  c.TotalRecipients,
		})
	}
	return nil
}

// ValidatePacing enforces 1 <= min <= max, batch size >= 1 and a non-negative batch pause.
func ValidatePacing(p model.Pacing) error {
	switch {
	case p.DelayMinSeconds < 1:
		return appErrors.Validation("delay_min_seconds must be at least 1")
	case p.DelayMaxSeconds < p.DelayMinSeconds:
		return appErrors.Validation("delay_max_seconds must not be lower than delay_min_seconds")
	case p.BatchSize < 1:
		return appErrors.Validation("batch_size must be at least 1")
	case p.BatchPauseSeconds < 0:
		return appErrors.Validation("batch_pause_seconds cannot be negative")
	}
	return nil
}

// DefaultOfferMessage renders the standard promotional text for an offer.
// It keeps the {{nome}} placeholder for per-recipient rendering.
func DefaultOfferMessage(o *model.Offer, t *model.Tenant) string {
	var sb strings.Builder
	sb.WriteString("🎉 *PROMOÇÃO ESPECIAL* 🎉\n\n")
	sb.WriteString("Olá, {{nome}}! \n\n")
	fmt.Fprintf(&sb, "*%s*\n\n", o.Title)
	fmt.Fprintf(&sb, "%s\n\n", o.Description)

	switch {
	case o.OriginalPrice != nil && o.Price != nil:
		fmt.Fprintf(&sb, "💰 De R$ %.2f por apenas *R$ %.2f*", *o.OriginalPrice, *o.Price)
		if d := o.DiscountPercentage(); d != nil && *d != 0 {
			fmt.Fprintf(&sb, " (%d%% OFF!)", *d)
		}
		sb.WriteString("\n\n")
	case o.Price != nil:
		fmt.Fprintf(&sb, "💰 Apenas *R$ %.2f*\n\n", *o.Price)
	}

	if o.EndsOn != nil {
		fmt.Fprintf(&sb, "⏰ Válido até %s\n\n", o.EndsOn.Format("02/01/2006"))
	}

	fmt.Fprintf(&sb, "📍 %s\n", t.Name)
	sb.WriteString("Venha conferir! 🥐🍞")
	return sb.String()
}
