// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/handler"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

// CampaignController serves the write side: campaign creation, scheduling and dispatch commands.
type CampaignController struct {
	CampaignService *service.CampaignService
	Log             logger.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteError(w, r, c.Log, handler.BadRequest("invalid body: %v", err))
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

// CreateFromOffer builds a campaign for every opted-in customer of the offer's bakery.
func (c *CampaignController) CreateFromOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := handler.PathID(r, "id")
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}

	var body struct {
		CustomMessage *string `json:"custom_message"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			handler.WriteError(w, r, c.Log, handler.BadRequest("invalid body: %v", err))
			return
		}
	}

	campaign, err := c.CampaignService.CreateFromOffer(r.Context(), offerID, body.CustomMessage)
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := handler.PathID(r, "id")
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}

	var body struct {
		CustomerID       int     `json:"customer_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteError(w, r, c.Log, handler.BadRequest("invalid body: %v", err))
		return
	}

	rendered, err := c.CampaignService.PreviewMessage(r.Context(), campaignID, body.CustomerID, body.OverrideTemplate)
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"customer_id":      body.CustomerID,
	})
}

type commandFunc func(ctx context.Context, campaignID int) (*service.Ack, error)

// command adapts a dispatcher command to a 202 response carrying its Ack.
func (c *CampaignController) command(fn commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := handler.PathID(r, "id")
		if err != nil {
			handler.WriteError(w, r, c.Log, err)
			return
		}
		ack, err := fn(r.Context(), id)
		if err != nil {
			handler.WriteError(w, r, c.Log, err)
			return
		}
		handler.WriteJSON(w, http.StatusAccepted, ack)
	}
}

func (c *CampaignController) Start(w http.ResponseWriter, r *http.Request) {
	c.command(c.CampaignService.Start)(w, r)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.command(c.CampaignService.Pause)(w, r)
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	c.command(c.CampaignService.Resume)(w, r)
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
	c.command(c.CampaignService.Cancel)(w, r)
}

func (c *CampaignController) Schedule(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	var body struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteError(w, r, c.Log, handler.BadRequest("invalid body: %v", err))
		return
	}
	if body.ScheduledAt == nil {
		handler.WriteError(w, r, c.Log, handler.BadRequest("scheduled_at is required"))
		return
	}

	campaign, err := c.CampaignService.Schedule(r.Context(), id, *body.ScheduledAt)
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) Unschedule(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	campaign, err := c.CampaignService.Unschedule(r.Context(), id)
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := handler.PathID(r, "id")
	if err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	if err := c.CampaignService.Delete(r.Context(), id); err != nil {
		handler.WriteError(w, r, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
