// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

// CampaignHandler serves the read side: listings, status polling and recipient outcomes.
type CampaignHandler struct {
	Service *service.CampaignService
	Log     logger.Logger
}

func NewCampaignHandler(svc *service.CampaignService, log logger.Logger) *CampaignHandler {
	return &CampaignHandler{Service: svc, Log: log}
}

// ListCampaigns returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := repository.CampaignFilter{
		TenantID: QueryInt(r, "tenant_id"),
		Status:   model.CampaignStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		WriteError(w, r, h.Log, BadRequest("unknown status %q", filter.Status))
		return
	}

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), QueryInt(r, "page"), QueryInt(r, "page_size"), filter)
	if err != nil {
		WriteError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaign is the status polling endpoint.
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		WriteError(w, r, h.Log, err)
		return
	}
	details, err := h.Service.GetCampaignDetails(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		WriteError(w, r, h.Log, err)
		return
	}
	status := model.TaskStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.TaskPending, model.TaskInProgress, model.TaskSent, model.TaskFailed:
	default:
		WriteError(w, r, h.Log, BadRequest("unknown recipient status %q", status))
		return
	}

	tasks, pagination, err := h.Service.ListRecipients(r.Context(), id, status, QueryInt(r, "page"), QueryInt(r, "page_size"))
	if err != nil {
		WriteError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       tasks,
		"pagination": pagination,
	})
}

// ActiveCampaigns lists campaigns with a send loop in this process.
func (h *CampaignHandler) ActiveCampaigns(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_ids": h.Service.ActiveCampaigns(),
	})
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports database reachability.
type HealthHandler struct {
	DB  Pinger
	Log logger.Logger
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			h.Log.Warn("health check failed", map[string]interface{}{"error": err})
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
