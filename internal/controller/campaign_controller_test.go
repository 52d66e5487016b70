package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/padaria-campaigns/internal/controller"
	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/gateway"
	"github.com/unclebandit/padaria-campaigns/internal/handler"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
	"github.com/unclebandit/padaria-campaigns/internal/service"
)

// --- Stub collaborators ---

// stubCampaigns implements the calls the routes make; anything else panics on the nil embedded interface.
type stubCampaigns struct {
	repository.CampaignRepositoryInterface
	mu   sync.Mutex
	byID map[int]*model.Campaign
}

func (s *stubCampaigns) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (s *stubCampaigns) TransitionStatus(ctx context.Context, id int, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *stubCampaigns) RequestPause(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return ok && c.Status == model.CampaignSending, nil
}

func (s *stubCampaigns) ControlState(ctx context.Context, id int) (model.CampaignStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return "", false, appErrors.NewCampaignNotFound(id)
	}
	return c.Status, false, nil
}

func (s *stubCampaigns) CreateWithRecipients(ctx context.Context, c *model.Campaign, customerIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = len(s.byID) + 1
	c.TotalRecipients = len(customerIDs)
	cp := *c
	s.byID[c.ID] = &cp
	return nil
}

func (s *stubCampaigns) ListCampaigns(ctx context.Context, filter repository.CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range s.byID {
		if filter.Status == "" || c.Status == filter.Status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (s *stubCampaigns) Delete(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return true, nil
}

type stubTasks struct {
	repository.RecipientTaskRepositoryInterface
}

func (stubTasks) PendingTasks(ctx context.Context, campaignID int) ([]*model.RecipientTask, error) {
	return []*model.RecipientTask{}, nil
}

func (stubTasks) Stats(ctx context.Context, campaignID int) (map[model.TaskStatus]int, error) {
	return map[model.TaskStatus]int{model.TaskPending: 0, model.TaskInProgress: 0, model.TaskSent: 7, model.TaskFailed: 1}, nil
}

func (stubTasks) ListByCampaign(ctx context.Context, campaignID int, status model.TaskStatus, offset, limit int) ([]*model.RecipientTask, int, error) {
	return []*model.RecipientTask{{ID: 1, CampaignID: campaignID, CustomerID: 1, Status: model.TaskFailed, LastError: "invalid number"}}, 1, nil
}

type stubTenants struct{}

func (stubTenants) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	if id != 1 {
		return nil, appErrors.NewNotFound("tenant", id)
	}
	return &model.Tenant{ID: 1, Name: "Padaria Central", Slug: "central"}, nil
}

type stubCustomers struct{}

func (stubCustomers) GetByID(ctx context.Context, id int) (*model.Customer, error) {
	if id != 1 {
		return nil, appErrors.NewNotFound("customer", id)
	}
	return &model.Customer{ID: 1, TenantID: 1, Name: "Maria Silva", Phone: "11999990001", AcceptsPromotions: true, Active: true}, nil
}

func (s stubCustomers) ListOptedIn(ctx context.Context, tenantID int) ([]model.Customer, error) {
	c, _ := s.GetByID(ctx, 1)
	return []model.Customer{*c}, nil
}

type stubOffers struct{}

func (stubOffers) GetByID(ctx context.Context, id int) (*model.Offer, error) {
	return nil, appErrors.NewNotFound("offer", id)
}

type stubSender struct{ connected bool }

func (s stubSender) CheckConnection(ctx context.Context) (bool, string) {
	if !s.connected {
		return false, "WhatsApp not connected (state: close)"
	}
	return true, "connected"
}
func (stubSender) SendText(ctx context.Context, number, text string) error { return nil }
func (stubSender) SendMedia(ctx context.Context, number string, media gateway.Media, caption string) error {
	return nil
}
func (stubSender) Wait(ctx context.Context) error { return nil }

type stubFactory struct{ sender gateway.Sender }

func (f stubFactory) ForTenant(t *model.Tenant) (gateway.Sender, error) { return f.sender, nil }

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

// --- Test setup ---

type fixture struct {
	router    http.Handler
	campaigns *stubCampaigns
	svc       *service.CampaignService
}

func newFixture(t *testing.T, connected bool, campaigns ...*model.Campaign) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	repo := &stubCampaigns{byID: map[int]*model.Campaign{}}
	for _, c := range campaigns {
		repo.byID[c.ID] = c
	}

	dispatcher := service.NewDispatcher(service.DispatcherDeps{
		Campaigns: repo,
		Tasks:     stubTasks{},
		Tenants:   stubTenants{},
		Gateways:  stubFactory{sender: stubSender{connected: connected}},
		Logger:    log,
	})
	svc := &service.CampaignService{
		CampaignRepo: repo,
		TaskRepo:     stubTasks{},
		Dispatcher:   dispatcher,
		Builder: &service.CampaignBuilder{
			Offers:    stubOffers{},
			Tenants:   stubTenants{},
			Customers: stubCustomers{},
			Campaigns: repo,
			Defaults:  model.Pacing{DelayMinSeconds: 15, DelayMaxSeconds: 45, BatchSize: 10, BatchPauseSeconds: 120},
		},
	}

	ctrl := &controller.CampaignController{CampaignService: svc, Log: log}
	h := handler.NewCampaignHandler(svc, log)
	health := &handler.HealthHandler{DB: stubPinger{}, Log: log}
	return &fixture{
		router:    controller.NewRouter(ctrl, h, health, log),
		campaigns: repo,
		svc:       svc,
	}
}

func campaign(id int, status model.CampaignStatus) *model.Campaign {
	return &model.Campaign{
		ID:              id,
		TenantID:        1,
		Name:            "Promoção: Sonho",
		MessageTemplate: "Olá, {{nome}}!",
		Pacing:          model.Pacing{DelayMinSeconds: 1, DelayMaxSeconds: 2, BatchSize: 10},
		Status:          status,
		TotalRecipients: 8,
		SentCount:       7,
		FailedCount:     1,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body handler.ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error.Code
}

// --- Tests ---

func TestStartCampaign_Accepted(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignDraft))

	w := f.do(t, http.MethodPost, "/campaigns/1/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var ack service.Ack
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, 1, ack.CampaignID)
	assert.True(t, ack.Accepted)
	assert.Equal(t, model.CampaignSending, ack.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Dispatcher.Wait(ctx, 1))
	c, _ := f.campaigns.GetByID(ctx, 1)
	assert.Equal(t, model.CampaignCompleted, c.Status)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		status    model.CampaignStatus
		path      string
		wantCode  int
		wantError string
	}{
		{"unknown campaign", true, model.CampaignDraft, "/campaigns/99/start", http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", true, model.CampaignDraft, "/campaigns/abc/start", http.StatusBadRequest, "BAD_REQUEST"},
		{"start completed", true, model.CampaignCompleted, "/campaigns/1/start", http.StatusConflict, "INVALID_TRANSITION"},
		{"pause idle", true, model.CampaignDraft, "/campaigns/1/pause", http.StatusConflict, "NOT_RUNNING"},
		{"resume disconnected", false, model.CampaignPaused, "/campaigns/1/resume", http.StatusBadGateway, "GATEWAY_UNAVAILABLE"},
		{"cancel completed", true, model.CampaignCompleted, "/campaigns/1/cancel", http.StatusConflict, "INVALID_TRANSITION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.connected, campaign(1, tt.status))

			w := f.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantError, errorCode(t, w))
		})
	}
}

func TestCancelCampaign(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignPaused))

	w := f.do(t, http.MethodPost, "/campaigns/1/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	c, _ := f.campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, model.CampaignCancelled, c.Status)
}

func TestGetCampaign_Progress(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignSending))

	w := f.do(t, http.MethodGet, "/campaigns/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var details service.CampaignDetails
	require.NoError(t, json.NewDecoder(w.Body).Decode(&details))
	assert.Equal(t, model.CampaignSending, details.Status)
	assert.Equal(t, 7, details.Sent)
	assert.Equal(t, 1, details.Failed)
	assert.Equal(t, 8, details.Total)
	assert.Equal(t, 87.5, details.Progress)
	assert.Equal(t, 7, details.Stats["sent"])
}

func TestListCampaigns(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignDraft), campaign(2, model.CampaignPaused))

	w := f.do(t, http.MethodGet, "/campaigns?status=paused&page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Data, 1)
	assert.Equal(t, 2, res.Data[0].ID)
	assert.Equal(t, 1, res.Pagination["total_count"])

	w = f.do(t, http.MethodGet, "/campaigns?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRecipients(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignCompleted))

	w := f.do(t, http.MethodGet, "/campaigns/1/recipients?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "invalid number")

	w = f.do(t, http.MethodGet, "/campaigns/1/recipients?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCampaign(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"tenant_id":        1,
		"name":             "Sexta do sonho",
		"message_template": "Olá, {{nome}}!",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var c model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&c))
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, 1, c.TotalRecipients)

	w = f.do(t, http.MethodPost, "/campaigns", map[string]interface{}{"tenant_id": 1, "name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFromUnknownOffer(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/offers/5/campaign", map[string]interface{}{"custom_message": "oi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSendingCampaign(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignSending), campaign(2, model.CampaignDraft))

	w := f.do(t, http.MethodDelete, "/campaigns/1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/campaigns/2", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestScheduleRequiresTime(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignDraft))

	w := f.do(t, http.MethodPost, "/campaigns/1/schedule", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/campaigns/1/schedule", map[string]interface{}{"scheduled_at": "2001-01-01T00:00:00Z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestPersonalizedPreview(t *testing.T) {
	f := newFixture(t, true, campaign(1, model.CampaignDraft))

	w := f.do(t, http.MethodPost, "/campaigns/1/preview", map[string]interface{}{"customer_id": 1})
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "Olá, Maria!", res["rendered_message"])
}

func TestActiveAndHealth(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/campaigns/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"campaign_ids":[]}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	health := &handler.HealthHandler{DB: stubPinger{err: errors.New("connection refused")}, Log: logger.NewNoOpLogger()}
	rec := httptest.NewRecorder()
	health.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
