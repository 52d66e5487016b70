package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/gateway"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/registry"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

// ==========================
// In-memory store
// ==========================

// memStore mimics the conditional SQL of the real repositories.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[int]*model.Campaign
	tasks      []*model.RecipientTask
	customers  []model.Customer
	nextID     int
	nextTaskID int
	// failMarksAfter makes the n-th MarkSent/MarkFailed call fail; 0 disables.
	failMarksAfter int
	marks          int
	// progress records sent+failed after every counter change, per campaign.
	progress map[int][]int
	// pauseRequested mirrors the pause_requested column.
	pauseRequested map[int]bool
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:      map[int]*model.Campaign{},
		progress:       map[int][]int{},
		pauseRequested: map[int]bool{},
	}
}

func (s *memStore) campaignRepo() *memCampaignRepo { return &memCampaignRepo{s} }
func (s *memStore) taskRepo() *memTaskRepo         { return &memTaskRepo{s} }

// seedCampaign stores a campaign with one pending task per customer.
func (s *memStore) seedCampaign(status model.CampaignStatus, p model.Pacing, template string, customers ...model.Customer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.campaigns[id] = &model.Campaign{
		ID:              id,
		TenantID:        1,
		Name:            fmt.Sprintf("campaign %d", id),
		MessageTemplate: template,
		Pacing:          p,
		Status:          status,
		TotalRecipients: len(customers),
		CreatedAt:       time.Now(),
	}
	for _, cu := range customers {
		s.nextTaskID++
		s.tasks = append(s.tasks, &model.RecipientTask{
			ID:           s.nextTaskID,
			CampaignID:   id,
			CustomerID:   cu.ID,
			CustomerName: cu.Name,
			Phone:        cu.Phone,
			Status:       model.TaskPending,
		})
	}
	return id
}

func (s *memStore) campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) tasksOf(id int) []model.RecipientTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RecipientTask
	for _, t := range s.tasks {
		if t.CampaignID == id {
			out = append(out, *t)
		}
	}
	return out
}

func (s *memStore) setStatus(id int, status model.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *memStore) task(id int) *model.RecipientTask {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *memStore) recordProgress(c *model.Campaign) {
	s.progress[c.ID] = append(s.progress[c.ID], c.SentCount+c.FailedCount)
}

var errInjected = errors.New("injected database failure")

// ==========================
// Campaign repository
// ==========================

type memCampaignRepo struct{ s *memStore }

var _ repository.CampaignRepositoryInterface = (*memCampaignRepo)(nil)

func (r *memCampaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) CreateWithRecipients(ctx context.Context, c *model.Campaign, customerIDs []int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	c.ID = r.s.nextID
	c.CreatedAt = time.Now()
	c.TotalRecipients = len(customerIDs)
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	cp := *c
	r.s.campaigns[c.ID] = &cp
	for _, cid := range customerIDs {
		r.s.nextTaskID++
		r.s.tasks = append(r.s.tasks, &model.RecipientTask{ID: r.s.nextTaskID, CampaignID: c.ID, CustomerID: cid, Status: model.TaskPending})
	}
	return nil
}

func (r *memCampaignRepo) ListCampaigns(ctx context.Context, filter repository.CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.s.campaigns {
		if filter.TenantID > 0 && c.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r *memCampaignRepo) Delete(ctx context.Context, id int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status == model.CampaignSending {
		return false, nil
	}
	delete(r.s.campaigns, id)
	return true, nil
}

func (r *memCampaignRepo) TransitionStatus(ctx context.Context, id int, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			delete(r.s.pauseRequested, id)
			now := time.Now()
			if to == model.CampaignSending && c.StartedAt == nil {
				c.StartedAt = &now
			}
			if (to == model.CampaignCompleted || to == model.CampaignCancelled) && c.CompletedAt == nil {
				c.CompletedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *memCampaignRepo) RequestPause(ctx context.Context, id int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != model.CampaignSending {
		return false, nil
	}
	r.s.pauseRequested[id] = true
	return true, nil
}

func (r *memCampaignRepo) ControlState(ctx context.Context, id int) (model.CampaignStatus, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return "", false, appErrors.NewCampaignNotFound(id)
	}
	return c.Status, r.s.pauseRequested[id], nil
}

func (r *memCampaignRepo) Schedule(ctx context.Context, id int, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || (c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled) {
		return false, nil
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	return true, nil
}

func (r *memCampaignRepo) Unschedule(ctx context.Context, id int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != model.CampaignScheduled {
		return false, nil
	}
	c.Status = model.CampaignDraft
	c.ScheduledAt = nil
	return true, nil
}

func (r *memCampaignRepo) ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []int{}
	for id, c := range r.s.campaigns {
		if c.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *memCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := []int{}
	for id, c := range r.s.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ==========================
// Recipient task repository
// ==========================

type memTaskRepo struct{ s *memStore }

var _ repository.RecipientTaskRepositoryInterface = (*memTaskRepo)(nil)

func (r *memTaskRepo) PendingTasks(ctx context.Context, campaignID int) ([]*model.RecipientTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.RecipientTask{}
	for _, t := range r.s.tasks {
		if t.CampaignID == campaignID && t.Status == model.TaskPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTaskRepo) MarkInProgress(ctx context.Context, taskID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.task(taskID)
	if t == nil || t.Status != model.TaskPending {
		return false, nil
	}
	t.Status = model.TaskInProgress
	return true, nil
}

func (r *memTaskRepo) mark(taskID int, apply func(t *model.RecipientTask, c *model.Campaign)) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.marks++
	if r.s.failMarksAfter > 0 && r.s.marks >= r.s.failMarksAfter {
		return false, errInjected
	}
	t := r.s.task(taskID)
	if t == nil || t.Status.IsTerminal() {
		return false, nil
	}
	c := r.s.campaigns[t.CampaignID]
	if c.SentCount+c.FailedCount >= c.TotalRecipients {
		c = nil
	}
	apply(t, c)
	if c != nil {
		r.s.recordProgress(c)
	}
	return true, nil
}

func (r *memTaskRepo) MarkSent(ctx context.Context, taskID int, at time.Time) (bool, error) {
	return r.mark(taskID, func(t *model.RecipientTask, c *model.Campaign) {
		t.Status = model.TaskSent
		t.SentAt = &at
		t.LastError = ""
		if c != nil {
			c.SentCount++
		}
	})
}

func (r *memTaskRepo) MarkFailed(ctx context.Context, taskID int, lastError string) (bool, error) {
	return r.mark(taskID, func(t *model.RecipientTask, c *model.Campaign) {
		t.Status = model.TaskFailed
		t.LastError = lastError
		if c != nil {
			c.FailedCount++
		}
	})
}

func (r *memTaskRepo) ListByCampaign(ctx context.Context, campaignID int, status model.TaskStatus, offset, limit int) ([]*model.RecipientTask, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.RecipientTask
	for _, t := range r.s.tasks {
		if t.CampaignID == campaignID && (status == "" || t.Status == status) {
			cp := *t
			all = append(all, &cp)
		}
	}
	if offset >= len(all) {
		return []*model.RecipientTask{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r *memTaskRepo) Stats(ctx context.Context, campaignID int) (map[model.TaskStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := map[model.TaskStatus]int{model.TaskPending: 0, model.TaskInProgress: 0, model.TaskSent: 0, model.TaskFailed: 0}
	for _, t := range r.s.tasks {
		if t.CampaignID == campaignID {
			stats[t.Status]++
		}
	}
	return stats, nil
}

func (r *memTaskRepo) FailInterrupted(ctx context.Context, campaignID int, lastError string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.tasks {
		if t.CampaignID == campaignID && t.Status == model.TaskInProgress {
			t.Status = model.TaskFailed
			t.LastError = lastError
			n++
		}
	}
	if c, ok := r.s.campaigns[campaignID]; ok {
		c.FailedCount += n
	}
	return n, nil
}

// ==========================
// Collaborators
// ==========================

type fakeTenants struct{}

func (fakeTenants) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	if id != 1 {
		return nil, appErrors.NewNotFound("tenant", id)
	}
	return &model.Tenant{ID: 1, Name: "Padaria Central", Slug: "central", Active: true}, nil
}

type fakeCustomers struct{ list []model.Customer }

func (f fakeCustomers) GetByID(ctx context.Context, id int) (*model.Customer, error) {
	for _, c := range f.list {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("customer", id)
}

func (f fakeCustomers) ListOptedIn(ctx context.Context, tenantID int) ([]model.Customer, error) {
	out := []model.Customer{}
	for _, c := range f.list {
		if c.TenantID == tenantID && c.AcceptsPromotions && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeOffers struct{ offer *model.Offer }

func (f fakeOffers) GetByID(ctx context.Context, id int) (*model.Offer, error) {
	if f.offer == nil || f.offer.ID != id {
		return nil, appErrors.NewNotFound("offer", id)
	}
	return f.offer, nil
}

// ==========================
// Gateway fakes
// ==========================

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type sentMessage struct {
	Number string
	Text   string
	Media  bool
}

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	// failFor maps a WhatsApp number to the rejection it gets.
	failFor map[string]string
	sent    []sentMessage
	// onSend runs before a send returns; tests block on it.
	onSend func(number string)
	events *eventLog
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: true, failFor: map[string]string{}}
}

func (f *fakeSender) CheckConnection(ctx context.Context) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false, "WhatsApp not connected (state: close)"
	}
	return true, "connected"
}

func (f *fakeSender) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeSender) SendText(ctx context.Context, number, text string) error {
	return f.send(number, text, false)
}

func (f *fakeSender) SendMedia(ctx context.Context, number string, media gateway.Media, caption string) error {
	return f.send(number, caption, true)
}

func (f *fakeSender) Wait(ctx context.Context) error { return nil }

func (f *fakeSender) send(number, text string, media bool) error {
	if f.onSend != nil {
		f.onSend(number)
	}
	if f.events != nil {
		f.events.add("send:" + number)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Number: number, Text: text, Media: media})
	if msg, ok := f.failFor[number]; ok {
		return appErrors.NewGatewayRejected(400, msg)
	}
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeFactory struct {
	sender *fakeSender
	err    error
}

func (f *fakeFactory) ForTenant(t *model.Tenant) (gateway.Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sender, nil
}

type fakeMedia struct {
	err error
}

func (f fakeMedia) Load(path string) (gateway.Media, error) {
	if f.err != nil {
		return gateway.Media{}, &appErrors.MediaLoadError{Path: path, Err: f.err}
	}
	return gateway.Media{Data: []byte("img"), MimeType: "image/png"}, nil
}

// ==========================
// Pacing fakes
// ==========================

// minDelay always picks the lower bound.
type minDelay struct{}

func (minDelay) NextDelay(min, max int) int { return min }

// recordingSleeper never blocks; it records requested durations.
type recordingSleeper struct {
	mu     sync.Mutex
	slept  []time.Duration
	events *eventLog
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	if s.events != nil {
		s.events.add("sleep:" + d.String())
	}
	return ctx.Err()
}

func (s *recordingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

// blockingSleeper waits until ctx is done, like a very long real delay.
type blockingSleeper struct {
	entered chan struct{}
	once    sync.Once
}

func (s *blockingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return ctx.Err()
}

// ==========================
// Shared lease
// ==========================

// leaseTable stands in for the Redis keyspace that several processes share.
type leaseTable struct {
	mu     sync.Mutex
	owners map[int]string
}

func newLeaseTable() *leaseTable {
	return &leaseTable{owners: map[int]string{}}
}

func (t *leaseTable) lease(owner string) *memLease {
	return &memLease{table: t, owner: owner}
}

// memLease is one process's view of a leaseTable.
type memLease struct {
	table *leaseTable
	owner string
}

func (l *memLease) Acquire(ctx context.Context, id int) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if cur, ok := l.table.owners[id]; ok && cur != l.owner {
		return false, nil
	}
	l.table.owners[id] = l.owner
	return true, nil
}

func (l *memLease) Extend(ctx context.Context, id int) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.owners[id] != l.owner {
		return registry.ErrLeaseLost
	}
	return nil
}

func (l *memLease) Release(ctx context.Context, id int) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.owners[id] == l.owner {
		delete(l.table.owners, id)
	}
	return nil
}

func (l *memLease) Held(ctx context.Context, id int) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	_, ok := l.table.owners[id]
	return ok, nil
}
