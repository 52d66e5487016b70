// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/gateway"
	"github.com/unclebandit/padaria-campaigns/internal/logger"
	"github.com/unclebandit/padaria-campaigns/internal/model"
	"github.com/unclebandit/padaria-campaigns/internal/pacing"
	"github.com/unclebandit/padaria-campaigns/internal/registry"
	"github.com/unclebandit/padaria-campaigns/internal/repository"
)

// DelayPolicy draws the wait between two sends.
type DelayPolicy interface {
	NextDelay(min, max int) int
}

// Ack is the immediate answer to a start, pause, resume or cancel command.
type Ack struct {
	CampaignID     int                  `json:"campaign_id"`
	Accepted       bool                 `json:"accepted"`
	AlreadyRunning bool                 `json:"already_running,omitempty"`
	Status         model.CampaignStatus `json:"status"`
	Message        string               `json:"message"`
}

type DispatcherDeps struct {
	Campaigns repository.CampaignRepositoryInterface
	Tasks     repository.RecipientTaskRepositoryInterface
	Tenants   repository.TenantRepositoryInterface
	Gateways  gateway.Factory
	Media     gateway.MediaLoader
	Pacing    DelayPolicy
	Sleeper   pacing.Sleeper
	Registry  *registry.Registry
	Lease     registry.Lease
	Logger    logger.Logger
	// VerifyOnStart runs a connection check before a fresh start. Resume always checks.
	VerifyOnStart bool
	// Heartbeat bounds each slice of a pacing sleep. Between slices the lease is extended and
	// the campaign's status is re-read. Keep it well under the lease TTL.
	Heartbeat time.Duration
	Now       func() time.Time
}

const (
	defaultHeartbeat   = 30 * time.Second
	pausePollInterval  = 250 * time.Millisecond
	pauseSettleTimeout = time.Minute
)

// Dispatcher owns the campaign state machine and one send loop per running campaign.
type Dispatcher struct {
	campaigns repository.CampaignRepositoryInterface
	tasks     repository.RecipientTaskRepositoryInterface
	tenants   repository.TenantRepositoryInterface
	gateways  gateway.Factory
	media     gateway.MediaLoader
	pacing    DelayPolicy
	sleeper   pacing.Sleeper
	registry  *registry.Registry
	lease     registry.Lease
	log       logger.Logger
	verify    bool
	heartbeat time.Duration
	now       func() time.Time

	// baseCtx is only cancelled by a hard stop; in-flight gateway calls and writes run on it.
	baseCtx  context.Context
	hardStop context.CancelFunc
	wg       sync.WaitGroup
	closing  atomic.Bool
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Pacing == nil {
		deps.Pacing = pacing.NewDefaultPolicy()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = pacing.NewSleeper()
	}
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Lease == nil {
		deps.Lease = registry.NoopLease{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = defaultHeartbeat
	}
	baseCtx, hardStop := context.WithCancel(context.Background())
	return &Dispatcher{
		campaigns: deps.Campaigns,
		tasks:     deps.Tasks,
		tenants:   deps.Tenants,
		gateways:  deps.Gateways,
		media:     deps.Media,
		pacing:    deps.Pacing,
		sleeper:   deps.Sleeper,
		registry:  deps.Registry,
		lease:     deps.Lease,
		log:       deps.Logger,
		verify:    deps.VerifyOnStart,
		heartbeat: deps.Heartbeat,
		now:       deps.Now,
		baseCtx:   baseCtx,
		hardStop:  hardStop,
	}
}

type launchMode int

const (
	modeStart launchMode = iota
	modeResume
)

// Start begins dispatch of a draft or scheduled campaign and returns before any message is sent.
// Starting a campaign that is already running is acknowledged without side effects.
func (d *Dispatcher) Start(ctx context.Context, campaignID int) (*Ack, error) {
	c, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if d.registry.IsActive(campaignID) {
		return alreadyRunning(c), nil
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return nil, appErrors.Transition(campaignID, string(c.Status), "start")
	}
	return d.launch(ctx, c, modeStart, model.CampaignDraft, model.CampaignScheduled)
}

// Resume restarts a paused campaign after confirming the gateway is connected.
// On any failure the campaign stays paused. A resume that races a pending pause waits
// for the pause to land, then resumes.
func (d *Dispatcher) Resume(ctx context.Context, campaignID int) (*Ack, error) {
	if _, err := d.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	if err := d.awaitPendingPause(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("campaign %d is still pausing: %w: %w", campaignID, appErrors.ErrAlreadyRunning, err)
	}
	c, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if d.registry.IsActive(campaignID) {
		return alreadyRunning(c), nil
	}
	if c.Status != model.CampaignPaused {
		return nil, appErrors.Transition(campaignID, string(c.Status), "resume")
	}
	return d.launch(ctx, c, modeResume, model.CampaignPaused)
}

// Pause records a pause request that the process running the campaign applies before its next
// recipient. The status becomes paused once the loop observes it. A sending campaign that no
// process runs is paused on the spot.
func (d *Dispatcher) Pause(ctx context.Context, campaignID int) (*Ack, error) {
	requested, err := d.campaigns.RequestPause(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !requested {
		return nil, fmt.Errorf("%w: campaign %d", appErrors.ErrCampaignNotRunning, campaignID)
	}
	log := d.log.WithFields(map[string]interface{}{"campaign_id": campaignID})

	if !d.registry.Signal(campaignID, registry.ErrPauseRequested) {
		held, err := d.lease.Held(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if !held {
			return d.pauseOrphan(ctx, campaignID, log)
		}
	}
	log.Info("pause requested", map[string]interface{}{"local": d.registry.IsActive(campaignID)})
	return &Ack{
		CampaignID: campaignID,
		Accepted:   true,
		Status:     model.CampaignSending,
		Message:    "pause requested; the campaign stops before the next recipient",
	}, nil
}

// pauseOrphan pauses a sending campaign whose loop is gone, failing the task it was sending.
func (d *Dispatcher) pauseOrphan(ctx context.Context, campaignID int, log logger.Logger) (*Ack, error) {
	failed, err := d.tasks.FailInterrupted(ctx, campaignID, interruptedTaskError)
	if err != nil {
		return nil, err
	}
	moved, err := d.campaigns.TransitionStatus(ctx, campaignID, model.CampaignPaused, model.CampaignSending)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: campaign %d", appErrors.ErrCampaignNotRunning, campaignID)
	}
	campaignTransitionsCounter.WithLabelValues(string(model.CampaignPaused)).Inc()
	log.Warn("paused campaign with no running loop", map[string]interface{}{"interrupted_tasks": failed})
	return &Ack{
		CampaignID: campaignID,
		Accepted:   true,
		Status:     model.CampaignPaused,
		Message:    "campaign paused",
	}, nil
}

// awaitPendingPause blocks while a pause request is outstanding, and while a paused campaign's
// previous loop still holds the lease. It gives up after pauseSettleTimeout.
func (d *Dispatcher) awaitPendingPause(ctx context.Context, campaignID int) error {
	ctx, cancel := context.WithTimeout(ctx, pauseSettleTimeout)
	defer cancel()
	for {
		status, pending, err := d.campaigns.ControlState(ctx, campaignID)
		if err != nil {
			return err
		}
		pausing := status == model.CampaignSending && pending
		if !pausing && status != model.CampaignPaused {
			return nil
		}
		if d.registry.IsActive(campaignID) {
			if err := d.registry.Wait(ctx, campaignID); err != nil {
				return err
			}
			continue
		}
		held, err := d.lease.Held(ctx, campaignID)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
}

// Cancel marks the campaign cancelled and stops its loop if one is running.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID int) (*Ack, error) {
	c, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	moved, err := d.campaigns.TransitionStatus(ctx, campaignID, model.CampaignCancelled,
		model.CampaignDraft, model.CampaignScheduled, model.CampaignSending, model.CampaignPaused)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, appErrors.Transition(campaignID, string(d.currentStatus(ctx, c)), "cancel")
	}
	campaignTransitionsCounter.WithLabelValues(string(model.CampaignCancelled)).Inc()

	signalled := d.registry.Signal(campaignID, registry.ErrCancelRequested)
	d.log.Info("campaign cancelled", map[string]interface{}{
		"campaign_id": campaignID,
		"was_running": signalled,
	})
	return &Ack{
		CampaignID: campaignID,
		Accepted:   true,
		Status:     model.CampaignCancelled,
		Message:    "campaign cancelled",
	}, nil
}

// IsActive reports whether a loop for the campaign runs in this process.
func (d *Dispatcher) IsActive(campaignID int) bool {
	return d.registry.IsActive(campaignID)
}

func (d *Dispatcher) ListActive() []int {
	return d.registry.ListActive()
}

// Wait blocks until the campaign's loop has exited.
func (d *Dispatcher) Wait(ctx context.Context, campaignID int) error {
	return d.registry.Wait(ctx, campaignID)
}

// Shutdown signals every loop and waits for them. When ctx expires first, in-flight calls are aborted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closing.Store(true)
	runs := d.registry.SignalAll(registry.ErrShutdown)
	if len(runs) > 0 {
		d.log.Info("stopping running campaigns", map[string]interface{}{"count": len(runs)})
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.hardStop()
		return nil
	case <-ctx.Done():
		d.hardStop()
		<-done
		return fmt.Errorf("campaign loops did not stop in time: %w", ctx.Err())
	}
}

func (d *Dispatcher) launch(ctx context.Context, c *model.Campaign, mode launchMode, from ...model.CampaignStatus) (*Ack, error) {
	if d.closing.Load() {
		return nil, fmt.Errorf("campaign %d not launched: %w", c.ID, registry.ErrShutdown)
	}
	log := d.log.WithFields(map[string]interface{}{"campaign_id": c.ID, "tenant_id": c.TenantID})

	signalCtx, cancel := context.WithCancelCause(d.baseCtx)
	run, ok := d.registry.Register(c.ID, cancel)
	if !ok {
		cancel(nil)
		return alreadyRunning(c), nil
	}
	abandon := func() {
		cancel(nil)
		d.registry.Unregister(run)
	}

	acquired, err := d.lease.Acquire(ctx, c.ID)
	if err != nil {
		abandon()
		return nil, err
	}
	if !acquired {
		abandon()
		return alreadyRunning(c), nil
	}
	release := func() {
		abandon()
		d.releaseLease(c.ID, log)
	}

	var target *dispatchTarget
	if mode == modeResume {
		// Connectivity is confirmed before leaving paused.
		target, err = d.setup(ctx, c, true)
		if err != nil {
			release()
			log.Warn("resume rejected", map[string]interface{}{"error": err})
			return nil, err
		}
	}

	moved, err := d.campaigns.TransitionStatus(ctx, c.ID, model.CampaignSending, from...)
	if err != nil {
		release()
		return nil, err
	}
	if !moved {
		release()
		return nil, appErrors.Transition(c.ID, string(d.currentStatus(ctx, c)), "start")
	}

	if mode == modeStart {
		target, err = d.setup(ctx, c, d.verify)
		if err != nil {
			d.setStatus(c.ID, model.CampaignError, log)
			release()
			log.Error("campaign setup failed", map[string]interface{}{"error": err})
			return nil, err
		}
	}
	campaignTransitionsCounter.WithLabelValues(string(model.CampaignSending)).Inc()

	c.Status = model.CampaignSending
	d.wg.Add(1)
	activeCampaignsGauge.Inc()
	go d.run(signalCtx, run, c, target, log)

	log.Info("campaign dispatch started", map[string]interface{}{
		"resume":          mode == modeResume,
		"total":           c.TotalRecipients,
		"already_handled": c.SentCount + c.FailedCount,
	})
	msg := "campaign started"
	if mode == modeResume {
		msg = "campaign resumed"
	}
	return &Ack{CampaignID: c.ID, Accepted: true, Status: model.CampaignSending, Message: msg}, nil
}

// dispatchTarget is what a loop needs about the tenant it sends for.
type dispatchTarget struct {
	sender       gateway.Sender
	businessName string
}

func (d *Dispatcher) setup(ctx context.Context, c *model.Campaign, checkConnection bool) (*dispatchTarget, error) {
	tenant, err := d.tenants.GetByID(ctx, c.TenantID)
	if err != nil {
		return nil, appErrors.NewSetupFailure(c.ID, "tenant lookup failed", err)
	}
	sender, err := d.gateways.ForTenant(tenant)
	if err != nil {
		return nil, appErrors.NewSetupFailure(c.ID, "gateway unavailable for tenant", err)
	}
	if checkConnection {
		connected, detail := sender.CheckConnection(ctx)
		if !connected {
			return nil, appErrors.NewSetupFailure(c.ID, "WhatsApp not connected",
				appErrors.NewGatewayUnavailable(detail, nil))
		}
	}
	return &dispatchTarget{sender: sender, businessName: tenant.Name}, nil
}

// run is the per-recipient loop. signalCtx carries pause, cancel and shutdown; work uses d.baseCtx.
func (d *Dispatcher) run(signalCtx context.Context, run *registry.Run, c *model.Campaign, target *dispatchTarget, log logger.Logger) {
	defer d.wg.Done()
	defer func() {
		d.releaseLease(c.ID, log)
		activeCampaignsGauge.Dec()
		d.registry.Unregister(run)
	}()

	workCtx := d.baseCtx
	tasks, err := d.tasks.PendingTasks(workCtx, c.ID)
	if err != nil {
		d.abort(c.ID, err, log)
		return
	}

	inBatch := 0
	for i, task := range tasks {
		if !d.checkpoint(signalCtx, c.ID, log) {
			return
		}
		if err := target.sender.Wait(signalCtx); err != nil {
			d.stopped(c.ID, context.Cause(signalCtx), log)
			return
		}

		taskLog := log.WithFields(map[string]interface{}{"task_id": task.ID, "customer_id": task.CustomerID})
		moved, err := d.tasks.MarkInProgress(workCtx, task.ID)
		if err != nil {
			d.abort(c.ID, err, taskLog)
			return
		}
		if !moved {
			taskLog.Debug("task no longer pending, skipping", nil)
			continue
		}

		kind, sendErr := d.deliver(workCtx, c, target, task, taskLog)
		if sendErr == nil {
			_, err = d.tasks.MarkSent(workCtx, task.ID, d.now())
			messagesProcessedCounter.WithLabelValues("sent", kind).Inc()
			taskLog.Info("message sent", nil)
		} else {
			_, err = d.tasks.MarkFailed(workCtx, task.ID, sendErr.Error())
			messagesProcessedCounter.WithLabelValues("failed", kind).Inc()
			taskLog.Warn("message failed", map[string]interface{}{"error": sendErr})
		}
		if err != nil {
			d.abort(c.ID, err, taskLog)
			return
		}

		if i == len(tasks)-1 {
			break
		}

		inBatch++
		delay := d.pacing.NextDelay(c.Pacing.DelayMinSeconds, c.Pacing.DelayMaxSeconds)
		taskLog.Debug("waiting before next message", map[string]interface{}{"delay_seconds": delay})
		if !d.sleep(signalCtx, c.ID, pacing.Seconds(delay), log) {
			return
		}

		if pacing.ShouldPauseBatch(inBatch, c.Pacing.BatchSize) {
			log.Info("batch finished, pausing", map[string]interface{}{"pause_seconds": c.Pacing.BatchPauseSeconds})
			if !d.sleep(signalCtx, c.ID, pacing.Seconds(c.Pacing.BatchPauseSeconds), log) {
				return
			}
			inBatch = 0
		}
	}

	if d.setStatus(c.ID, model.CampaignCompleted, log) {
		log.Info("campaign completed", nil)
	}
}

// checkpoint runs before every recipient and between sleep slices. It reports whether the loop
// may go on; when it may not, whatever status change the stop implies has been applied.
func (d *Dispatcher) checkpoint(signalCtx context.Context, campaignID int, log logger.Logger) bool {
	if signalCtx.Err() != nil {
		d.stopped(campaignID, context.Cause(signalCtx), log)
		return false
	}
	if !d.keepLease(campaignID, log) {
		return false
	}

	status, pauseRequested, err := d.campaigns.ControlState(d.baseCtx, campaignID)
	switch {
	case err != nil:
		log.Warn("reading campaign status failed", map[string]interface{}{"error": err})
	case status != model.CampaignSending:
		log.Info("campaign left sending elsewhere, stopping", map[string]interface{}{"status": string(status)})
		return false
	case pauseRequested:
		d.stopped(campaignID, registry.ErrPauseRequested, log)
		return false
	}
	return true
}

// keepLease extends the lease. A lease that expired without a new owner is taken again.
func (d *Dispatcher) keepLease(campaignID int, log logger.Logger) bool {
	err := d.lease.Extend(d.baseCtx, campaignID)
	if err == nil {
		return true
	}
	if !errors.Is(err, registry.ErrLeaseLost) {
		log.Warn("lease extension failed", map[string]interface{}{"error": err})
		return true
	}

	acquired, err := d.lease.Acquire(d.baseCtx, campaignID)
	if err != nil {
		log.Warn("lease re-acquisition failed", map[string]interface{}{"error": err})
		return true
	}
	if !acquired {
		log.Error("campaign lease taken by another process, stopping without status change", nil)
		return false
	}
	log.Warn("campaign lease had expired, re-acquired", nil)
	return true
}

// sleep waits total in heartbeat-sized slices. A signal ends it early and is handled by the
// next checkpoint. It returns false when a checkpoint between slices stopped the loop.
func (d *Dispatcher) sleep(signalCtx context.Context, campaignID int, total time.Duration, log logger.Logger) bool {
	for total > 0 {
		step := min(total, d.heartbeat)
		if d.sleeper.Sleep(signalCtx, step) != nil {
			return true
		}
		total -= step
		if total > 0 && !d.checkpoint(signalCtx, campaignID, log) {
			return false
		}
	}
	return true
}

// deliver sends one message, attaching the campaign image when it can be loaded.
func (d *Dispatcher) deliver(ctx context.Context, c *model.Campaign, target *dispatchTarget, task *model.RecipientTask, log logger.Logger) (string, error) {
	number := model.WhatsAppNumber(task.Phone)
	text := RenderMessage(c.MessageTemplate, task.CustomerName, target.businessName)

	if c.HasMedia() && d.media != nil {
		media, err := d.media.Load(c.MediaPath)
		if err == nil {
			return "media", target.sender.SendMedia(ctx, number, media, text)
		}
		log.Warn("media unavailable, sending text only", map[string]interface{}{"error": err})
	}
	return "text", target.sender.SendText(ctx, number, text)
}

// stopped applies the status implied by why the loop was signalled.
func (d *Dispatcher) stopped(campaignID int, cause error, log logger.Logger) {
	switch {
	case errors.Is(cause, registry.ErrPauseRequested):
		d.setStatus(campaignID, model.CampaignPaused, log)
		log.Info("campaign paused", nil)
	case errors.Is(cause, registry.ErrShutdown):
		d.setStatus(campaignID, model.CampaignPaused, log)
		log.Info("campaign paused for shutdown", nil)
	case errors.Is(cause, registry.ErrCancelRequested):
		log.Info("campaign loop stopped after cancel", nil)
	default:
		log.Warn("campaign loop stopped", map[string]interface{}{"cause": cause})
	}
}

// abort ends a run whose progress could not be persisted.
func (d *Dispatcher) abort(campaignID int, err error, log logger.Logger) {
	log.Error("persisting campaign progress failed, stopping", map[string]interface{}{"error": err})
	d.setStatus(campaignID, model.CampaignError, log)
}

// setStatus moves a sending campaign to status. Final writes use a fresh context so a hard stop cannot skip them.
func (d *Dispatcher) setStatus(campaignID int, status model.CampaignStatus, log logger.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	moved, err := d.campaigns.TransitionStatus(ctx, campaignID, status, model.CampaignSending)
	if err != nil {
		log.Error("campaign status update failed", map[string]interface{}{"status": string(status), "error": err})
		return false
	}
	if moved {
		campaignTransitionsCounter.WithLabelValues(string(status)).Inc()
	}
	return moved
}

func (d *Dispatcher) releaseLease(campaignID int, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.lease.Release(ctx, campaignID); err != nil {
		log.Warn("lease release failed", map[string]interface{}{"error": err})
	}
}

func (d *Dispatcher) currentStatus(ctx context.Context, fallback *model.Campaign) model.CampaignStatus {
	if c, err := d.campaigns.GetByID(ctx, fallback.ID); err == nil {
		return c.Status
	}
	return fallback.Status
}

func alreadyRunning(c *model.Campaign) *Ack {
	return &Ack{
		CampaignID:     c.ID,
		Accepted:       false,
		AlreadyRunning: true,
		Status:         c.Status,
		Message:        appErrors.ErrAlreadyRunning.Error(),
	}
}
