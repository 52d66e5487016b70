package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

// CampaignFilter narrows ListCampaigns. Zero values match everything.
type CampaignFilter struct {
	TenantID int
	Status   model.CampaignStatus
}

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	CreateWithRecipients(ctx context.Context, c *model.Campaign, customerIDs []int) error
	ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error)
	Delete(ctx context.Context, id int) (bool, error)

	// Status transitions, each conditional on the current status
	TransitionStatus(ctx context.Context, id int, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error)
	Schedule(ctx context.Context, id int, at time.Time) (bool, error)
	Unschedule(ctx context.Context, id int) (bool, error)

	// Cross-process control of running campaigns
	RequestPause(ctx context.Context, id int) (bool, error)
	ControlState(ctx context.Context, id int) (model.CampaignStatus, bool, error)

	// Sweeps
	ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `
	id, tenant_id, offer_id, name, message_template, media_path,
	delay_min_seconds, delay_max_seconds, batch_size, batch_pause_seconds,
	status, total_recipients, sent_count, failed_count,
	scheduled_at, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.OfferID, &c.Name, &c.MessageTemplate, &c.MediaPath,
		&c.Pacing.DelayMinSeconds, &c.Pacing.DelayMaxSeconds, &c.Pacing.BatchSize, &c.Pacing.BatchPauseSeconds,
		&c.Status, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt, &c.StartedAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

// CreateWithRecipients inserts the campaign and one pending task per customer in a single transaction.
// total_recipients is the number of customer ids.
func (r *CampaignRepository) CreateWithRecipients(ctx context.Context, c *model.Campaign, customerIDs []int) error {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.TotalRecipients = len(customerIDs)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO campaigns (
			tenant_id, offer_id, name, message_template, media_path,
			delay_min_seconds, delay_max_seconds, batch_size, batch_pause_seconds,
			status, total_recipients, scheduled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		c.TenantID, c.OfferID, c.Name, c.MessageTemplate, c.MediaPath,
		c.Pacing.DelayMinSeconds, c.Pacing.DelayMaxSeconds, c.Pacing.BatchSize, c.Pacing.BatchPauseSeconds,
		c.Status, c.TotalRecipients, c.ScheduledAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	if len(customerIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipient_tasks (campaign_id, customer_id)
			SELECT $1, unnest($2::int[])
			ON CONFLICT (campaign_id, customer_id) DO NOTHING`,
			c.ID, pq.Array(customerIDs),
		)
		if err != nil {
			return fmt.Errorf("insert recipient tasks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.TenantID > 0 {
		where += fmt.Sprintf(" AND tenant_id=$%d", argPos)
		args = append(args, filter.TenantID)
		argPos++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// Delete removes a campaign and its tasks unless it is sending.
func (r *CampaignRepository) Delete(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND status <> 'sending'`, id)
	if err != nil {
		return false, fmt.Errorf("delete campaign %d: %w", id, err)
	}
	return affected(res)
}

// ====================== Status transitions ======================

// TransitionStatus moves the campaign to `to` only if its current status is one of `from`.
// Entering sending stamps started_at once; entering completed or cancelled stamps completed_at once.
// Any pending pause request is cleared.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, to model.CampaignStatus, from ...model.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition campaign %d to %s: no source status given", id, to)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1,
		    pause_requested = FALSE,
		    updated_at = NOW(),
		    started_at = CASE WHEN $1 = 'sending' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed', 'cancelled') THEN COALESCE(completed_at, NOW()) ELSE completed_at END
		WHERE id = $2 AND status = ANY($3)`,
		string(to), id, pq.Array(statusStrings(from)),
	)
	if err != nil {
		return false, fmt.Errorf("transition campaign %d to %s: %w", id, to, err)
	}
	return affected(res)
}

func (r *CampaignRepository) Schedule(ctx context.Context, id int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = 'scheduled', scheduled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('draft', 'scheduled')`, at, id)
	if err != nil {
		return false, fmt.Errorf("schedule campaign %d: %w", id, err)
	}
	return affected(res)
}

func (r *CampaignRepository) Unschedule(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = 'draft', scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return false, fmt.Errorf("unschedule campaign %d: %w", id, err)
	}
	return affected(res)
}

// ====================== Sweeps ======================

func (r *CampaignRepository) ListIDsByStatus(ctx context.Context, status model.CampaignStatus) ([]int, error) {
	return r.queryIDs(ctx, `SELECT id FROM campaigns WHERE status = $1 ORDER BY id`, status)
}

// ListDueScheduled returns scheduled campaigns whose time has come, oldest first.
func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]int, error) {
	return r.queryIDs(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at, id
		LIMIT $2`, now, limit)
}

func (r *CampaignRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func statusStrings(statuses []model.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

// RequestPause records a pause for whichever process runs the campaign. Only sending campaigns accept one.
func (r *CampaignRepository) RequestPause(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET pause_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`, id)
	if err != nil {
		return false, fmt.Errorf("request pause of campaign %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ControlState is the cheap read a send loop makes between recipients.
func (r *CampaignRepository) ControlState(ctx context.Context, id int) (model.CampaignStatus, bool, error) {
	var status model.CampaignStatus
	var pauseRequested bool
	err := r.DB.QueryRowContext(ctx, `SELECT status, pause_requested FROM campaigns WHERE id = $1`, id).
		Scan(&status, &pauseRequested)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return "", false, fmt.Errorf("read control state of campaign %d: %w", id, err)
	}
	return status, pauseRequested, nil
}
