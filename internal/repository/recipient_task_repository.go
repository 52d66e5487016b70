package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/model"
)

// RecipientTaskRepositoryInterface is the durable, ordered recipient queue of a campaign.
// MarkSent and MarkFailed return false, without error, when the task was already terminal.
type RecipientTaskRepositoryInterface interface {
	PendingTasks(ctx context.Context, campaignID int) ([]*model.RecipientTask, error)
	MarkInProgress(ctx context.Context, taskID int) (bool, error)
	MarkSent(ctx context.Context, taskID int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, taskID int, lastError string) (bool, error)

	ListByCampaign(ctx context.Context, campaignID int, status model.TaskStatus, offset, limit int) ([]*model.RecipientTask, int, error)
	Stats(ctx context.Context, campaignID int) (map[model.TaskStatus]int, error)
	FailInterrupted(ctx context.Context, campaignID int, lastError string) (int, error)
}

type RecipientTaskRepository struct {
	DB *sql.DB
}

const taskSelect = `
	SELECT t.id, t.campaign_id, t.customer_id, cu.name, cu.phone,
	       t.status, t.last_error, t.sent_at, t.created_at, t.updated_at
	FROM recipient_tasks t
	JOIN customers cu ON cu.id = t.customer_id`

func scanTask(row rowScanner) (*model.RecipientTask, error) {
	var t model.RecipientTask
	err := row.Scan(
		&t.ID, &t.CampaignID, &t.CustomerID, &t.CustomerName, &t.Phone,
		&t.Status, &t.LastError, &t.SentAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PendingTasks returns the campaign's pending tasks in insertion order.
func (r *RecipientTaskRepository) PendingTasks(ctx context.Context, campaignID int) ([]*model.RecipientTask, error) {
	rows, err := r.DB.QueryContext(ctx, taskSelect+`
		WHERE t.campaign_id = $1 AND t.status = 'pending'
		ORDER BY t.id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("pending tasks for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	tasks := []*model.RecipientTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *RecipientTaskRepository) MarkInProgress(ctx context.Context, taskID int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE recipient_tasks SET status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, taskID)
	if err != nil {
		return false, fmt.Errorf("mark task %d in progress: %w", taskID, err)
	}
	return affected(res)
}

// MarkSent records the outcome and bumps sent_count in one statement.
func (r *RecipientTaskRepository) MarkSent(ctx context.Context, taskID int, at time.Time) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		WITH task AS (
			UPDATE recipient_tasks
			SET status = 'sent', sent_at = $2, last_error = '', updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'in_progress')
			RETURNING campaign_id
		), counter AS (
			UPDATE campaigns c
			SET sent_count = c.sent_count + 1, updated_at = NOW()
			FROM task
			WHERE c.id = task.campaign_id AND c.sent_count + c.failed_count < c.total_recipients
			RETURNING c.id
		)
		SELECT COUNT(*) FROM task`, taskID, at).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mark task %d sent: %w", taskID, err)
	}
	return n > 0, nil
}

// MarkFailed records the failure reason and bumps failed_count in one statement.
func (r *RecipientTaskRepository) MarkFailed(ctx context.Context, taskID int, lastError string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		WITH task AS (
			UPDATE recipient_tasks
			SET status = 'failed', last_error = $2, updated_at = NOW()
			WHERE id = $1 AND status IN ('pending', 'in_progress')
			RETURNING campaign_id
		), counter AS (
			UPDATE campaigns c
			SET failed_count = c.failed_count + 1, updated_at = NOW()
			FROM task
			WHERE c.id = task.campaign_id AND c.sent_count + c.failed_count < c.total_recipients
			RETURNING c.id
		)
		SELECT COUNT(*) FROM task`, taskID, lastError).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mark task %d failed: %w", taskID, err)
	}
	return n > 0, nil
}

func (r *RecipientTaskRepository) ListByCampaign(ctx context.Context, campaignID int, status model.TaskStatus, offset, limit int) ([]*model.RecipientTask, int, error) {
	where := ` WHERE t.campaign_id = $1`
	args := []interface{}{campaignID}
	if status != "" {
		where += ` AND t.status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipient_tasks t`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks for campaign %d: %w", campaignID, err)
	}

	query := taskSelect + where + fmt.Sprintf(" ORDER BY t.id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	tasks := []*model.RecipientTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// Stats counts tasks per status. Every status is present in the result.
func (r *RecipientTaskRepository) Stats(ctx context.Context, campaignID int) (map[model.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM recipient_tasks WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.TaskStatus]int{
		model.TaskPending:    0,
		model.TaskInProgress: 0,
		model.TaskSent:       0,
		model.TaskFailed:     0,
	}
	for rows.Next() {
		var status model.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// FailInterrupted fails every in_progress task of the campaign and adds them to failed_count.
func (r *RecipientTaskRepository) FailInterrupted(ctx context.Context, campaignID int, lastError string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		WITH failed AS (
			UPDATE recipient_tasks
			SET status = 'failed', last_error = $2, updated_at = NOW()
			WHERE campaign_id = $1 AND status = 'in_progress'
			RETURNING id
		), counter AS (
			UPDATE campaigns
			SET failed_count = LEAST(failed_count + (SELECT COUNT(*) FROM failed), total_recipients - sent_count),
			    updated_at = NOW()
			WHERE id = $1
			RETURNING id
		)
		SELECT COUNT(*) FROM failed`, campaignID, lastError).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted tasks of campaign %d: %w", campaignID, err)
	}
	return n, nil
}

var _ RecipientTaskRepositoryInterface = (*RecipientTaskRepository)(nil)
