// internal/model/recipient_task.go
package model

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskSent       TaskStatus = "sent"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskSent || s == TaskFailed
}

// RecipientTask is the per-customer unit of work within a campaign.
// CustomerName and Phone are joined from customers when the task is read.
type RecipientTask struct {
	ID           int        `db:"id" json:"id"`
	CampaignID   int        `db:"campaign_id" json:"campaign_id"`
	CustomerID   int        `db:"customer_id" json:"customer_id"`
	CustomerName string     `db:"customer_name" json:"customer_name"`
	Phone        string     `db:"phone" json:"phone"`
	Status       TaskStatus `db:"status" json:"status"`
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
