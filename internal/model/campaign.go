// internal/model/campaign.go
package model

import (
	"math"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignError     CampaignStatus = "error"
)

// IsTerminal reports whether no further transition is possible.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused,
		CampaignCompleted, CampaignCancelled, CampaignError:
		return true
	}
	return false
}

// Pacing holds the anti-ban send cadence of a campaign, in seconds.
type Pacing struct {
	DelayMinSeconds   int `db:"delay_min_seconds" json:"delay_min_seconds"`
	DelayMaxSeconds   int `db:"delay_max_seconds" json:"delay_max_seconds"`
	BatchSize         int `db:"batch_size" json:"batch_size"`
	BatchPauseSeconds int `db:"batch_pause_seconds" json:"batch_pause_seconds"`
}

type Campaign struct {
	ID              int            `db:"id" json:"id"`
	TenantID        int            `db:"tenant_id" json:"tenant_id"`
	OfferID         *int           `db:"offer_id" json:"offer_id,omitempty"`
	Name            string         `db:"name" json:"name"`
	MessageTemplate string         `db:"message_template" json:"message_template"`
	MediaPath       string         `db:"media_path" json:"media_path,omitempty"`
	Pacing          Pacing         `json:"pacing"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// HasMedia reports whether an image should be attached to every message.
func (c *Campaign) HasMedia() bool {
	return c.MediaPath != ""
}

// Progress is sent/total as a percentage rounded to one decimal; 0 when there are no recipients.
func (c *Campaign) Progress() float64 {
	return Progress(c.SentCount, c.TotalRecipients)
}

func Progress(sent, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.RoundToEven(float64(sent)/float64(total)*1000) / 10
}
