package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "padaria",
			Name:      "campaign_messages_total",
			Help:      "Recipient tasks processed by campaign dispatch loops.",
		},
		[]string{"outcome", "kind"}, // outcome: sent, failed; kind: text, media
	)

	campaignTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "padaria",
			Name:      "campaign_transitions_total",
			Help:      "Campaign status transitions made by the dispatcher.",
		},
		[]string{"status"},
	)

	activeCampaignsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "padaria",
			Name:      "campaigns_active",
			Help:      "Campaign dispatch loops running in this process.",
		},
	)

	schedulerStartedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "padaria",
			Name:      "scheduler_campaigns_started_total",
			Help:      "Scheduled campaigns the scheduler attempted to start.",
		},
		[]string{"result"}, // started, already_running, error
	)

	reconciledCampaignsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "padaria",
			Name:      "reconciled_campaigns_total",
			Help:      "Orphaned sending campaigns moved to paused at startup.",
		},
	)
)
