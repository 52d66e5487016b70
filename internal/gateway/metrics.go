package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "padaria",
		Name:      "gateway_request_duration_seconds",
		Help:      "Duration of requests to the WhatsApp gateway.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"}, // outcome: ok, rejected, unavailable, disconnected
)

func observe(operation, outcome string, start time.Time) {
	requestDurationHist.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
