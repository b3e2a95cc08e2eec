package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for report ingestion, store access and notification cycles
var (
	ReportsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "road_reports_submitted_total",
			Help: "Total number of report submissions by decision status",
		},
		[]string{"status"},
	)

	ReportsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "road_reports_rejected_total",
			Help: "Total number of report submissions that failed, by reason",
		},
		[]string{"reason"},
	)

	StoreCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "road_report_store_call_duration_seconds",
			Help:    "Duration of report store calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	NotificationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "road_notification_cycles_total",
			Help: "Total number of notification cycles by result",
		},
		[]string{"result"},
	)

	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "road_notifications_sent_total",
			Help: "Total number of alert sends by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	ReportsNotifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "road_reports_notified_total",
			Help: "Total number of reports stamped as notified",
		},
	)

	NotificationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "road_notification_cycle_duration_seconds",
			Help:    "Duration of notification cycles",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Calling it more than once is a no-op.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ReportsSubmittedTotal)
		prometheus.MustRegister(ReportsRejectedTotal)
		prometheus.MustRegister(StoreCallDuration)
		prometheus.MustRegister(NotificationCyclesTotal)
		prometheus.MustRegister(NotificationsSentTotal)
		prometheus.MustRegister(ReportsNotifiedTotal)
		prometheus.MustRegister(NotificationCycleDuration)
	})
}
