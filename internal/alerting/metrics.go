package alerting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters to Prometheus
type Metrics struct {
	AlertsCreated        *prometheus.CounterVec
	AlertsDeduplicated   prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	NotificationRetries  prometheus.Counter
	Escalations          prometheus.Counter
	EvaluationErrors     prometheus.Counter
}

// NewMetrics registers engine counters with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AlertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "alerts_created_total",
			Help:      "Number of alerts inserted into the store, by severity.",
		}, []string{"severity"}),
		AlertsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "alerts_deduplicated_total",
			Help:      "Number of alert signals collapsed into an existing record.",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "notifications_sent_total",
			Help:      "Number of successful channel deliveries, by channel type.",
		}, []string{"channel"}),
		NotificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "notification_failures_total",
			Help:      "Number of failed channel deliveries, by channel type.",
		}, []string{"channel"}),
		NotificationRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "notification_retries_total",
			Help:      "Number of delivery retries scheduled.",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "escalations_total",
			Help:      "Number of escalation level advances.",
		}),
		EvaluationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sitewatch",
			Subsystem: "alerting",
			Name:      "evaluation_errors_total",
			Help:      "Number of rule evaluation failures.",
		}),
	}
}
