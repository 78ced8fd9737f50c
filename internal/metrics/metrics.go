package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Messages          *prometheus.CounterVec
	ParseAttempts     prometheus.Counter
	InferenceRequests *prometheus.CounterVec
	CalendarSyncs     *prometheus.CounterVec
	RemindersCreated  prometheus.Counter
	Pushes            *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
}

// NewMetrics registers the pipeline metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_event_relay_messages_total",
			Help: "Inbound messages handled by the ingestor, by outcome",
		}, []string{"outcome"}),
		ParseAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "smart_event_relay_parse_attempts_total",
			Help: "Total number of per-message parse attempts",
		}),
		InferenceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_event_relay_inference_requests_total",
			Help: "Fallback inference calls, by result",
		}, []string{"result"}),
		CalendarSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_event_relay_calendar_syncs_total",
			Help: "Calendar sync attempts, by result",
		}, []string{"result"}),
		RemindersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "smart_event_relay_reminders_created_total",
			Help: "Total number of reminders scheduled",
		}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_event_relay_push_total",
			Help: "Push notification attempts, by result",
		}, []string{"result"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smart_event_relay_cycle_duration_seconds",
			Help:    "Time spent in one batch cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"cycle"}),
	}
}
