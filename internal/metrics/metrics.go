// Package metrics holds the Prometheus metrics of the registration core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations      *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
	Cancellations      prometheus.Counter
	Promotions         prometheus.Counter
	CapacityRaces      prometheus.Counter
	LedgerDuration     *prometheus.HistogramVec
	AttendanceMarks    prometheus.Counter
	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter
	Subscribers        prometheus.Gauge
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_registrations_total",
			Help: "Registrations created, by resulting status",
		}, []string{"status"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_registration_rejections_total",
			Help: "Registration attempts rejected, by reason",
		}, []string{"reason"}),
		Cancellations: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_cancellations_total",
			Help: "Registrations cancelled",
		}),
		Promotions: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_waitlist_promotions_total",
			Help: "Waitlisted registrations promoted to confirmed",
		}),
		CapacityRaces: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_capacity_races_total",
			Help: "Conditional seat increments that found no free seat",
		}),
		LedgerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campus_ledger_operation_duration_seconds",
			Help:    "Latency of ledger operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		AttendanceMarks: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_attendance_marks_total",
			Help: "Attendance marks written",
		}),
		BroadcastDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_broadcast_delivered_total",
			Help: "Notifications queued to live subscribers",
		}),
		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "campus_broadcast_dropped_total",
			Help: "Notifications dropped because a subscriber buffer was full or the relay was unavailable",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "campus_broadcast_subscribers",
			Help: "Live broadcast subscriptions",
		}),
	}
}

func (m *Metrics) IncRegistration(status string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncCancellation() {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
}

func (m *Metrics) IncPromotion() {
	if m == nil {
		return
	}
	m.Promotions.Inc()
}

func (m *Metrics) IncCapacityRace() {
	if m == nil {
		return
	}
	m.CapacityRaces.Inc()
}

// ObserveLedger records how long a ledger operation took since start.
func (m *Metrics) ObserveLedger(op string, start time.Time) {
	if m == nil {
		return
	}
	m.LedgerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddAttendanceMarks(n int) {
	if m == nil {
		return
	}
	m.AttendanceMarks.Add(float64(n))
}

func (m *Metrics) AddDelivered(n int) {
	if m == nil {
		return
	}
	m.BroadcastDelivered.Add(float64(n))
}

func (m *Metrics) AddDropped(n int) {
	if m == nil {
		return
	}
	m.BroadcastDropped.Add(float64(n))
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}
