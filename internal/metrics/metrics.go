// Package metrics exposes Prometheus metrics of the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Steps         *prometheus.CounterVec
	StepLatency   *prometheus.HistogramVec
	Updates       *prometheus.CounterVec
	UpdateLatency *prometheus.HistogramVec
	SMS           *prometheus.CounterVec
	Registrations *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drawbot_steps_total",
			Help: "Registration steps by state and outcome",
		}, []string{"step", "outcome"}), // outcome: advanced, rejected, fail

		StepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drawbot_step_duration_seconds",
			Help:    "Duration of a registration step including external calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"step"}),

		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drawbot_updates_total",
			Help: "Telegram updates handled by kind and status",
		}, []string{"kind", "status"}),

		UpdateLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drawbot_update_duration_seconds",
			Help:    "Time spent handling a Telegram update",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		SMS: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drawbot_sms_total",
			Help: "Confirmation SMS by final delivery state",
		}, []string{"state"}),

		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drawbot_registrations_total",
			Help: "Finished conversations by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveStep records one registration step.
func (m *Metrics) ObserveStep(step, outcome string, d time.Duration) {
	if m != nil {
		m.Steps.WithLabelValues(step, outcome).Inc()
		m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
	}
}

// ObserveUpdate records one handled update.
func (m *Metrics) ObserveUpdate(kind string, d time.Duration, err error) {
	if m != nil {
		status := "ok"
		if err != nil {
			status = "fail"
		}
		m.Updates.WithLabelValues(kind, status).Inc()
		m.UpdateLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordSMS counts a confirmation SMS by its final state.
func (m *Metrics) RecordSMS(state string) {
	if m != nil {
		m.SMS.WithLabelValues(state).Inc()
	}
}

// RecordRegistration counts a finished conversation.
func (m *Metrics) RecordRegistration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}
