// Package metrics provides Prometheus metrics for the license server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keygate/keygate/internal/license"
)

// StatusError labels validations that failed with an infrastructure error.
const StatusError = "error"

// Login results for AdminLogins.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// Metrics holds the registered collectors.
type Metrics struct {
	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	AdminLogins        *prometheus.CounterVec
	AdminSessions      prometheus.Gauge
	Licenses           *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_validations_total",
			Help: "License validations by outcome.",
		}, []string{"status"}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_validation_duration_seconds",
			Help:    "Time spent deciding a validation outcome.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AdminLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_admin_logins_total",
			Help: "Admin login attempts by result.",
		}, []string{"result"}),
		AdminSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keygate_admin_sessions",
			Help: "Registered admin sessions, including expired ones not yet swept.",
		}),
		Licenses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keygate_licenses",
			Help: "License counts by state.",
		}, []string{"state"}),
	}

	collectors := []prometheus.Collector{
		m.Validations, m.ValidationDuration, m.AdminLogins, m.AdminSessions, m.Licenses,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	// Pre-create the outcome series so dashboards see zeros.
	for _, status := range license.Statuses() {
		m.Validations.WithLabelValues(string(status))
	}
	m.Validations.WithLabelValues(StatusError)
	m.AdminLogins.WithLabelValues(LoginSuccess)
	m.AdminLogins.WithLabelValues(LoginFailure)

	return m, nil
}

// RecordValidation counts one validation and its latency. A non-nil err is
// counted under StatusError.
func (m *Metrics) RecordValidation(status license.Status, err error, elapsed time.Duration) {
	label := string(status)
	if err != nil {
		label = StatusError
	}
	m.Validations.WithLabelValues(label).Inc()
	m.ValidationDuration.Observe(elapsed.Seconds())
}

// RecordLogin counts an admin login attempt.
func (m *Metrics) RecordLogin(success bool) {
	if success {
		m.AdminLogins.WithLabelValues(LoginSuccess).Inc()
		return
	}
	m.AdminLogins.WithLabelValues(LoginFailure).Inc()
}

// SetAdminSessions sets the session gauge.
func (m *Metrics) SetAdminSessions(n int) {
	m.AdminSessions.Set(float64(n))
}

// SetLicenseStats publishes aggregate license counts.
func (m *Metrics) SetLicenseStats(stats *license.Stats) {
	m.Licenses.WithLabelValues("total").Set(float64(stats.Total))
	m.Licenses.WithLabelValues("active").Set(float64(stats.Active))
	m.Licenses.WithLabelValues("bound").Set(float64(stats.Bound))
	m.Licenses.WithLabelValues("online").Set(float64(stats.Online))
}
