// Package metrics exposes Prometheus instruments for license verification
// and administration.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "licensegate"

// PrometheusMetrics holds the registered instruments.
type PrometheusMetrics struct {
	VerificationCounter  *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	FaultCounter         *prometheus.CounterVec
	StatusChangeCounter  *prometheus.CounterVec
	LicenseGauge         *prometheus.GaugeVec
	SnapshotRefreshes    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the instruments and registers them on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		VerificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "License verifications by outcome and denial reason.",
		}, []string{"outcome", "reason"}),
		VerificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time spent on lookup, decision and audit append.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),
		FaultCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_faults_total",
			Help:      "Verifications that failed with a storage or integrity fault.",
		}, []string{"kind"}),
		StatusChangeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_status_changes_total",
			Help:      "Operator status changes by target status.",
		}, []string{"status"}),
		LicenseGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "licenses",
			Help:      "License records by status at the last dashboard refresh.",
		}, []string{"status"}),
		SnapshotRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_refreshes_total",
			Help:      "Dashboard snapshot refreshes by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.VerificationCounter,
		m.VerificationDuration,
		m.FaultCounter,
		m.StatusChangeCounter,
		m.LicenseGauge,
		m.SnapshotRefreshes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// RecordVerification counts one verdict and observes its duration.
func (m *PrometheusMetrics) RecordVerification(allowed bool, reason string, d time.Duration) {
	o := outcome(allowed)
	m.VerificationCounter.WithLabelValues(o, reason).Inc()
	m.VerificationDuration.WithLabelValues(o).Observe(d.Seconds())
}

// RecordFault counts a verification that produced no verdict.
func (m *PrometheusMetrics) RecordFault(kind string) {
	m.FaultCounter.WithLabelValues(kind).Inc()
}

// RecordStatusChange counts an operator status toggle.
func (m *PrometheusMetrics) RecordStatusChange(status string) {
	m.StatusChangeCounter.WithLabelValues(status).Inc()
}

// SetLicenseCounts updates the license gauge.
func (m *PrometheusMetrics) SetLicenseCounts(active, suspended int) {
	m.LicenseGauge.WithLabelValues("active").Set(float64(active))
	m.LicenseGauge.WithLabelValues("suspended").Set(float64(suspended))
}

// RecordRefresh counts a dashboard refresh.
func (m *PrometheusMetrics) RecordRefresh(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SnapshotRefreshes.WithLabelValues(result).Inc()
}
