// Package monitoring wires Prometheus metrics and a small status HTTP
// server around the engine. It never touches engine state directly; it
// only observes Snapshots, pushed to Metrics via Coordinator.Subscribe or
// pulled by Server from a SnapshotSource.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/egorovli/ekonsulat-engine/pkg/types"
)

// Metrics manages the Prometheus collectors the engine exercises: search
// and reservation attempts, classified errors, and CAPTCHA outcomes.
type Metrics struct {
	searchAttempts      prometheus.Counter
	reservationAttempts prometheus.Counter
	errorsByClass       *prometheus.CounterVec
	captchaSolved       prometheus.Counter
	captchaFailed       prometheus.Counter
	captchaSolveTime    prometheus.Histogram
	reservationOutcome  *prometheus.CounterVec
	phaseGauge          *prometheus.GaugeVec

	namespace string
}

// Config configures namespace/subsystem labelling and the metrics server.
type Config struct {
	Namespace     string
	Subsystem     string
	ListenAddress string
}

// NewMetrics registers every collector with the default Prometheus registry.
func NewMetrics(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "ekonsulat"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "engine"
	}

	m := &Metrics{namespace: cfg.Namespace}

	m.searchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "search_attempts_total", Help: "Total number of search-loop iterations.",
	})
	m.reservationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "reservation_attempts_total", Help: "Total number of booking-loop reservation attempts.",
	})
	m.errorsByClass = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "errors_total", Help: "Total classified errors, by class.",
	}, []string{"class"})
	m.captchaSolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "captcha_solved_total", Help: "Total number of CAPTCHAs successfully verified.",
	})
	m.captchaFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "captcha_failed_total", Help: "Total number of CAPTCHA solve/verify failures.",
	})
	m.captchaSolveTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "captcha_solve_duration_seconds", Help: "Running average CAPTCHA fetch-solve-verify duration in seconds, observed after each new success.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	})
	m.reservationOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "reservation_outcome_total", Help: "Reservations by outcome; only the success outcome is recorded.",
	}, []string{"outcome"})
	m.phaseGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "phase", Help: "1 for the engine's current phase, 0 otherwise.",
	}, []string{"phase"})

	return m
}

// Observe updates every gauge/counter derivable from a single snapshot
// delta. It is meant to be passed, or wrapped, into Coordinator.Subscribe.
func (m *Metrics) Observe(prev, cur types.Snapshot) {
	if cur.Search.Attempts > prev.Search.Attempts {
		m.searchAttempts.Add(float64(cur.Search.Attempts - prev.Search.Attempts))
	}
	if cur.Reservation.Attempts > prev.Reservation.Attempts {
		m.reservationAttempts.Add(float64(cur.Reservation.Attempts - prev.Reservation.Attempts))
	}
	if cur.Stats.CaptchaSuccesses > prev.Stats.CaptchaSuccesses {
		m.captchaSolved.Add(float64(cur.Stats.CaptchaSuccesses - prev.Stats.CaptchaSuccesses))
		m.captchaSolveTime.Observe(cur.Stats.AvgCaptchaSolveDuration().Seconds())
	}
	if cur.Stats.CaptchaFailures > prev.Stats.CaptchaFailures {
		m.captchaFailed.Add(float64(cur.Stats.CaptchaFailures - prev.Stats.CaptchaFailures))
	}
	for class, count := range cur.Stats.ErrorCountsByClass {
		if count > prev.Stats.ErrorCountsByClass[class] {
			m.errorsByClass.WithLabelValues(class).Add(float64(count - prev.Stats.ErrorCountsByClass[class]))
		}
	}

	for _, phase := range []types.Phase{types.PhaseParams, types.PhaseSearching, types.PhaseBooking, types.PhaseSuccess} {
		v := 0.0
		if cur.Phase == phase {
			v = 1.0
		}
		m.phaseGauge.WithLabelValues(string(phase)).Set(v)
	}

	if prev.Phase != types.PhaseSuccess && cur.Phase == types.PhaseSuccess {
		m.reservationOutcome.WithLabelValues("success").Inc()
	}
}

// Handler returns the standard Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
