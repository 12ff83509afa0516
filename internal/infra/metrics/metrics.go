package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lead_email_automation/internal/app"
	"lead_email_automation/internal/domain/automation"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sweep metrics
	EmailsTotal      *prometheus.CounterVec
	SweepsTotal      prometheus.Counter
	SweepDuration    prometheus.Histogram
	SweepOutcomes    *prometheus.CounterVec
	LastSweepSuccess prometheus.Gauge
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		EmailsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_emails_total",
				Help: "Automation emails attempted, by stage, template and result",
			},
			[]string{"stage", "email_type", "result"},
		),
		SweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "automation_sweeps_total",
			Help: "Total number of due-email sweeps",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_sweep_duration_seconds",
			Help:    "Wall time of a due-email sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		SweepOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_sweep_records_total",
				Help: "Records handled by sweeps, by outcome",
			},
			[]string{"outcome"}, // sent, failed, skipped, conflict, deferred, error
		),
		LastSweepSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "automation_last_sweep_timestamp_seconds",
			Help: "Unix time of the last sweep that finished without storage errors",
		}),
	}
}

// EmailAttempted implements app.SweepObserver.
func (m *Metrics) EmailAttempted(stage automation.Stage, emailType string, success bool) {
	result := "failed"
	if success {
		result = "sent"
	}
	m.EmailsTotal.WithLabelValues(string(stage), emailType, result).Inc()
}

// SweepFinished implements app.SweepObserver.
func (m *Metrics) SweepFinished(s app.SweepSummary, elapsed time.Duration) {
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(elapsed.Seconds())
	for outcome, n := range map[string]int{
		"sent":     s.Sent,
		"failed":   s.Failed,
		"skipped":  s.Skipped,
		"conflict": s.Conflicts,
		"deferred": s.Deferred,
		"error":    s.Errors,
	} {
		if n > 0 {
			m.SweepOutcomes.WithLabelValues(outcome).Add(float64(n))
		}
	}
	if s.Errors == 0 {
		m.LastSweepSuccess.SetToCurrentTime()
	}
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path() // route pattern, not the raw URL
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			m.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
			m.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
