package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClientRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "client_requests_total",
		Help:      "Outbound calls to managed services by final outcome",
	}, []string{"service", "method", "outcome"})

	ClientAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "client_attempts_total",
		Help:      "Individual HTTP attempts, retries included",
	}, []string{"service"})

	ClientRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "client_retries_total",
		Help:      "Backoff waits taken after a failed attempt",
	}, []string{"service"})

	ClientDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "noteparser",
		Name:      "client_call_duration_seconds",
		Help:      "End-to-end call latency including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"service", "method"})

	ServiceHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "noteparser",
		Name:      "service_healthy",
		Help:      "Last cached health check result (1 healthy, 0 unhealthy)",
	}, []string{"service"})

	ClientHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "noteparser",
		Name:      "client_healthy",
		Help:      "Last client probe result (1 healthy, 0 unhealthy)",
	}, []string{"client"})

	HealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "health_checks_total",
		Help:      "Health checks run by the monitor loop",
	}, []string{"service", "result"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "noteparser",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Per-stage pipeline latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage"})

	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "pipeline_errors_total",
		Help:      "Pipeline aborts by stage and reason",
	}, []string{"stage", "reason"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "http_requests_total",
		Help:      "API requests by route and status code",
	}, []string{"route", "code"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter",
	}, []string{"path"})

	WorkflowStepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "noteparser",
		Name:      "workflow_step_errors_total",
		Help:      "Integration workflow steps recorded as *_error",
	}, []string{"workflow", "service"})
)

// BoolGauge converts a health flag to a gauge value.
func BoolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
