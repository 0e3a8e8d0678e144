package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// Built on Prometheus, the metrics track:
//   - HTTP request volume and latency
//   - LLM request performance per model
//   - Skill execution counts by terminal status
//   - Policy decisions by action and outcome
//   - Pending approvals and their resolution latency
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SkillExecutions.WithLabelValues("web_search", "success").Inc()
type Metrics struct {
	// HTTPRequests counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec

	// LLMRequests counts model calls.
	// Labels: model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: model
	// Buckets: 0.1s .. 120s (local inference is slow)
	LLMRequestDuration *prometheus.HistogramVec

	// SkillExecutions counts skill pipeline runs by terminal status.
	// Labels: skill, status (success|rate_limited|invalid_params|not_approved|error|sanitize_error)
	SkillExecutions *prometheus.CounterVec

	// SkillExecutionDuration measures skill execution time in seconds.
	// Labels: skill
	SkillExecutionDuration *prometheus.HistogramVec

	// PolicyDecisions counts policy engine outcomes.
	// Labels: action (read|write|execute|http), decision (allow|deny|requires_approval)
	PolicyDecisions *prometheus.CounterVec

	// PendingApprovals is a gauge of currently pending approval records.
	PendingApprovals prometheus.Gauge

	// ApprovalResolutionDuration measures time from creation to resolution.
	// Labels: status (approved|denied|timeout)
	ApprovalResolutionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup; metrics are registered
// with the default registry and served by the promhttp handler.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path"},
		),

		LLMRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_llm_requests_total",
				Help: "Total number of model calls by model and status",
			},
			[]string{"model", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		SkillExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_skill_executions_total",
				Help: "Total number of skill pipeline runs by skill and terminal status",
			},
			[]string{"skill", "status"},
		),

		SkillExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_skill_execution_duration_seconds",
				Help:    "Duration of skill executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"skill"},
		),

		PolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_policy_decisions_total",
				Help: "Total number of policy decisions by action and outcome",
			},
			[]string{"action", "decision"},
		),

		PendingApprovals: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aegis_pending_approvals",
				Help: "Number of approval records currently pending",
			},
		),

		ApprovalResolutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_approval_resolution_duration_seconds",
				Help:    "Time from approval creation to resolution in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
	}
}
