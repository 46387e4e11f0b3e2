// Package telemetry exports run metrics in the Prometheus format.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/providers"
)

// Metrics holds the collectors. It implements engine.Hook.
type Metrics struct {
	engine.NopHook

	registry        *prometheus.Registry
	runs            *prometheus.CounterVec
	steps           prometheus.Counter
	providerLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	contextTokens   prometheus.Gauge
	toolCalls       *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	sequenceRepairs prometheus.Counter
	checkpointSaves *prometheus.CounterVec
	providerRetries *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetrunner_runs_total",
			Help: "Finished runs by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetrunner_steps_total",
			Help: "Loop iterations started.",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetrunner_provider_request_seconds",
			Help:    "Provider call latency including retries.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetrunner_tokens_total",
			Help: "Tokens reported by the provider.",
		}, []string{"direction"}),
		contextTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetrunner_context_tokens",
			Help: "Input tokens of the most recent provider call.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetrunner_tool_calls_total",
			Help: "Executed tool calls.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetrunner_tool_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		sequenceRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetrunner_sequence_repairs_total",
			Help: "Tool-call pairing repairs applied before sending.",
		}),
		checkpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetrunner_checkpoints_saved_total",
			Help: "Checkpoints written by reason.",
		}, []string{"reason"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetrunner_provider_retries_total",
			Help: "Provider retries by error class.",
		}, []string{"class"}),
	}

	m.registry.MustRegister(
		m.runs, m.steps, m.providerLatency, m.tokens, m.contextTokens,
		m.toolCalls, m.toolLatency, m.sequenceRepairs, m.checkpointSaves, m.providerRetries,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OnStepStart(context.Context, *engine.RunState) { m.steps.Inc() }

func (m *Metrics) OnAfterProvider(_ context.Context, _ *engine.RunState, r engine.Response, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(r.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(r.Usage.OutputTokens))
	m.contextTokens.Set(float64(r.Usage.InputTokens))
}

func (m *Metrics) OnToolResult(_ context.Context, _ *engine.RunState, c engine.ToolCall, r engine.ToolResult, elapsed time.Duration) {
	status := "ok"
	if r.IsError {
		status = "error"
	}
	m.toolCalls.WithLabelValues(c.Name, status).Inc()
	m.toolLatency.WithLabelValues(c.Name).Observe(elapsed.Seconds())
}

func (m *Metrics) OnSequenceRepaired(_ context.Context, _ *engine.RunState, repairs int) {
	m.sequenceRepairs.Add(float64(repairs))
}

func (m *Metrics) OnCheckpointSaved(_ context.Context, _ *engine.RunState, reason string) {
	m.checkpointSaves.WithLabelValues(reason).Inc()
}

func (m *Metrics) OnDone(_ context.Context, _ *engine.RunState, report engine.Report) {
	m.runs.WithLabelValues(string(report.Outcome)).Inc()
}

// RetryObserver counts provider retries. Pass it to providers.NewRetrying.
func (m *Metrics) RetryObserver() providers.RetryObserver {
	return func(_ int, _ time.Duration, err error) {
		m.providerRetries.WithLabelValues(retryClass(err)).Inc()
	}
}

func retryClass(err error) string {
	var (
		rl  *providers.RateLimitError
		api *providers.APIError
		tr  *providers.TransportError
	)
	switch {
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.As(err, &api):
		return "api"
	case errors.As(err, &tr):
		return "transport"
	default:
		return "other"
	}
}
