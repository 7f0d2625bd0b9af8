package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	turnRounds   prometheus.Histogram
	nudgeTotal   prometheus.Counter

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelFailoverTotal *prometheus.CounterVec
	modelCooldown     *prometheus.GaugeVec

	trimTotal         *prometheus.CounterVec
	prunedMessagesTotal prometheus.Counter

	queueWaitDuration prometheus.Histogram
	queueDepth        prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	sandboxExecTotal    *prometheus.CounterVec
	sandboxExecDuration prometheus.Histogram
	sandboxContainers   *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by effective model and status.",
				},
				[]string{"model", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by effective model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			turnRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_rounds",
					Help:    "Tool-call rounds consumed per turn.",
					Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20, 24},
				},
			),
			nudgeTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "turn_nudges_total",
					Help: "Total anti-stall nudges injected.",
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model invocations by model and status.",
				},
				[]string{"model", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model invocation duration in seconds by model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			modelFailoverTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_failover_total",
					Help: "Total failovers away from a model.",
				},
				[]string{"model"},
			),
			modelCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "model_cooldown_active",
					Help: "Model cooldown active state (1 active, 0 inactive).",
				},
				[]string{"model"},
			),
			trimTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_result_trim_total",
					Help: "Total tool-result trims by level.",
				},
				[]string{"level"},
			),
			prunedMessagesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_pruned_messages_total",
					Help: "Total older tool-result messages replaced by placeholders.",
				},
			),
			queueWaitDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "run_queue_wait_seconds",
					Help:    "Admission queue wait duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			queueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "run_queue_depth",
					Help: "Turns currently waiting for admission.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			sandboxExecTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sandbox_exec_total",
					Help: "Total sandbox command executions by status.",
				},
				[]string{"status"},
			),
			sandboxExecDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sandbox_exec_duration_seconds",
					Help:    "Sandbox command duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sandboxContainers: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sandbox_containers_total",
					Help: "Sandbox container lifecycle operations by kind (created, restarted, stopped).",
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.turnRounds,
			m.nudgeTotal,
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelFailoverTotal,
			m.modelCooldown,
			m.trimTotal,
			m.prunedMessagesTotal,
			m.queueWaitDuration,
			m.queueDepth,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.sandboxExecTotal,
			m.sandboxExecDuration,
			m.sandboxContainers,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler exposes the default registry for an embedding service to mount.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(model string, duration time.Duration, rounds int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.turnTotal.WithLabelValues(model, status).Inc()
	m.turnDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.turnRounds.Observe(float64(rounds))
}

func RecordNudge() {
	getMetrics().nudgeTotal.Inc()
}

func RecordModelCall(model string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(model, status).Inc()
	m.modelCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordFailover(model string) {
	getMetrics().modelFailoverTotal.WithLabelValues(model).Inc()
}

func SetModelCooldown(model string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().modelCooldown.WithLabelValues(model).Set(value)
}

func RecordTrim(level string) {
	getMetrics().trimTotal.WithLabelValues(level).Inc()
}

func RecordPrunedMessages(count int) {
	if count <= 0 {
		return
	}
	getMetrics().prunedMessagesTotal.Add(float64(count))
}

func RecordQueueWait(duration time.Duration) {
	getMetrics().queueWaitDuration.Observe(duration.Seconds())
}

func SetQueueDepth(depth int) {
	getMetrics().queueDepth.Set(float64(depth))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordSandboxExec(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sandboxExecTotal.WithLabelValues(status).Inc()
	m.sandboxExecDuration.Observe(duration.Seconds())
}

func RecordSandboxContainer(kind string) {
	getMetrics().sandboxContainers.WithLabelValues(kind).Inc()
}
