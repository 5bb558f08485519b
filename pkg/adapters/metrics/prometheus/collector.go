package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	inputsRouted      *prometheus.CounterVec
	sessionsFinished  *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	phasesExecuted    *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	halts             *prometheus.CounterVec
	progressEvents    *prometheus.CounterVec
	activeWorkflows   prometheus.Gauge
	llmCalls          *prometheus.CounterVec
	llmTokens         *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	sweepEvictions    *prometheus.CounterVec
	triggersProcessed *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer to expose metrics on /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		inputsRouted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_inputs_routed_total",
				Help: "Total number of inputs routed to a team",
			},
			[]string{"team", "method"},
		),
		sessionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_sessions_finished_total",
				Help: "Total number of supervisor sessions that reached a terminal status",
			},
			[]string{"status"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teamflow_session_duration_seconds",
				Help:    "Supervisor session duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		phasesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_phases_executed_total",
				Help: "Total number of master workflow phase executions",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teamflow_phase_duration_seconds",
				Help:    "Master workflow phase duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_phase_transitions_total",
				Help: "Total number of phase transitions",
			},
			[]string{"from", "to"},
		),
		halts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_workflow_halts_total",
				Help: "Total number of master workflows halted awaiting an external event",
			},
			[]string{"phase"},
		),
		progressEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_progress_events_total",
				Help: "Total number of progress events emitted",
			},
			[]string{"status"},
		),
		activeWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teamflow_active_workflows",
				Help: "Number of master workflows currently executing a phase",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teamflow_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
		sweepEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_sweep_evictions_total",
				Help: "Total number of records evicted by the cleanup sweep",
			},
			[]string{"kind"},
		),
		triggersProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teamflow_triggers_processed_total",
				Help: "Total number of bus triggers processed by the worker pool",
			},
			[]string{"type", "status"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teamflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teamflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "teamflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordInputRouted records a routing decision
func (c *Collector) RecordInputRouted(team, method string) {
	c.inputsRouted.WithLabelValues(team, method).Inc()
}

// RecordSessionFinished records a supervisor session reaching a terminal status
func (c *Collector) RecordSessionFinished(status string, duration time.Duration) {
	c.sessionsFinished.WithLabelValues(status).Inc()
	c.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhaseExecuted records a master workflow phase execution
func (c *Collector) RecordPhaseExecuted(phase, status string, duration time.Duration) {
	c.phasesExecuted.WithLabelValues(phase, status).Inc()
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordTransition records a phase transition
func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// RecordHalt records a workflow halting awaiting an external event
func (c *Collector) RecordHalt(phase string) {
	c.halts.WithLabelValues(phase).Inc()
}

// RecordProgressEvent records an emitted progress event
func (c *Collector) RecordProgressEvent(status string) {
	c.progressEvents.WithLabelValues(status).Inc()
}

// SetActiveWorkflows sets the number of workflows currently executing
func (c *Collector) SetActiveWorkflows(count int) {
	c.activeWorkflows.Set(float64(count))
}

// RecordLLMCall records one LLM call with its latency and token usage
func (c *Collector) RecordLLMCall(model string, latency time.Duration, inputTokens, outputTokens int64) {
	c.llmCalls.WithLabelValues(model).Inc()
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// RecordSweep records records evicted by a cleanup sweep
func (c *Collector) RecordSweep(kind string, evicted int) {
	c.sweepEvictions.WithLabelValues(kind).Add(float64(evicted))
}

// RecordTriggerProcessed records a trigger handled by the worker pool
func (c *Collector) RecordTriggerProcessed(eventType, status string) {
	c.triggersProcessed.WithLabelValues(eventType, status).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
