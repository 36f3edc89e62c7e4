package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dagflow"

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	workflowsAdmitted *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	stepsExecuted     *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	activeExecutions  prometheus.Gauge

	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	lockWait            prometheus.Histogram
	heldLocks           prometheus.Gauge

	recoveries       *prometheus.CounterVec
	maintenanceRuns  *prometheus.CounterVec
	maintenanceTime  *prometheus.HistogramVec

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// NewCollector creates a collector registered with the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered with reg
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		workflowsAdmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_admitted_total",
				Help:      "Workflow admission attempts by outcome",
			},
			[]string{"outcome"},
		),
		workflowsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_finished_total",
				Help:      "Workflows that reached a terminal status",
			},
			[]string{"status"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Workflow execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Steps executed by node kind and status",
			},
			[]string{"kind", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step execution duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Number of currently active executions",
			},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_transactions_total",
				Help:      "State store transactions by status",
			},
			[]string{"status"},
		),
		transactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_transaction_duration_seconds",
				Help:      "State store transaction duration in seconds",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"status"},
		),
		lockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_lock_wait_seconds",
				Help:      "Time spent waiting for owner locks",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		),
		heldLocks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_held_locks",
				Help:      "Number of owner locks currently held",
			},
		),
		recoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recoveries_total",
				Help:      "Recovery attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		maintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job runs",
			},
			[]string{"job"},
		),
		maintenanceTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 30},
			},
			[]string{"job"},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_calls_total",
				Help:      "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_latency_seconds",
				Help:      "LLM API call latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
	}
}

// RecordWorkflowAdmission counts an admission attempt
func (c *Collector) RecordWorkflowAdmission(outcome string) {
	c.workflowsAdmitted.WithLabelValues(outcome).Inc()
}

// RecordWorkflowFinished records a terminal workflow
func (c *Collector) RecordWorkflowFinished(status string, duration time.Duration) {
	c.workflowsFinished.WithLabelValues(status).Inc()
	c.workflowDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecuted records a step execution
func (c *Collector) RecordStepExecuted(kind, status string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(kind, status).Inc()
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetActiveExecutions sets the number of currently active executions
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// RecordTransaction records a committed or rolled back transaction
func (c *Collector) RecordTransaction(status string, duration time.Duration) {
	c.transactions.WithLabelValues(status).Inc()
	c.transactionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLockWait records time spent acquiring a lock
func (c *Collector) RecordLockWait(duration time.Duration) {
	c.lockWait.Observe(duration.Seconds())
}

// RecordRecovery counts a recovery attempt
func (c *Collector) RecordRecovery(strategy, outcome string) {
	c.recoveries.WithLabelValues(strategy, outcome).Inc()
}

// RecordMaintenanceRun records a maintenance job run
func (c *Collector) RecordMaintenanceRun(job string, duration time.Duration) {
	c.maintenanceRuns.WithLabelValues(job).Inc()
	c.maintenanceTime.WithLabelValues(job).Observe(duration.Seconds())
}

// SetHeldLocks sets the number of held owner locks
func (c *Collector) SetHeldLocks(count int) {
	c.heldLocks.Set(float64(count))
}

// RecordLLMCall records one LLM API call and its token usage
func (c *Collector) RecordLLMCall(model, status string, inputTokens, outputTokens int64, latency time.Duration) {
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}
