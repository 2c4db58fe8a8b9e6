package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes engine metrics to Prometheus
type Collector struct {
	filingsCreated      *prometheus.CounterVec
	filingsValidated    *prometheus.CounterVec
	filingsSubmitted    *prometheus.CounterVec
	gatewayLatency      prometheus.Histogram
	executionsByStatus  *prometheus.CounterVec
	stepDuration        prometheus.Histogram
	stepsProcessed      *prometheus.CounterVec
	remindersScheduled  prometheus.Counter
	remindersDispatched prometheus.Counter
	eventsDropped       prometheus.CounterFunc
}

// NewCollector creates and registers the engine metrics on the given
// registerer. droppedEvents may be nil when event publishing is disabled.
func NewCollector(reg prometheus.Registerer, droppedEvents func() int64) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		filingsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_engine_filings_created_total",
			Help: "Total filings created, by form type",
		}, []string{"form_type"}),
		filingsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_engine_filings_validated_total",
			Help: "Total validation runs, by form type and outcome",
		}, []string{"form_type", "outcome"}),
		filingsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_engine_filings_submitted_total",
			Help: "Total submission attempts, by form type and outcome",
		}, []string{"form_type", "outcome"}),
		gatewayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "filing_engine_gateway_latency_seconds",
			Help:    "Submission gateway round-trip latency",
			Buckets: prometheus.DefBuckets,
		}),
		executionsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_engine_workflow_executions_total",
			Help: "Workflow execution transitions, by status",
		}, []string{"status"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "filing_engine_workflow_step_duration_minutes",
			Help:    "Duration of completed workflow steps in minutes",
			Buckets: []float64{1, 5, 15, 60, 240, 480, 1440, 4320},
		}),
		stepsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filing_engine_workflow_steps_total",
			Help: "Workflow step actions processed, by action and outcome",
		}, []string{"action", "outcome"}),
		remindersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "filing_engine_reminders_scheduled_total",
			Help: "Total reminders scheduled",
		}),
		remindersDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "filing_engine_reminders_dispatched_total",
			Help: "Total reminders dispatched",
		}),
	}

	if droppedEvents != nil {
		c.eventsDropped = factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "filing_engine_events_dropped_total",
			Help: "Events dropped by the bounded publisher queue",
		}, func() float64 { return float64(droppedEvents()) })
	}

	return c
}

// FilingCreated records a new filing.
func (c *Collector) FilingCreated(formType string) {
	c.filingsCreated.WithLabelValues(formType).Inc()
}

// FilingValidated records a validation run.
func (c *Collector) FilingValidated(formType string, valid bool) {
	c.filingsValidated.WithLabelValues(formType, outcome(valid)).Inc()
}

// FilingSubmitted records a submission attempt and its gateway latency.
func (c *Collector) FilingSubmitted(formType string, success bool, latency time.Duration) {
	c.filingsSubmitted.WithLabelValues(formType, outcome(success)).Inc()
	c.gatewayLatency.Observe(latency.Seconds())
}

// ExecutionTransition records a workflow execution entering a status.
func (c *Collector) ExecutionTransition(status string) {
	c.executionsByStatus.WithLabelValues(status).Inc()
}

// StepProcessed records a step action and outcome.
func (c *Collector) StepProcessed(action string, success bool) {
	c.stepsProcessed.WithLabelValues(action, outcome(success)).Inc()
}

// StepCompleted records the duration of a completed step.
func (c *Collector) StepCompleted(duration time.Duration) {
	c.stepDuration.Observe(duration.Minutes())
}

// ReminderScheduled records a newly created reminder.
func (c *Collector) ReminderScheduled() {
	c.remindersScheduled.Inc()
}

// ReminderDispatched records a dispatched reminder.
func (c *Collector) ReminderDispatched() {
	c.remindersDispatched.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
