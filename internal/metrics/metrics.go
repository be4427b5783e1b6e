// Package metrics defines the Prometheus collectors for the eBilling
// pipeline: invoice throughput, classification outcomes, validation
// findings, exception volume, and pipeline-stage latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvoicesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_processed_total",
		Help: "Total number of invoices that completed a pipeline run.",
	})

	InvoiceStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_status_transitions_total",
		Help: "Total number of invoice status transitions, labeled by from/to status.",
	}, []string{"from_status", "to_status"})

	LineItemsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "line_items_classified_total",
		Help: "Total number of line items classified, labeled by confidence bucket.",
	}, []string{"confidence"})

	LineItemsUnrecognizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "line_items_unrecognized_total",
		Help: "Total number of line items that could not be classified to any taxonomy code.",
	})

	ValidationFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_findings_total",
		Help: "Total number of validation findings, labeled by validation type and status.",
	}, []string{"validation_type", "status"})

	ExceptionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exceptions_opened_total",
		Help: "Total number of exceptions opened, labeled by validation type.",
	}, []string{"validation_type"})

	AIAssessmentCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ai_assessment_calls_total",
		Help: "Total number of AI description-alignment calls attempted.",
	})

	AIAssessmentErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_assessment_errors_total",
		Help: "Total number of AI description-alignment calls that degraded to no result, labeled by reason.",
	}, []string{"reason"})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "classification_duration_seconds",
		Help:    "Time spent classifying a single line item.",
		Buckets: prometheus.DefBuckets,
	})

	ValidationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "validation_duration_seconds",
		Help:    "Time spent running a validator against a single line item, labeled by validation type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"validation_type"})

	PipelineRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Time spent processing one invoice end to end.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	ConcurrentPipelineRunsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_pipeline_runs_running",
		Help: "Number of invoice pipeline runs currently executing.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Time spent handling an HTTP request, labeled by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordHTTPRequest records one HTTP request's duration against
// HTTPRequestDuration.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// RecordInvoiceProcessed increments the completed-invoice counter.
func RecordInvoiceProcessed() {
	InvoicesProcessedTotal.Inc()
}

// RecordInvoiceStatusTransition increments the transition counter for a
// single invoice status change.
func RecordInvoiceStatusTransition(from, to string) {
	InvoiceStatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordClassification increments the classified-lines counter for the
// given confidence bucket and, if unrecognized, the dedicated counter.
func RecordClassification(confidence string, unrecognized bool) {
	LineItemsClassifiedTotal.WithLabelValues(confidence).Inc()
	if unrecognized {
		LineItemsUnrecognizedTotal.Inc()
	}
}

// RecordValidationFinding increments the findings counter for one
// validator outcome.
func RecordValidationFinding(validationType, status string) {
	ValidationFindingsTotal.WithLabelValues(validationType, status).Inc()
}

// RecordExceptionOpened increments the exceptions-opened counter.
func RecordExceptionOpened(validationType string) {
	ExceptionsOpenedTotal.WithLabelValues(validationType).Inc()
}

// RecordAIAssessmentCall increments the attempted-calls counter.
func RecordAIAssessmentCall() {
	AIAssessmentCallsTotal.Inc()
}

// RecordAIAssessmentError increments the degraded-result counter for reason.
func RecordAIAssessmentError(reason string) {
	AIAssessmentErrorsTotal.WithLabelValues(reason).Inc()
}

// IncrementConcurrentPipelineRuns and DecrementConcurrentPipelineRuns
// track the in-flight gauge around a single invoice's processing.
func IncrementConcurrentPipelineRuns() { ConcurrentPipelineRunsRunning.Inc() }
func DecrementConcurrentPipelineRuns() { ConcurrentPipelineRunsRunning.Dec() }

// Timer measures elapsed wall-clock time and records it against one or
// more histograms when the measured operation completes.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordClassification records the elapsed time on ClassificationDuration.
func (t *Timer) RecordClassification() {
	ClassificationDuration.Observe(t.Elapsed().Seconds())
}

// RecordValidation records the elapsed time on ValidationDuration for
// validationType.
func (t *Timer) RecordValidation(validationType string) {
	ValidationDuration.WithLabelValues(validationType).Observe(t.Elapsed().Seconds())
}

// RecordPipelineRun records the elapsed time on PipelineRunDuration.
func (t *Timer) RecordPipelineRun() {
	PipelineRunDuration.Observe(t.Elapsed().Seconds())
}
