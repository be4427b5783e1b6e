package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mzemanski-eng/claims-ebilling/internal/metrics"
)

var _ = Describe("Collectors", func() {
	It("increments the processed-invoices counter", func() {
		before := testutil.ToFloat64(metrics.InvoicesProcessedTotal)
		metrics.RecordInvoiceProcessed()
		after := testutil.ToFloat64(metrics.InvoicesProcessedTotal)
		Expect(after).To(Equal(before + 1.0))
	})

	It("records a classification by confidence bucket and tallies unrecognized separately", func() {
		beforeBucket := testutil.ToFloat64(metrics.LineItemsClassifiedTotal.WithLabelValues("UNRECOGNIZED"))
		beforeUnrecognized := testutil.ToFloat64(metrics.LineItemsUnrecognizedTotal)

		metrics.RecordClassification("UNRECOGNIZED", true)

		Expect(testutil.ToFloat64(metrics.LineItemsClassifiedTotal.WithLabelValues("UNRECOGNIZED"))).To(Equal(beforeBucket + 1.0))
		Expect(testutil.ToFloat64(metrics.LineItemsUnrecognizedTotal)).To(Equal(beforeUnrecognized + 1.0))
	})

	It("records a validation finding labeled by type and status", func() {
		before := testutil.ToFloat64(metrics.ValidationFindingsTotal.WithLabelValues("RATE", "FAIL"))
		metrics.RecordValidationFinding("RATE", "FAIL")
		after := testutil.ToFloat64(metrics.ValidationFindingsTotal.WithLabelValues("RATE", "FAIL"))
		Expect(after).To(Equal(before + 1.0))
	})

	It("tracks concurrent pipeline runs up and down", func() {
		before := testutil.ToFloat64(metrics.ConcurrentPipelineRunsRunning)
		metrics.IncrementConcurrentPipelineRuns()
		Expect(testutil.ToFloat64(metrics.ConcurrentPipelineRunsRunning)).To(Equal(before + 1.0))
		metrics.DecrementConcurrentPipelineRuns()
		Expect(testutil.ToFloat64(metrics.ConcurrentPipelineRunsRunning)).To(Equal(before))
	})

	It("records AI assessment call and error counters independently", func() {
		beforeCalls := testutil.ToFloat64(metrics.AIAssessmentCallsTotal)
		beforeErrors := testutil.ToFloat64(metrics.AIAssessmentErrorsTotal.WithLabelValues("non_json_response"))

		metrics.RecordAIAssessmentCall()
		metrics.RecordAIAssessmentError("non_json_response")

		Expect(testutil.ToFloat64(metrics.AIAssessmentCallsTotal)).To(Equal(beforeCalls + 1.0))
		Expect(testutil.ToFloat64(metrics.AIAssessmentErrorsTotal.WithLabelValues("non_json_response"))).To(Equal(beforeErrors + 1.0))
	})
})

var _ = Describe("Timer", func() {
	It("measures elapsed time since creation", func() {
		timer := metrics.NewTimer()
		time.Sleep(5 * time.Millisecond)
		Expect(timer.Elapsed()).To(BeNumerically(">=", 5*time.Millisecond))
	})

	It("records elapsed time on the pipeline run histogram", func() {
		timer := metrics.NewTimer()
		time.Sleep(2 * time.Millisecond)
		timer.RecordPipelineRun()
		// a successful Observe call is the only externally visible effect;
		// histogram sample counts aren't exposed via testutil.ToFloat64
	})
})
