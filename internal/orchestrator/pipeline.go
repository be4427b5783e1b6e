// Package orchestrator runs one invoice through the full pipeline:
// parse, classify, validate, persist, and land on a final invoice
// status. It owns the invoice/line-item/exception state machine
// transitions and is the only writer of InvoiceVersion-scoped pipeline
// state. A run's line items, validation results and exceptions are
// written in one transaction, so a mid-run failure never leaves the
// invoice half-processed.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/aiassess"
	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/ingestion"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
	"github.com/mzemanski-eng/claims-ebilling/internal/metrics"
	"github.com/mzemanski-eng/claims-ebilling/internal/notification"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/taxonomy"
)

// Transactor groups a unit of work into one committed-or-rolled-back
// transaction. PoolTransactor (internal/database) is the production
// implementation; tests substitute a fake that just invokes fn once.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Store is the transactional persistence surface the orchestrator needs.
// Every method participates in the caller-supplied transaction; nothing
// here commits on its own.
type Store interface {
	LockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (status string, currentVersion int, err error)
	GetInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error)
	GetContract(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Contract, error)
	GetActiveGuidelines(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) ([]domain.Guideline, error)
	GetInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) (*domain.InvoiceVersion, error)
	UpdateInvoiceStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, status domain.InvoiceStatus) error
	InsertRawExtractionArtifact(ctx context.Context, tx pgx.Tx, artifact domain.RawExtractionArtifact) error
	InsertLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error
	UpdateLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error
	InsertValidationResult(ctx context.Context, tx pgx.Tx, vr *domain.ValidationResult) error
	InsertExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error
}

// Orchestrator wires ingestion, classification, and the two validators
// together into one pipeline run per invoice.
type Orchestrator struct {
	tx                 Transactor
	store              Store
	dispatcher         *ingestion.Dispatcher
	classifier         *classification.Classifier
	rateValidator      *ratevalidation.RateValidator
	guidelineValidator *guidelinevalidation.GuidelineValidator
	aiAssessor         *aiassess.Assessor
	auditLogger        *audit.Logger
	notifier           *notification.Notifier
	taxonomyRegistry   *taxonomy.Registry
	logger             *zap.Logger
}

func New(
	tx Transactor,
	store Store,
	classifier *classification.Classifier,
	rateValidator *ratevalidation.RateValidator,
	guidelineValidator *guidelinevalidation.GuidelineValidator,
	aiAssessor *aiassess.Assessor,
	auditLogger *audit.Logger,
	notifier *notification.Notifier,
	taxonomyRegistry *taxonomy.Registry,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tx:                 tx,
		store:              store,
		dispatcher:         ingestion.NewDispatcher(),
		classifier:         classifier,
		rateValidator:      rateValidator,
		guidelineValidator: guidelineValidator,
		aiAssessor:         aiAssessor,
		auditLogger:        auditLogger,
		notifier:           notifier,
		taxonomyRegistry:   taxonomyRegistry,
		logger:             logger,
	}
}

// Summary is the pipeline run's outcome, returned to the upload handler
// and to the deferred worker as a job result.
type Summary struct {
	InvoiceID      uuid.UUID
	Status         domain.InvoiceStatus
	LinesProcessed int
	LinesPass      int
	LinesError     int
	LinesWarning   int
	ParseWarnings  []string
}

// ProcessInvoice runs the full pipeline for invoiceID against fileBytes.
// The PROCESSING transition and the pipeline run commit in separate
// transactions, each taking the invoice row lock (spec §5: only one
// active pipeline run per invoice at a time). A failed run sets the
// invoice back to SUBMITTED; a parse or contract-lookup failure sets it
// to REVIEW_REQUIRED instead.
func (o *Orchestrator) ProcessInvoice(ctx context.Context, invoiceID uuid.UUID, fileBytes []byte, filename string) (*Summary, error) {
	timer := metrics.NewTimer()
	metrics.IncrementConcurrentPipelineRuns()
	defer metrics.DecrementConcurrentPipelineRuns()

	var invoice *domain.Invoice
	err := o.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, _, err := o.store.LockInvoice(ctx, tx, invoiceID); err != nil {
			return err
		}
		found, err := o.store.GetInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFound("invoice", invoiceID.String())
		}
		invoice = found

		oldStatus := invoice.Status
		invoice.Status = domain.InvoiceProcessing
		if err := o.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
			return err
		}
		o.auditLogger.InvoiceStatusChanged(ctx, invoice, oldStatus, invoice.Status, domain.ActorSystem, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Parsing happens outside any transaction; a parse failure commits its
	// own REVIEW_REQUIRED transition in a separate transaction rather than
	// being rolled back alongside the PROCESSING write above (spec §4.6
	// step (b): the invoice must land in REVIEW_REQUIRED, not bounce back
	// to PROCESSING or an earlier state).
	parseResult, parseErr := o.parse(filename, fileBytes)
	if parseErr != nil {
		if err := o.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return o.failInvoice(ctx, tx, invoice, parseErr.Error())
		}); err != nil {
			return nil, err
		}
		return nil, apperrors.Validation(parseErr.Error())
	}

	var summary *Summary
	err = o.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, _, err := o.store.LockInvoice(ctx, tx, invoiceID); err != nil {
			return err
		}
		result, err := o.runPipeline(ctx, tx, invoice, parseResult)
		if err != nil {
			return err
		}
		summary = result
		return nil
	})
	if pf, ok := err.(*pipelineFailure); ok {
		if txErr := o.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return o.failInvoice(ctx, tx, invoice, pf.reason)
		}); txErr != nil {
			return nil, txErr
		}
		return nil, apperrors.Validation(pf.reason)
	}
	if err != nil {
		// The PROCESSING transition has already committed; put the invoice
		// back to SUBMITTED so the run can be retried.
		if txErr := o.tx.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx pgx.Tx) error {
			invoice.Status = domain.InvoiceSubmitted
			if err := o.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
				return err
			}
			o.auditLogger.InvoiceStatusChanged(ctx, invoice, domain.InvoiceProcessing, invoice.Status, domain.ActorSystem, nil)
			return nil
		}); txErr != nil && o.logger != nil {
			o.logger.Error("revert invoice to SUBMITTED after failed pipeline run",
				logging.NewFields().Component("orchestrator").Operation("process_invoice").
					Invoice(invoice.ID.String()).Error(txErr).Build()...)
		}
		return nil, err
	}

	timer.RecordPipelineRun()
	metrics.RecordInvoiceProcessed()
	return summary, nil
}

// pipelineFailure signals a hard mid-pipeline failure (e.g. contract not
// found) that must abort the current transaction and be re-raised as a
// REVIEW_REQUIRED transition committed on its own.
type pipelineFailure struct{ reason string }

func (p *pipelineFailure) Error() string { return p.reason }

func (o *Orchestrator) parse(filename string, fileBytes []byte) (*ingestion.ParseResult, *ingestion.ParseError) {
	result, err := o.dispatcher.Parse(fileBytes, filename)
	if err != nil {
		if pe, ok := err.(*ingestion.ParseError); ok {
			return nil, pe
		}
		return nil, ingestion.NewParseError(err.Error())
	}
	return result, nil
}

// failInvoice marks the invoice REVIEW_REQUIRED on a hard parse or
// contract-lookup failure. It returns nil on success so the caller's
// WithTx commits the status write; the caller is responsible for
// surfacing the original failure reason to its own caller once this
// transaction has landed.
func (o *Orchestrator) failInvoice(ctx context.Context, tx pgx.Tx, invoice *domain.Invoice, reason string) error {
	oldStatus := invoice.Status
	invoice.Status = domain.InvoiceReviewRequired
	if err := o.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
		return fmt.Errorf("mark invoice review_required after pipeline failure %q: %w", reason, err)
	}
	o.auditLogger.InvoiceStatusChanged(ctx, invoice, oldStatus, invoice.Status, domain.ActorSystem, nil)
	if o.logger != nil {
		o.logger.Error("invoice pipeline failed",
			logging.NewFields().Component("orchestrator").Operation("process_invoice").
				Invoice(invoice.ID.String()).Build()...)
	}
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, tx pgx.Tx, invoice *domain.Invoice, parseResult *ingestion.ParseResult) (*Summary, error) {
	version, err := o.store.GetInvoiceVersion(ctx, tx, invoice.ID, invoice.CurrentVersion)
	if err != nil {
		return nil, err
	}
	if version != nil {
		artifact := domain.RawExtractionArtifact{
			ID:               uuid.New(),
			InvoiceVersionID: version.ID,
			RawText:          truncate(parseResult.RawText, 50000),
			ExtractionMethod: parseResult.ExtractionMethod,
			Metadata: map[string]interface{}{
				"warnings":   parseResult.Warnings,
				"line_count": len(parseResult.LineItems),
			},
		}
		if err := o.store.InsertRawExtractionArtifact(ctx, tx, artifact); err != nil {
			return nil, err
		}
	}

	contract, err := o.store.GetContract(ctx, tx, invoice.ContractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, &pipelineFailure{reason: "Contract not found for invoice"}
	}

	guidelines, err := o.store.GetActiveGuidelines(ctx, tx, contract.ID)
	if err != nil {
		return nil, err
	}

	var passCount, errorCount, warningCount int
	for _, raw := range parseResult.LineItems {
		lineErrors, lineWarnings, err := o.processLine(ctx, tx, raw, invoice, contract, guidelines)
		if err != nil {
			return nil, err
		}
		errorCount += lineErrors
		warningCount += lineWarnings
		if lineErrors == 0 {
			passCount++
		}
	}

	newStatus := domain.InvoicePendingCarrierReview
	if errorCount > 0 {
		newStatus = domain.InvoiceReviewRequired
	}
	if !domain.CanTransitionInvoice(invoice.Status, newStatus) {
		return nil, apperrors.Conflictf("cannot transition invoice from %s to %s", invoice.Status, newStatus)
	}

	oldStatus := invoice.Status
	invoice.Status = newStatus
	if err := o.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, newStatus); err != nil {
		return nil, err
	}
	o.auditLogger.InvoiceStatusChanged(ctx, invoice, oldStatus, newStatus, domain.ActorSystem, nil)
	metrics.RecordInvoiceStatusTransition(string(oldStatus), string(newStatus))

	if newStatus == domain.InvoiceReviewRequired && o.notifier != nil {
		o.notifier.InvoiceNeedsReview(ctx, invoice.InvoiceNumber, string(newStatus))
	}

	return &Summary{
		InvoiceID:      invoice.ID,
		Status:         newStatus,
		LinesProcessed: len(parseResult.LineItems),
		LinesPass:      passCount,
		LinesError:     errorCount,
		LinesWarning:   warningCount,
		ParseWarnings:  parseResult.Warnings,
	}, nil
}

// processLine runs one raw line item through create, classify, rate
// validate, and guideline validate, returning the error/warning counts
// that roll up into the invoice's final status.
func (o *Orchestrator) processLine(ctx context.Context, tx pgx.Tx, raw ingestion.RawLineItem, invoice *domain.Invoice, contract *domain.Contract, guidelines []domain.Guideline) (errorCount, warningCount int, err error) {
	line := &domain.LineItem{
		ID:             uuid.New(),
		InvoiceID:      invoice.ID,
		InvoiceVersion: invoice.CurrentVersion,
		LineNumber:     raw.LineNumber,
		Status:         domain.LinePending,
		RawDescription: raw.RawDescription,
		RawCode:        raw.RawCode,
		RawAmount:      raw.RawAmount,
		RawQuantity:    raw.RawQuantity,
		RawUnit:        raw.RawUnit,
		ClaimNumber:    raw.ClaimNumber,
		ServiceDate:    raw.ServiceDate,
	}
	if err := o.store.InsertLineItem(ctx, tx, line); err != nil {
		return 0, 0, err
	}

	classifyTimer := metrics.NewTimer()
	result, err := o.classifier.Classify(ctx, raw.RawDescription, raw.RawCode, &invoice.SupplierID)
	classifyTimer.RecordClassification()
	if err != nil {
		return 0, 0, err
	}

	line.TaxonomyCode = result.TaxonomyCode
	line.BillingComponent = result.BillingComponent
	confidence := result.Confidence
	line.MappingConfidence = &confidence
	line.MappingRuleID = result.MatchedRuleID
	metrics.RecordClassification(string(result.Confidence), result.Unrecognized())
	o.auditLogger.LineItemClassified(ctx, line, result.MatchType, result.MatchExplanation)

	if result.Unrecognized() {
		line.Status = domain.LineException
		if err := o.store.UpdateLineItem(ctx, tx, line); err != nil {
			return 0, 0, err
		}
		if err := o.openException(ctx, tx, line, domain.ValidationTypeClassification, nil, nil,
			fmt.Sprintf("Service description could not be classified: '%s'. Please provide a clearer description or request manual reclassification.", raw.RawDescription),
			domain.ActionRequestReclassification); err != nil {
			return 0, 0, err
		}
		return 1, 0, nil
	}

	line.Status = domain.LineClassified
	if err := o.store.UpdateLineItem(ctx, tx, line); err != nil {
		return 0, 0, err
	}

	if o.aiAssessor != nil && line.TaxonomyCode != nil {
		if item, err := o.taxonomyRegistry.Lookup(*line.TaxonomyCode); err == nil {
			metrics.RecordAIAssessmentCall()
			if assessment := o.aiAssessor.AssessAlignment(ctx, raw.RawDescription, item); assessment != nil {
				line.AIAssessment = assessment
			} else {
				metrics.RecordAIAssessmentError("degraded")
			}
		}
	}

	expectedAmount := raw.RawAmount
	expectedAmountSet := false
	rateFindings, err := o.rateValidator.Validate(line, contract.ID)
	if err != nil {
		return 0, 0, err
	}
	for _, f := range rateFindings {
		metrics.RecordValidationFinding(string(domain.ValidationTypeRate), string(f.Status))
		if err := o.recordFinding(ctx, tx, line, domain.ValidationTypeRate, f.RateCardID, nil, f.Status, f.Severity, f.Message, f.ExpectedValue, f.ActualValue, f.RequiredAction); err != nil {
			return 0, 0, err
		}
		switch f.Status {
		case domain.ValidationFail:
			errorCount++
			if !expectedAmountSet && f.ExpectedValue != nil {
				if d, ok := parseMoney(*f.ExpectedValue); ok {
					expectedAmount = d
					expectedAmountSet = true
				}
			}
		case domain.ValidationWarning:
			warningCount++
		}
	}

	guideFindings := o.guidelineValidator.Validate(line, guidelines)
	for _, f := range guideFindings {
		metrics.RecordValidationFinding(string(domain.ValidationTypeGuideline), string(f.Status))
		var guidelineID *uuid.UUID
		if f.GuidelineID != "" {
			if id, err := uuid.Parse(f.GuidelineID); err == nil {
				guidelineID = &id
			}
		}
		if err := o.recordFinding(ctx, tx, line, domain.ValidationTypeGuideline, nil, guidelineID, f.Status, f.Severity, f.Message, f.ExpectedValue, f.ActualValue, f.RequiredAction); err != nil {
			return 0, 0, err
		}
		switch f.Status {
		case domain.ValidationFail:
			errorCount++
		case domain.ValidationWarning:
			warningCount++
		}
	}

	line.ExpectedAmount = &expectedAmount
	if errorCount > 0 {
		line.Status = domain.LineException
	} else {
		line.Status = domain.LineValidated
	}
	if err := o.store.UpdateLineItem(ctx, tx, line); err != nil {
		return 0, 0, err
	}

	return errorCount, warningCount, nil
}

func (o *Orchestrator) recordFinding(ctx context.Context, tx pgx.Tx, line *domain.LineItem, validationType domain.ValidationType, rateCardID, guidelineID *uuid.UUID, status domain.ValidationStatus, severity domain.ValidationSeverity, message string, expected, actual *string, action domain.RequiredAction) error {
	vr := &domain.ValidationResult{
		ID: uuid.New(), LineItemID: line.ID, ValidationType: validationType,
		RateCardID: rateCardID, GuidelineID: guidelineID,
		Status: status, Severity: severity, Message: message,
		ExpectedValue: expected, ActualValue: actual, RequiredAction: action,
	}
	if err := o.store.InsertValidationResult(ctx, tx, vr); err != nil {
		return err
	}
	if status == domain.ValidationFail {
		return o.openExceptionForResult(ctx, tx, line, vr)
	}
	return nil
}

func (o *Orchestrator) openException(ctx context.Context, tx pgx.Tx, line *domain.LineItem, validationType domain.ValidationType, rateCardID, guidelineID *uuid.UUID, message string, action domain.RequiredAction) error {
	vr := &domain.ValidationResult{
		ID: uuid.New(), LineItemID: line.ID, ValidationType: validationType,
		RateCardID: rateCardID, GuidelineID: guidelineID,
		Status: domain.ValidationFail, Severity: domain.SeverityError,
		Message: message, RequiredAction: action,
	}
	if err := o.store.InsertValidationResult(ctx, tx, vr); err != nil {
		return err
	}
	return o.openExceptionForResult(ctx, tx, line, vr)
}

func (o *Orchestrator) openExceptionForResult(ctx context.Context, tx pgx.Tx, line *domain.LineItem, vr *domain.ValidationResult) error {
	exc := &domain.ExceptionRecord{ID: uuid.New(), LineItemID: line.ID, ValidationResultID: vr.ID, Status: domain.ExceptionOpen}
	if err := o.store.InsertExceptionRecord(ctx, tx, exc); err != nil {
		return err
	}
	o.auditLogger.ExceptionOpened(ctx, line, vr.ValidationType, vr.Status, vr.Severity, vr.Message, vr.RequiredAction)
	metrics.RecordExceptionOpened(string(vr.ValidationType))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var moneyReplacer = strings.NewReplacer("$", "", ",", "", " ", "")

func parseMoney(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(moneyReplacer.Replace(s))
	return d, err == nil
}
