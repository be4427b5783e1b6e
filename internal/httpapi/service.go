// Package httpapi is the external interface named by spec §6: the eight
// invoice-lifecycle operations (create_invoice, upload, resubmit,
// respond_to_exception, request_changes, resolve_exception,
// approve_invoice, export_invoice), exposed over HTTP. Service holds the
// business logic; router.go/handlers.go are a thin chi translation layer
// on top of it. Authentication and scope enforcement (supplier-owns-
// invoice, carrier-owns-contract) are out of scope per spec §1 — Service
// trusts the Actor an outer auth layer attaches to the request context.
package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/storage"
)

// Store is the persistence surface Service needs beyond what the
// orchestrator already owns. Embedding orchestrator.Store means a single
// *repository.Repository satisfies both without a second interface
// assertion.
type Store interface {
	orchestrator.Store
	InsertInvoice(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error
	InsertInvoiceVersion(ctx context.Context, tx pgx.Tx, v *domain.InvoiceVersion) error
	UpdateInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, currentVersion int, rawFilePointer string) error
	GetLineItem(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LineItem, error)
	ListLineItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) ([]domain.LineItem, error)
	GetExceptionRecord(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ExceptionRecord, error)
	UpdateExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error
	ListExceptionsByInvoice(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) ([]domain.ExceptionRecord, error)
}

// Service composes the persistence layer with the pipeline orchestrator
// and the audit trail into the eight operations spec §6 names.
type Service struct {
	tx      orchestrator.Transactor
	store   Store
	orch    *orchestrator.Orchestrator
	audit   *audit.Logger
	files   storage.Store
	logger  *zap.Logger
}

func NewService(tx orchestrator.Transactor, store Store, orch *orchestrator.Orchestrator, auditLogger *audit.Logger, files storage.Store, logger *zap.Logger) *Service {
	return &Service{tx: tx, store: store, orch: orch, audit: auditLogger, files: files, logger: logger}
}

// CreateInvoice starts an invoice in DRAFT (spec §6 create_invoice).
func (s *Service) CreateInvoice(ctx context.Context, supplierID, contractID uuid.UUID, invoiceNumber string, invoiceDate time.Time, notes string, actor Actor) (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:              uuid.New(),
		SupplierID:      supplierID,
		ContractID:      contractID,
		InvoiceNumber:   invoiceNumber,
		InvoiceDate:     invoiceDate,
		Status:          domain.InvoiceDraft,
		CurrentVersion:  0,
		SubmissionNotes: notes,
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.store.InsertInvoice(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, "invoice", inv.ID, domain.EventInvoiceCreated, domain.ActorSupplier, &actor.ID, map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"supplier_id":    inv.SupplierID,
		"contract_id":    inv.ContractID,
	})
	return inv, nil
}

// Upload lands the first version of an invoice and runs the pipeline
// (spec §6 upload: accepts only DRAFT or REVIEW_REQUIRED).
func (s *Service) Upload(ctx context.Context, invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor) (*orchestrator.Summary, error) {
	if err := s.submitVersion(ctx, invoiceID, fileBytes, filename, actor, domain.InvoiceDraft, domain.InvoiceReviewRequired); err != nil {
		return nil, err
	}
	return s.orch.ProcessInvoice(ctx, invoiceID, fileBytes, filename)
}

// Resubmit lands a new invoice version after a REVIEW_REQUIRED or
// SUPPLIER_RESPONDED round (spec §6 resubmit).
func (s *Service) Resubmit(ctx context.Context, invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor) (*orchestrator.Summary, error) {
	if err := s.submitVersion(ctx, invoiceID, fileBytes, filename, actor, domain.InvoiceReviewRequired, domain.InvoiceSupplierResponded); err != nil {
		return nil, err
	}
	return s.orch.ProcessInvoice(ctx, invoiceID, fileBytes, filename)
}

// submitVersion is the shared upload/resubmit path: validate the current
// status is one of accepted, persist the raw bytes through storage.Store,
// insert the next InvoiceVersion pointing at that location, bump the
// invoice's pointer/version, and transition to SUBMITTED. The pipeline
// run itself (ProcessInvoice) owns its own transaction and is invoked
// separately, matching its existing lock-then-process contract; it is
// handed fileBytes directly rather than re-reading through storage so a
// synchronous upload never pays for its own round trip to disk.
func (s *Service) submitVersion(ctx context.Context, invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor, accepted ...domain.InvoiceStatus) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice, err := s.store.GetInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return apperrors.NotFound("invoice", invoiceID.String())
		}
		if !statusIn(invoice.Status, accepted) {
			return apperrors.Conflictf("invoice %s: status %s does not accept a new version", invoice.ID, invoice.Status)
		}

		pointer, err := s.files.Save(ctx, invoice.ID, filename, fileBytes)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeInternal, "failed to persist uploaded file")
		}

		version := &domain.InvoiceVersion{
			ID:             uuid.New(),
			InvoiceID:      invoice.ID,
			VersionNumber:  invoice.CurrentVersion + 1,
			RawFilePointer: pointer,
			FileFormat:     fileFormatFromFilename(filename),
			SubmittedAt:    time.Now(),
		}
		if err := s.store.InsertInvoiceVersion(ctx, tx, version); err != nil {
			return err
		}
		if err := s.store.UpdateInvoiceVersion(ctx, tx, invoice.ID, version.VersionNumber, version.RawFilePointer); err != nil {
			return err
		}
		invoice.CurrentVersion = version.VersionNumber
		invoice.RawFilePointer = version.RawFilePointer

		if err := domain.TransitionInvoice(invoice, domain.InvoiceSubmitted); err != nil {
			return err
		}
		if err := s.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
			return err
		}
		s.audit.InvoiceSubmitted(ctx, invoice, &actor.ID)
		return nil
	})
}

func statusIn(status domain.InvoiceStatus, accepted []domain.InvoiceStatus) bool {
	for _, a := range accepted {
		if status == a {
			return true
		}
	}
	return false
}

func fileFormatFromFilename(name string) domain.FileFormat {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return domain.FileFormatPDF
	}
	return domain.FileFormatCSV
}

// RespondToException records a supplier's response to an OPEN exception
// and may flip the invoice from REVIEW_REQUIRED to SUPPLIER_RESPONDED
// (spec §6 respond_to_exception).
func (s *Service) RespondToException(ctx context.Context, exceptionID uuid.UUID, responseText string, supportingDocPath *string, actor Actor) (*domain.ExceptionRecord, error) {
	var exc *domain.ExceptionRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		found, err := s.store.GetExceptionRecord(ctx, tx, exceptionID)
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFound("exception", exceptionID.String())
		}
		exc = found

		if err := domain.TransitionException(exc, domain.ExceptionSupplierResponded); err != nil {
			return err
		}
		exc.SupplierResponse = &responseText
		exc.SupportingDocPath = supportingDocPath
		if err := s.store.UpdateExceptionRecord(ctx, tx, exc); err != nil {
			return err
		}
		s.audit.ExceptionSupplierResponded(ctx, exc, actor.ID)

		line, err := s.store.GetLineItem(ctx, tx, exc.LineItemID)
		if err != nil {
			return err
		}
		if line == nil {
			return nil
		}
		invoice, err := s.store.GetInvoice(ctx, tx, line.InvoiceID)
		if err != nil {
			return err
		}
		if invoice != nil && invoice.Status == domain.InvoiceReviewRequired {
			oldStatus := invoice.Status
			if err := domain.TransitionInvoice(invoice, domain.InvoiceSupplierResponded); err == nil {
				if err := s.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
					return err
				}
				s.audit.InvoiceStatusChanged(ctx, invoice, oldStatus, invoice.Status, domain.ActorSupplier, &actor.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exc, nil
}

// RequestChanges sends an invoice back to the supplier (spec §6
// request_changes: only from PENDING_CARRIER_REVIEW).
func (s *Service) RequestChanges(ctx context.Context, invoiceID uuid.UUID, carrierNotes string, actor Actor) (*domain.Invoice, error) {
	var invoice *domain.Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		found, err := s.store.GetInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFound("invoice", invoiceID.String())
		}
		invoice = found
		if invoice.Status != domain.InvoicePendingCarrierReview {
			return apperrors.Conflictf("invoice %s: request_changes requires PENDING_CARRIER_REVIEW, got %s", invoice.ID, invoice.Status)
		}
		if err := domain.TransitionInvoice(invoice, domain.InvoiceReviewRequired); err != nil {
			return err
		}
		if err := s.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
			return err
		}
		s.audit.InvoiceChangesRequested(ctx, invoice, carrierNotes, actor.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ResolveException applies the carrier's disposition to an exception
// (spec §6 resolve_exception): WAIVED -> WAIVED, anything else ->
// RESOLVED; DENIED additionally denies the line.
func (s *Service) ResolveException(ctx context.Context, exceptionID uuid.UUID, action domain.ResolutionAction, notes *string, actor Actor) (*domain.ExceptionRecord, error) {
	var exc *domain.ExceptionRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		found, err := s.store.GetExceptionRecord(ctx, tx, exceptionID)
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFound("exception", exceptionID.String())
		}
		exc = found
		if exc.Status != domain.ExceptionOpen && exc.Status != domain.ExceptionSupplierResponded {
			return apperrors.Conflictf("exception %s: resolve_exception requires OPEN or SUPPLIER_RESPONDED, got %s", exc.ID, exc.Status)
		}

		to := domain.ExceptionResolved
		if action == domain.ResolutionWaived {
			to = domain.ExceptionWaived
		}
		if err := domain.TransitionException(exc, to); err != nil {
			return err
		}
		now := time.Now()
		exc.ResolutionAction = &action
		exc.ResolutionNotes = notes
		exc.ResolvedAt = &now
		exc.ResolvedByUserID = &actor.ID
		if err := s.store.UpdateExceptionRecord(ctx, tx, exc); err != nil {
			return err
		}
		s.audit.ExceptionResolved(ctx, exc, domain.ActorCarrier, actor.ID)

		if action == domain.ResolutionDenied {
			line, err := s.store.GetLineItem(ctx, tx, exc.LineItemID)
			if err != nil {
				return err
			}
			if line != nil {
				if err := domain.TransitionLine(line, domain.LineDenied); err != nil {
					return err
				}
				if err := s.store.UpdateLineItem(ctx, tx, line); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exc, nil
}

// approvableLineStatuses are the statuses a line may be promoted from
// outright, without needing to check for a still-open blocking exception.
var approvableLineStatuses = map[domain.LineItemStatus]bool{
	domain.LineValidated: true,
	domain.LineOverride:  true,
	domain.LineResolved:  true,
}

// ApproveInvoice waives every OPEN exception, promotes every line with
// no remaining open exception to APPROVED, and approves the invoice
// (spec §6 approve_invoice: only from PENDING_CARRIER_REVIEW or
// CARRIER_REVIEWING).
func (s *Service) ApproveInvoice(ctx context.Context, invoiceID uuid.UUID, notes *string, actor Actor) (*domain.Invoice, error) {
	var invoice *domain.Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		found, err := s.store.GetInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFound("invoice", invoiceID.String())
		}
		invoice = found
		if invoice.Status != domain.InvoicePendingCarrierReview && invoice.Status != domain.InvoiceCarrierReviewing {
			return apperrors.Conflictf("invoice %s: approve_invoice requires PENDING_CARRIER_REVIEW or CARRIER_REVIEWING, got %s", invoice.ID, invoice.Status)
		}

		exceptions, err := s.store.ListExceptionsByInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		openByLine := map[uuid.UUID]int{}
		for i := range exceptions {
			exc := &exceptions[i]
			if exc.Status == domain.ExceptionOpen {
				waived := domain.ResolutionWaived
				if err := domain.TransitionException(exc, domain.ExceptionWaived); err != nil {
					return err
				}
				now := time.Now()
				exc.ResolutionAction = &waived
				exc.ResolutionNotes = notes
				exc.ResolvedAt = &now
				exc.ResolvedByUserID = &actor.ID
				if err := s.store.UpdateExceptionRecord(ctx, tx, exc); err != nil {
					return err
				}
				s.audit.ExceptionResolved(ctx, exc, domain.ActorCarrier, actor.ID)
			}
			if !exc.Status.Terminal() {
				openByLine[exc.LineItemID]++
			}
		}

		lines, err := s.store.ListLineItems(ctx, tx, invoice.ID, invoice.CurrentVersion)
		if err != nil {
			return err
		}
		for i := range lines {
			line := &lines[i]
			if line.Status.Terminal() {
				continue
			}
			if !approvableLineStatuses[line.Status] && openByLine[line.ID] > 0 {
				continue
			}
			if err := domain.TransitionLine(line, domain.LineApproved); err != nil {
				continue
			}
			if err := s.store.UpdateLineItem(ctx, tx, line); err != nil {
				return err
			}
		}

		oldStatus := invoice.Status
		if err := domain.TransitionInvoice(invoice, domain.InvoiceApproved); err != nil {
			return err
		}
		if err := s.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
			return err
		}
		s.audit.InvoiceStatusChanged(ctx, invoice, oldStatus, invoice.Status, domain.ActorCarrier, &actor.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ExportInvoice emits the approved lines as CSV and transitions the
// invoice to EXPORTED (spec §6 export_invoice: only from APPROVED,
// terminal afterward).
func (s *Service) ExportInvoice(ctx context.Context, invoiceID uuid.UUID, actor Actor) ([]byte, error) {
	var csv []byte
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice, err := s.store.GetInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return apperrors.NotFound("invoice", invoiceID.String())
		}
		if invoice.Status != domain.InvoiceApproved {
			return apperrors.Conflictf("invoice %s: export_invoice requires APPROVED, got %s", invoice.ID, invoice.Status)
		}

		lines, err := s.store.ListLineItems(ctx, tx, invoice.ID, invoice.CurrentVersion)
		if err != nil {
			return err
		}
		approved := make([]domain.LineItem, 0, len(lines))
		for _, line := range lines {
			if line.Status == domain.LineApproved {
				approved = append(approved, line)
			}
		}
		csv, err = buildExportCSV(invoice, approved)
		if err != nil {
			return err
		}

		oldStatus := invoice.Status
		if err := domain.TransitionInvoice(invoice, domain.InvoiceExported); err != nil {
			return err
		}
		if err := s.store.UpdateInvoiceStatus(ctx, tx, invoice.ID, invoice.Status); err != nil {
			return err
		}
		s.audit.InvoiceStatusChanged(ctx, invoice, oldStatus, invoice.Status, domain.ActorCarrier, &actor.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return csv, nil
}
