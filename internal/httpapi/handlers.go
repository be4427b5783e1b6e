package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
)

// maxUploadBytes bounds an in-memory multipart parse; a file larger than
// this is rejected rather than exhausting the process's memory.
const maxUploadBytes = 32 << 20

type handlers struct {
	svc      *Service
	validate *validator.Validate
}

func newHandlers(svc *Service) *handlers {
	return &handlers{svc: svc, validate: validator.New()}
}

func actorOrSystem(r *http.Request) Actor {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return actor
	}
	return Actor{Type: domain.ActorSystem, ID: uuid.Nil}
}

func (h *handlers) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "invalid create_invoice request"))
		return
	}

	supplierID, err1 := uuid.Parse(req.SupplierID)
	contractID, err2 := uuid.Parse(req.ContractID)
	invoiceDate, err3 := time.Parse("2006-01-02", req.InvoiceDate)
	if err1 != nil || err2 != nil || err3 != nil {
		writeError(w, apperrors.Validation("malformed supplier_id, contract_id, or invoice_date"))
		return
	}

	inv, err := h.svc.CreateInvoice(r.Context(), supplierID, contractID, req.InvoiceNumber, invoiceDate, "", actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	h.submitVersion(w, r, func(invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor) (interface{}, error) {
		return h.svc.Upload(r.Context(), invoiceID, fileBytes, filename, actor)
	})
}

func (h *handlers) resubmit(w http.ResponseWriter, r *http.Request) {
	h.submitVersion(w, r, func(invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor) (interface{}, error) {
		return h.svc.Resubmit(r.Context(), invoiceID, fileBytes, filename, actor)
	})
}

func (h *handlers) submitVersion(w http.ResponseWriter, r *http.Request, run func(invoiceID uuid.UUID, fileBytes []byte, filename string, actor Actor) (interface{}, error)) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed invoice id"))
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "malformed multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "missing file part"))
		return
	}
	defer file.Close()
	fileBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "failed to read uploaded file"))
		return
	}

	summary, err := run(invoiceID, fileBytes, header.Filename, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(summary.(*orchestrator.Summary)))
}

func (h *handlers) respondToException(w http.ResponseWriter, r *http.Request) {
	exceptionID, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed exception id"))
		return
	}
	var req respondToExceptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "invalid respond_to_exception request"))
		return
	}

	exc, err := h.svc.RespondToException(r.Context(), exceptionID, req.SupplierResponse, req.SupportingDocPath, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionResponse(exc))
}

func (h *handlers) requestChanges(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed invoice id"))
		return
	}
	var req requestChangesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "invalid request_changes request"))
		return
	}

	inv, err := h.svc.RequestChanges(r.Context(), invoiceID, req.CarrierNotes, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *handlers) resolveException(w http.ResponseWriter, r *http.Request) {
	exceptionID, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed exception id"))
		return
	}
	var req resolveExceptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.TypeValidation, "invalid resolve_exception request"))
		return
	}

	exc, err := h.svc.ResolveException(r.Context(), exceptionID, domain.ResolutionAction(req.ResolutionAction), req.ResolutionNotes, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionResponse(exc))
}

func (h *handlers) approveInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed invoice id"))
		return
	}
	var req approveInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.svc.ApproveInvoice(r.Context(), invoiceID, req.Notes, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *handlers) exportInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeError(w, apperrors.Validation("malformed invoice id"))
		return
	}

	csv, err := h.svc.ExportInvoice(r.Context(), invoiceID, actorOrSystem(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csv)
}

func toInvoiceResponse(inv *domain.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:              inv.ID.String(),
		SupplierID:      inv.SupplierID.String(),
		ContractID:      inv.ContractID.String(),
		InvoiceNumber:   inv.InvoiceNumber,
		Status:          string(inv.Status),
		CurrentVersion:  inv.CurrentVersion,
		SubmissionNotes: inv.SubmissionNotes,
	}
}

func toSummaryResponse(s *orchestrator.Summary) pipelineSummaryResponse {
	return pipelineSummaryResponse{
		InvoiceID:      s.InvoiceID.String(),
		Status:         string(s.Status),
		LinesProcessed: s.LinesProcessed,
		LinesPass:      s.LinesPass,
		LinesError:     s.LinesError,
		LinesWarning:   s.LinesWarning,
		ParseWarnings:  s.ParseWarnings,
	}
}

func toExceptionResponse(exc *domain.ExceptionRecord) exceptionResponse {
	resp := exceptionResponse{
		ID:               exc.ID.String(),
		LineItemID:       exc.LineItemID.String(),
		Status:           string(exc.Status),
		SupplierResponse: exc.SupplierResponse,
	}
	if exc.ResolutionAction != nil {
		action := string(*exc.ResolutionAction)
		resp.ResolutionAction = &action
	}
	return resp
}
