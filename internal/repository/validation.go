package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

func (r *Repository) InsertValidationResult(ctx context.Context, tx pgx.Tx, vr *domain.ValidationResult) error {
	_, err := r.txOrPool(tx).Exec(ctx, `
		INSERT INTO validation_results (
			id, line_item_id, validation_type, rate_card_id, guideline_id,
			status, severity, message, expected_value, actual_value, required_action
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		vr.ID, vr.LineItemID, vr.ValidationType, vr.RateCardID, vr.GuidelineID,
		vr.Status, vr.Severity, vr.Message, vr.ExpectedValue, vr.ActualValue, vr.RequiredAction)
	return wrapErr("insert validation result", err)
}

func (r *Repository) InsertExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error {
	_, err := r.txOrPool(tx).Exec(ctx, `
		INSERT INTO exception_records (
			id, line_item_id, validation_result_id, status,
			supplier_response, supporting_doc_path, resolution_action, resolution_notes, resolved_at, resolved_by_user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exc.ID, exc.LineItemID, exc.ValidationResultID, exc.Status,
		exc.SupplierResponse, exc.SupportingDocPath, exc.ResolutionAction, exc.ResolutionNotes, exc.ResolvedAt, exc.ResolvedByUserID)
	return wrapErr("insert exception record", err)
}

// UpdateExceptionRecord persists a supplier-response or carrier-resolution
// transition (spec §6 respond_to_exception, resolve_exception).
func (r *Repository) UpdateExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error {
	_, err := r.txOrPool(tx).Exec(ctx, `
		UPDATE exception_records SET
			status = $2, supplier_response = $3, supporting_doc_path = $4,
			resolution_action = $5, resolution_notes = $6, resolved_at = $7, resolved_by_user_id = $8
		WHERE id = $1`,
		exc.ID, exc.Status, exc.SupplierResponse, exc.SupportingDocPath,
		exc.ResolutionAction, exc.ResolutionNotes, exc.ResolvedAt, exc.ResolvedByUserID)
	return wrapErr("update exception record", err)
}

// GetExceptionRecord is used by the exception-lifecycle handlers to
// re-fetch the record before validating the requested transition.
func (r *Repository) GetExceptionRecord(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ExceptionRecord, error) {
	row := r.txOrPool(tx).QueryRow(ctx, `
		SELECT id, line_item_id, validation_result_id, status,
		       supplier_response, supporting_doc_path, resolution_action, resolution_notes, resolved_at, resolved_by_user_id
		FROM exception_records WHERE id = $1`, id)

	var exc domain.ExceptionRecord
	err := row.Scan(&exc.ID, &exc.LineItemID, &exc.ValidationResultID, &exc.Status,
		&exc.SupplierResponse, &exc.SupportingDocPath, &exc.ResolutionAction, &exc.ResolutionNotes, &exc.ResolvedAt, &exc.ResolvedByUserID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get exception record", err)
	}
	return &exc, nil
}

// ListExceptionsByInvoice supports the exception-listing read path that
// accompanies resolve_exception/respond_to_exception in the httpapi.
func (r *Repository) ListExceptionsByInvoice(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) ([]domain.ExceptionRecord, error) {
	rows, err := r.txOrPool(tx).Query(ctx, `
		SELECT e.id, e.line_item_id, e.validation_result_id, e.status,
		       e.supplier_response, e.supporting_doc_path, e.resolution_action, e.resolution_notes, e.resolved_at, e.resolved_by_user_id
		FROM exception_records e
		JOIN line_items l ON l.id = e.line_item_id
		WHERE l.invoice_id = $1
		ORDER BY e.id`, invoiceID)
	if err != nil {
		return nil, wrapErr("list exceptions by invoice", err)
	}
	defer rows.Close()

	var out []domain.ExceptionRecord
	for rows.Next() {
		var exc domain.ExceptionRecord
		if err := rows.Scan(&exc.ID, &exc.LineItemID, &exc.ValidationResultID, &exc.Status,
			&exc.SupplierResponse, &exc.SupportingDocPath, &exc.ResolutionAction, &exc.ResolutionNotes, &exc.ResolvedAt, &exc.ResolvedByUserID); err != nil {
			return nil, wrapErr("scan exception record", err)
		}
		out = append(out, exc)
	}
	return out, wrapErr("exception rows", rows.Err())
}
