package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mzemanski-eng/claims-ebilling/internal/database"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// LockInvoice acquires SELECT ... FOR UPDATE on the invoice row for the
// lifetime of tx, delegating to database.LockInvoice for the statement
// itself (spec §5: only one active pipeline run per invoice at a time).
func (r *Repository) LockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (string, int, error) {
	return database.LockInvoice(ctx, tx, id)
}

func (r *Repository) GetInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	row := r.txOrPool(tx).QueryRow(ctx, `
		SELECT id, supplier_id, contract_id, invoice_number, invoice_date, status,
		       current_version, raw_file_pointer, submitted_at, submission_notes
		FROM invoices WHERE id = $1`, id)

	var inv domain.Invoice
	err := row.Scan(&inv.ID, &inv.SupplierID, &inv.ContractID, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.Status, &inv.CurrentVersion, &inv.RawFilePointer, &inv.SubmittedAt, &inv.SubmissionNotes)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get invoice", err)
	}
	return &inv, nil
}

func (r *Repository) GetInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) (*domain.InvoiceVersion, error) {
	row := r.txOrPool(tx).QueryRow(ctx, `
		SELECT id, invoice_id, version_number, raw_file_pointer, file_format, submitted_at, notes
		FROM invoice_versions WHERE invoice_id = $1 AND version_number = $2`, invoiceID, versionNumber)

	var v domain.InvoiceVersion
	err := row.Scan(&v.ID, &v.InvoiceID, &v.VersionNumber, &v.RawFilePointer, &v.FileFormat, &v.SubmittedAt, &v.Notes)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get invoice version", err)
	}
	return &v, nil
}

// InsertInvoiceVersion is called by the upload/resubmit handlers (spec
// §6 upload, resubmit): never mutated once written, unique on
// (invoice_id, version_number).
func (r *Repository) InsertInvoiceVersion(ctx context.Context, tx pgx.Tx, v *domain.InvoiceVersion) error {
	_, err := r.txOrPool(tx).Exec(ctx, `
		INSERT INTO invoice_versions (id, invoice_id, version_number, raw_file_pointer, file_format, submitted_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.InvoiceID, v.VersionNumber, v.RawFilePointer, v.FileFormat, v.SubmittedAt, v.Notes)
	return wrapErr("insert invoice version", err)
}

// InsertInvoice is called by create_invoice (spec §6): current_version
// starts at 0 until the first InvoiceVersion lands.
func (r *Repository) InsertInvoice(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	_, err := r.txOrPool(tx).Exec(ctx, `
		INSERT INTO invoices (id, supplier_id, contract_id, invoice_number, invoice_date, status,
		                       current_version, raw_file_pointer, submitted_at, submission_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.SupplierID, inv.ContractID, inv.InvoiceNumber, inv.InvoiceDate, inv.Status,
		inv.CurrentVersion, inv.RawFilePointer, inv.SubmittedAt, inv.SubmissionNotes)
	return wrapErr("insert invoice", err)
}

func (r *Repository) UpdateInvoiceStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	_, err := r.txOrPool(tx).Exec(ctx,
		`UPDATE invoices SET status = $2 WHERE id = $1`, invoiceID, status)
	return wrapErr("update invoice status", err)
}

// UpdateInvoiceVersion bumps current_version and the file pointer; used
// by resubmit once the new InvoiceVersion row has been inserted.
func (r *Repository) UpdateInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, currentVersion int, rawFilePointer string) error {
	_, err := r.txOrPool(tx).Exec(ctx,
		`UPDATE invoices SET current_version = $2, raw_file_pointer = $3 WHERE id = $1`,
		invoiceID, currentVersion, rawFilePointer)
	return wrapErr("update invoice version", err)
}

func (r *Repository) InsertRawExtractionArtifact(ctx context.Context, tx pgx.Tx, artifact domain.RawExtractionArtifact) error {
	metadata, err := json.Marshal(artifact.Metadata)
	if err != nil {
		return wrapErr("marshal raw extraction artifact metadata", err)
	}
	_, err = r.txOrPool(tx).Exec(ctx, `
		INSERT INTO raw_extraction_artifacts (id, invoice_version_id, page_number, raw_text, extraction_method, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		artifact.ID, artifact.InvoiceVersionID, artifact.PageNumber, artifact.RawText, artifact.ExtractionMethod, metadata)
	return wrapErr("insert raw extraction artifact", err)
}

func (r *Repository) InsertLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	aiAssessment, err := marshalAIAssessment(line.AIAssessment)
	if err != nil {
		return err
	}
	_, err = r.txOrPool(tx).Exec(ctx, `
		INSERT INTO line_items (
			id, invoice_id, invoice_version, line_number, status,
			raw_description, raw_code, raw_amount, raw_quantity, raw_unit, claim_number, service_date,
			taxonomy_code, billing_component, mapping_confidence, mapping_rule_id, mapped_rate, expected_amount,
			ai_assessment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		line.ID, line.InvoiceID, line.InvoiceVersion, line.LineNumber, line.Status,
		line.RawDescription, line.RawCode, line.RawAmount, line.RawQuantity, line.RawUnit, line.ClaimNumber, line.ServiceDate,
		line.TaxonomyCode, line.BillingComponent, line.MappingConfidence, line.MappingRuleID, line.MappedRate, line.ExpectedAmount,
		aiAssessment)
	return wrapErr("insert line item", err)
}

func (r *Repository) UpdateLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	aiAssessment, err := marshalAIAssessment(line.AIAssessment)
	if err != nil {
		return err
	}
	_, err = r.txOrPool(tx).Exec(ctx, `
		UPDATE line_items SET
			status = $2, taxonomy_code = $3, billing_component = $4, mapping_confidence = $5,
			mapping_rule_id = $6, mapped_rate = $7, expected_amount = $8, ai_assessment = $9
		WHERE id = $1`,
		line.ID, line.Status, line.TaxonomyCode, line.BillingComponent, line.MappingConfidence,
		line.MappingRuleID, line.MappedRate, line.ExpectedAmount, aiAssessment)
	return wrapErr("update line item", err)
}

// GetLineItem is used by the exception-resolution handlers (spec §6
// respond_to_exception, resolve_exception) to re-fetch a line before
// applying its next transition.
func (r *Repository) GetLineItem(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LineItem, error) {
	row := r.txOrPool(tx).QueryRow(ctx, `
		SELECT id, invoice_id, invoice_version, line_number, status,
		       raw_description, raw_code, raw_amount, raw_quantity, raw_unit, claim_number, service_date,
		       taxonomy_code, billing_component, mapping_confidence, mapping_rule_id, mapped_rate, expected_amount,
		       ai_assessment
		FROM line_items WHERE id = $1`, id)

	var line domain.LineItem
	var aiAssessment []byte
	err := row.Scan(&line.ID, &line.InvoiceID, &line.InvoiceVersion, &line.LineNumber, &line.Status,
		&line.RawDescription, &line.RawCode, &line.RawAmount, &line.RawQuantity, &line.RawUnit, &line.ClaimNumber, &line.ServiceDate,
		&line.TaxonomyCode, &line.BillingComponent, &line.MappingConfidence, &line.MappingRuleID, &line.MappedRate, &line.ExpectedAmount,
		&aiAssessment)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get line item", err)
	}
	if len(aiAssessment) > 0 {
		var result domain.AIAssessmentResult
		if err := json.Unmarshal(aiAssessment, &result); err == nil {
			line.AIAssessment = &result
		}
	}
	return &line, nil
}

// ListLineItems returns every line item on the invoice's current version,
// ordered by line_number, for the CSV export and exception-listing reads.
func (r *Repository) ListLineItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) ([]domain.LineItem, error) {
	rows, err := r.txOrPool(tx).Query(ctx, `
		SELECT id, invoice_id, invoice_version, line_number, status,
		       raw_description, raw_code, raw_amount, raw_quantity, raw_unit, claim_number, service_date,
		       taxonomy_code, billing_component, mapping_confidence, mapping_rule_id, mapped_rate, expected_amount
		FROM line_items WHERE invoice_id = $1 AND invoice_version = $2 ORDER BY line_number`, invoiceID, versionNumber)
	if err != nil {
		return nil, wrapErr("list line items", err)
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.InvoiceVersion, &line.LineNumber, &line.Status,
			&line.RawDescription, &line.RawCode, &line.RawAmount, &line.RawQuantity, &line.RawUnit, &line.ClaimNumber, &line.ServiceDate,
			&line.TaxonomyCode, &line.BillingComponent, &line.MappingConfidence, &line.MappingRuleID, &line.MappedRate, &line.ExpectedAmount); err != nil {
			return nil, wrapErr("scan line item", err)
		}
		out = append(out, line)
	}
	return out, wrapErr("list line items rows", rows.Err())
}

// ListInvoicesByStatus scans every invoice currently in status, oldest
// submission first. Used by cmd/ebilling-worker to find SUBMITTED
// invoices (a run that failed and was set back to SUBMITTED, or one that
// never started) and re-drive them through the orchestrator.
func (r *Repository) ListInvoicesByStatus(ctx context.Context, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	rows, err := r.txOrPool(nil).Query(ctx, `
		SELECT id, supplier_id, contract_id, invoice_number, invoice_date, status,
		       current_version, raw_file_pointer, submitted_at, submission_notes
		FROM invoices WHERE status = $1 ORDER BY submitted_at ASC NULLS LAST`, status)
	if err != nil {
		return nil, wrapErr("list invoices by status", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.SupplierID, &inv.ContractID, &inv.InvoiceNumber, &inv.InvoiceDate,
			&inv.Status, &inv.CurrentVersion, &inv.RawFilePointer, &inv.SubmittedAt, &inv.SubmissionNotes); err != nil {
			return nil, wrapErr("scan invoice", err)
		}
		out = append(out, inv)
	}
	return out, wrapErr("list invoices by status rows", rows.Err())
}

func marshalAIAssessment(a *domain.AIAssessmentResult) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, wrapErr("marshal ai assessment", err)
	}
	return raw, nil
}
