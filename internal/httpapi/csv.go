package httpapi

import (
	"bytes"
	"encoding/csv"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// exportColumns is the exact column order spec §6 export_invoice names.
var exportColumns = []string{
	"invoice_number", "claim_number", "service_date", "description",
	"taxonomy_code", "billing_component", "quantity", "unit",
	"billed_amount", "approved_amount",
}

// buildExportCSV writes one row per approved line, in the order spec §6
// names. approved_amount is the expected_amount the pipeline settled on
// (the corrected rate, or the raw amount if no correction applied);
// billed_amount is always what the supplier originally submitted.
func buildExportCSV(invoice *domain.Invoice, lines []domain.LineItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, line := range lines {
		approvedAmount := line.RawAmount
		if line.ExpectedAmount != nil {
			approvedAmount = *line.ExpectedAmount
		}
		serviceDate := ""
		if line.ServiceDate != nil {
			serviceDate = line.ServiceDate.Format("2006-01-02")
		}
		row := []string{
			invoice.InvoiceNumber,
			stringOrEmpty(line.ClaimNumber),
			serviceDate,
			line.RawDescription,
			stringOrEmpty(line.TaxonomyCode),
			stringOrEmpty(line.BillingComponent),
			line.RawQuantity.String(),
			stringOrEmpty(line.RawUnit),
			line.RawAmount.StringFixed(2),
			approvedAmount.StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
