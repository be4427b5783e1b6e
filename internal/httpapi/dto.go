package httpapi

// Request bodies for the spec §6 external-interface operations. Path
// parameters (invoice_id, exception_id) are taken from the chi route,
// not these bodies; IDs that do appear here are themselves request data
// (create_invoice names the supplier/contract to bill against).

type createInvoiceRequest struct {
	SupplierID    string `json:"supplier_id" validate:"required,uuid"`
	ContractID    string `json:"contract_id" validate:"required,uuid"`
	InvoiceNumber string `json:"invoice_number" validate:"required,max=128"`
	InvoiceDate   string `json:"invoice_date" validate:"required,datetime=2006-01-02"`
}

type respondToExceptionRequest struct {
	SupplierResponse  string  `json:"supplier_response" validate:"required"`
	SupportingDocPath *string `json:"supporting_doc_path,omitempty"`
}

type requestChangesRequest struct {
	CarrierNotes string `json:"carrier_notes" validate:"required"`
}

type resolveExceptionRequest struct {
	ResolutionAction string  `json:"resolution_action" validate:"required,oneof=REUPLOAD WAIVED HELD_CONTRACT_RATE RECLASSIFIED ACCEPTED_REDUCTION DENIED"`
	ResolutionNotes  *string `json:"resolution_notes,omitempty"`
}

type approveInvoiceRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// invoiceResponse is the JSON shape returned for every operation that
// hands back an invoice's current state.
type invoiceResponse struct {
	ID              string  `json:"id"`
	SupplierID      string  `json:"supplier_id"`
	ContractID      string  `json:"contract_id"`
	InvoiceNumber   string  `json:"invoice_number"`
	Status          string  `json:"status"`
	CurrentVersion  int     `json:"current_version"`
	SubmissionNotes string  `json:"submission_notes,omitempty"`
}

type pipelineSummaryResponse struct {
	InvoiceID      string   `json:"invoice_id"`
	Status         string   `json:"status"`
	LinesProcessed int      `json:"lines_processed"`
	LinesPass      int      `json:"lines_pass"`
	LinesError     int      `json:"lines_error"`
	LinesWarning   int      `json:"lines_warning"`
	ParseWarnings  []string `json:"parse_warnings,omitempty"`
}

type exceptionResponse struct {
	ID               string  `json:"id"`
	LineItemID       string  `json:"line_item_id"`
	Status           string  `json:"status"`
	SupplierResponse *string `json:"supplier_response,omitempty"`
	ResolutionAction *string `json:"resolution_action,omitempty"`
}
