package domain

import (
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
)

// invoiceTransitions is the complete permitted-transition table from
// spec §4.6. Any (from, to) pair absent from this table is rejected.
//
// The SUPPLIER_RESPONDED -> APPROVED edge is deliberately absent: per
// DESIGN.md's open-question decision, a carrier must route through
// CARRIER_REVIEWING before approving an invoice that had supplier
// activity on an exception.
var invoiceTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceDraft: {
		InvoiceSubmitted: true,
	},
	InvoiceSubmitted: {
		InvoiceProcessing: true,
	},
	InvoiceProcessing: {
		InvoicePendingCarrierReview: true,
		InvoiceReviewRequired:       true,
		InvoiceSubmitted:            true, // compensating transition on storage failure, spec §5/§7
	},
	InvoiceReviewRequired: {
		InvoiceSupplierResponded: true,
		InvoiceSubmitted:         true, // supplier resubmits a new version
	},
	InvoiceSupplierResponded: {
		InvoiceCarrierReviewing: true,
		InvoiceSubmitted:        true, // supplier resubmits a new version (spec §6 resubmit)
	},
	InvoicePendingCarrierReview: {
		InvoiceApproved:       true,
		InvoiceReviewRequired: true,
	},
	InvoiceCarrierReviewing: {
		InvoiceApproved:       true,
		InvoiceReviewRequired: true,
		InvoiceDisputed:       true,
	},
	InvoiceDisputed: {
		InvoiceCarrierReviewing: true,
	},
	InvoiceApproved: {
		InvoiceExported: true,
	},
}

// nonTerminalInvoiceStatuses lists every status from which a supplier may
// withdraw, per spec §4.6 ("any non-terminal -> WITHDRAWN").
var nonTerminalInvoiceStatuses = []InvoiceStatus{
	InvoiceDraft, InvoiceSubmitted, InvoiceProcessing, InvoicePendingCarrierReview,
	InvoiceReviewRequired, InvoiceSupplierResponded, InvoiceCarrierReviewing,
	InvoiceDisputed, InvoiceApproved,
}

func init() {
	for _, s := range nonTerminalInvoiceStatuses {
		if invoiceTransitions[s] == nil {
			invoiceTransitions[s] = map[InvoiceStatus]bool{}
		}
		invoiceTransitions[s][InvoiceWithdrawn] = true
	}
}

// CanTransitionInvoice reports whether from -> to is a permitted edge.
func CanTransitionInvoice(from, to InvoiceStatus) bool {
	if from.Terminal() {
		return false
	}
	return invoiceTransitions[from][to]
}

// TransitionInvoice validates and applies from -> to, returning a typed
// conflict error for any transition not in the permitted set.
func TransitionInvoice(inv *Invoice, to InvoiceStatus) error {
	if inv.Status.Terminal() {
		return apperrors.Conflictf("invoice %s is in terminal status %s; no further transitions are permitted", inv.ID, inv.Status)
	}
	if !CanTransitionInvoice(inv.Status, to) {
		return apperrors.Conflictf("invoice %s: transition %s -> %s is not permitted", inv.ID, inv.Status, to)
	}
	inv.Status = to
	return nil
}

// lineTransitions mirrors spec §4.6's line-item lifecycle:
// PENDING -> CLASSIFIED -> (VALIDATED | EXCEPTION) -> (OVERRIDE | RESOLVED | APPROVED | DISPUTED | DENIED).
var lineTransitions = map[LineItemStatus]map[LineItemStatus]bool{
	LinePending: {
		LineClassified: true,
		LineException:  true, // classifier returns UNRECOGNIZED
	},
	LineClassified: {
		LineValidated: true,
		LineException: true,
	},
	LineValidated: {
		LineOverride: true,
		LineResolved: true,
		LineApproved: true,
		LineDisputed: true,
		LineDenied:   true,
	},
	LineException: {
		LineOverride: true,
		LineResolved: true,
		LineApproved: true,
		LineDisputed: true,
		LineDenied:   true,
	},
	LineOverride: {
		LineApproved: true,
		LineDisputed: true,
		LineDenied:   true,
	},
	LineResolved: {
		LineApproved: true,
		LineDisputed: true,
		LineDenied:   true,
	},
	LineDisputed: {
		LineResolved: true,
		LineApproved: true,
		LineDenied:   true,
	},
}

func CanTransitionLine(from, to LineItemStatus) bool {
	if from.Terminal() {
		return false
	}
	return lineTransitions[from][to]
}

func TransitionLine(li *LineItem, to LineItemStatus) error {
	if li.Status.Terminal() {
		return apperrors.Conflictf("line item %s is in terminal status %s", li.ID, li.Status)
	}
	if !CanTransitionLine(li.Status, to) {
		return apperrors.Conflictf("line item %s: transition %s -> %s is not permitted", li.ID, li.Status, to)
	}
	li.Status = to
	return nil
}

// exceptionTransitions mirrors spec §4.6's exception lifecycle:
// OPEN -> SUPPLIER_RESPONDED -> CARRIER_REVIEWING -> (RESOLVED | WAIVED),
// plus the direct-from-OPEN/SUPPLIER_RESPONDED carrier shortcuts.
var exceptionTransitions = map[ExceptionStatus]map[ExceptionStatus]bool{
	ExceptionOpen: {
		ExceptionSupplierResponded: true,
		ExceptionResolved:          true,
		ExceptionWaived:            true,
	},
	ExceptionSupplierResponded: {
		ExceptionCarrierReviewing: true,
		ExceptionResolved:         true,
		ExceptionWaived:           true,
	},
	ExceptionCarrierReviewing: {
		ExceptionResolved: true,
		ExceptionWaived:   true,
	},
}

func CanTransitionException(from, to ExceptionStatus) bool {
	if from.Terminal() {
		return false
	}
	return exceptionTransitions[from][to]
}

func TransitionException(e *ExceptionRecord, to ExceptionStatus) error {
	if e.Status.Terminal() {
		return apperrors.Conflictf("exception %s is in terminal status %s", e.ID, e.Status)
	}
	if !CanTransitionException(e.Status, to) {
		return apperrors.Conflictf("exception %s: transition %s -> %s is not permitted", e.ID, e.Status, to)
	}
	e.Status = to
	return nil
}
