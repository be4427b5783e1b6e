// Package ingestion turns uploaded invoice files into normalized
// RawLineItems plus a retained raw-text artifact (spec §4.2). Parsers
// never write state; they are pure functions of (bytes, filename).
package ingestion

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawLineItem is one normalized row extracted from an uploaded file.
type RawLineItem struct {
	LineNumber      int // 1-based within the file
	RawDescription  string
	RawAmount       decimal.Decimal
	RawQuantity     decimal.Decimal
	RawUnit         *string
	RawCode         *string
	ClaimNumber     *string
	ServiceDate     *time.Time
	ExtractionNotes []string
}

// ParseResult is the output of a successful parse.
type ParseResult struct {
	LineItems        []RawLineItem
	RawText          string
	ExtractionMethod string
	Warnings         []string
	PageCount        *int
}

// ParseError is a typed, human-readable parse failure. The orchestrator
// maps any ParseError to an invoice REVIEW_REQUIRED transition without
// creating line items (spec §4.6 step (b), §7 error kind 1).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return e.Reason
}

func NewParseError(reason string) *ParseError {
	return &ParseError{Reason: reason}
}

// Parser is the contract every format-specific implementation satisfies.
type Parser interface {
	Parse(data []byte, filename string) (*ParseResult, error)
}
