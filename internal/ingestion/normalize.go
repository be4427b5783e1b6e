package ingestion

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order; tolerant parsing per spec §4.2 ("accept
// common formats (ISO, US, long) via tolerant parsing; invalid -> null").
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// toDecimal strips currency punctuation and whitespace and parses as a
// decimal. Returns ok=false for a blank/invalid value rather than
// erroring, since the csv parser treats that as a row-scoped condition.
func toDecimal(raw string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// toDate tolerantly parses raw as a date, returning nil on any failure —
// an unparsable date is dropped, never a fatal error (spec §4.2).
func toDate(raw string) *time.Time {
	s := cleanStr(raw)
	if s == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}

// cleanStr trims raw and returns nil for empty/placeholder values
// ("nan", "none", "n/a", "null") so downstream fields stay genuinely
// optional rather than holding sentinel strings.
func cleanStr(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	switch strings.ToLower(trimmed) {
	case "nan", "none", "n/a", "null", "nat":
		return nil
	}
	return &trimmed
}
