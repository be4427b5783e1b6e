package ingestion

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// columnAliases maps canonical field name to every accepted header
// variant, case-insensitive, per spec §6's CSV header alias table.
var columnAliases = map[string][]string{
	"description": {
		"description", "service description", "line description", "desc",
		"service", "item", "charge description", "billing description",
	},
	"amount": {
		"amount", "total", "total amount", "billed amount", "charge", "fee",
		"invoice amount", "gross amount", "line total", "extended amount",
	},
	"quantity": {
		"quantity", "qty", "units", "unit quantity", "hours", "count", "num",
		"number", "volume",
	},
	"unit": {
		"unit", "unit type", "uom", "unit of measure", "billing unit", "rate unit",
	},
	"code": {
		"code", "service code", "billing code", "procedure code", "item code",
		"charge code", "cpt", "cpt code",
	},
	"claim_number": {
		"claim number", "claim", "claim no", "claim#", "claimant number",
		"file number", "file no", "ref", "reference", "reference number",
	},
	"service_date": {
		"service date", "date of service", "dos", "date", "exam date",
		"inspection date", "visit date", "transaction date", "invoice date",
	},
}

var requiredCanonicalFields = []string{"description", "amount"}

const rawTextSampleBytes = 5 * 1024

// CSVParser implements Parser for CSV/TSV uploads (spec §4.2).
type CSVParser struct{}

func NewCSVParser() *CSVParser { return &CSVParser{} }

func (p *CSVParser) Parse(data []byte, filename string) (*ParseResult, error) {
	text, warnings, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	delimiter := detectDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, NewParseError(fmt.Sprintf("could not parse file as delimited text: %s", err))
	}
	if len(rows) == 0 {
		return nil, NewParseError("file contains no rows")
	}

	header := rows[0]
	colMap, missing := buildColumnMap(header)
	for _, field := range requiredCanonicalFields {
		if _, ok := colMap[field]; !ok {
			return nil, NewParseError(fmt.Sprintf("required column %q not found in header (accepted headers: %s)", field, strings.Join(columnAliases[field], ", ")))
		}
	}
	for _, m := range missing {
		warnings = append(warnings, fmt.Sprintf("optional column %q not found", m))
	}

	var items []RawLineItem
	for i, row := range rows[1:] {
		rowNumber := i + 2 // 1-based, +1 for header row
		lineNumber := rowNumber - 1
		item, warn, skip := parseRow(row, colMap, lineNumber)
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("row %d: %s", rowNumber, warn))
		}
		if skip {
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, NewParseError("no valid line items found in file")
	}

	sample := text
	if len(sample) > rawTextSampleBytes {
		sample = sample[:rawTextSampleBytes]
	}

	return &ParseResult{
		LineItems:        items,
		RawText:          sample,
		ExtractionMethod: "csv",
		Warnings:         warnings,
	}, nil
}

// decodeText strips a UTF-8 BOM and decodes as UTF-8; on invalid UTF-8 it
// falls back to Latin-1 with a warning, per spec §4.2.
func decodeText(data []byte) (string, []string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	if utf8.Valid(data) {
		return string(data), nil, nil
	}

	// Latin-1 (ISO-8859-1) maps byte values 0-255 directly to the
	// identically numbered Unicode code points, so decoding is a
	// rune-per-byte widening with no library needed.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), []string{"file was not valid UTF-8; decoded as Latin-1"}, nil
}

// detectDelimiter scans the first 2 KiB for a tab; tab wins over comma
// when present (spec §4.2).
func detectDelimiter(text string) rune {
	probeLen := 2048
	if len(text) < probeLen {
		probeLen = len(text)
	}
	if strings.ContainsRune(text[:probeLen], '\t') {
		return '\t'
	}
	return ','
}

// buildColumnMap normalizes header cells (trim + lowercase) and maps each
// to its canonical field via columnAliases, returning which canonical
// optional fields were not found.
func buildColumnMap(header []string) (map[string]int, []string) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	colMap := make(map[string]int)
	for canonical, aliases := range columnAliases {
		for i, h := range normalized {
			for _, alias := range aliases {
				if h == alias {
					colMap[canonical] = i
					break
				}
			}
			if _, ok := colMap[canonical]; ok {
				break
			}
		}
	}

	var missing []string
	for canonical := range columnAliases {
		if _, ok := colMap[canonical]; !ok {
			missing = append(missing, canonical)
		}
	}
	return colMap, missing
}

func cell(row []string, colMap map[string]int, field string) (string, bool) {
	idx, ok := colMap[field]
	if !ok || idx >= len(row) {
		return "", false
	}
	return row[idx], true
}

// parseRow converts one data row into a RawLineItem. A blank/invalid
// amount skips the row with a warning rather than failing the whole
// parse (spec §4.2: "empty amount on a row means that row is skipped
// with a row-scoped warning, not a fatal error").
func parseRow(row []string, colMap map[string]int, lineNumber int) (RawLineItem, string, bool) {
	descRaw, _ := cell(row, colMap, "description")
	desc := strings.TrimSpace(descRaw)
	if desc == "" {
		return RawLineItem{}, "missing description; row skipped", true
	}

	amountRaw, _ := cell(row, colMap, "amount")
	amount, ok := toDecimal(amountRaw)
	if !ok {
		return RawLineItem{}, fmt.Sprintf("missing or invalid amount %q; row skipped", amountRaw), true
	}

	quantity := decimal.NewFromInt(1)
	if qtyRaw, present := cell(row, colMap, "quantity"); present {
		if q, ok := toDecimal(qtyRaw); ok {
			quantity = q
		}
	}

	item := RawLineItem{
		LineNumber:     lineNumber,
		RawDescription: desc,
		RawAmount:      amount,
		RawQuantity:    quantity,
	}

	if unitRaw, present := cell(row, colMap, "unit"); present {
		item.RawUnit = cleanStr(unitRaw)
	}
	if codeRaw, present := cell(row, colMap, "code"); present {
		item.RawCode = cleanStr(codeRaw)
	}
	if claimRaw, present := cell(row, colMap, "claim_number"); present {
		item.ClaimNumber = cleanStr(claimRaw)
	}
	if dateRaw, present := cell(row, colMap, "service_date"); present {
		item.ServiceDate = toDate(dateRaw)
	}

	return item, "", false
}
