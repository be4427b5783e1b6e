package ingestion

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PDFParser is reserved for a future implementation; it always fails
// cleanly with a typed "not implemented" error (spec §4.2, §6).
type PDFParser struct{}

func NewPDFParser() *PDFParser { return &PDFParser{} }

func (p *PDFParser) Parse(data []byte, filename string) (*ParseResult, error) {
	return nil, NewParseError("PDF parsing is not yet implemented. Please convert your invoice to CSV format.")
}

// Dispatcher is the single place input formats are enumerated and routed
// to a parser (spec §4.2 "the dispatch table is the only place formats
// are enumerated").
type Dispatcher struct {
	parsers map[string]Parser
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		parsers: map[string]Parser{
			"csv": NewCSVParser(),
			"pdf": NewPDFParser(),
		},
	}
}

// DetectFormat maps a filename's extension to a format key. Unsupported
// extensions with a plausible future implementation (xlsx/xls) get a
// distinct message from genuinely unknown extensions.
func DetectFormat(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv", ".tsv":
		return "csv", nil
	case ".pdf":
		return "pdf", nil
	case ".xlsx", ".xls":
		return "", NewParseError(fmt.Sprintf("spreadsheet format %q is not yet supported; please export as CSV", ext))
	default:
		return "", NewParseError(fmt.Sprintf("unsupported file extension %q", ext))
	}
}

// Parse detects filename's format and delegates to the matching parser.
func (d *Dispatcher) Parse(data []byte, filename string) (*ParseResult, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	parser, ok := d.parsers[format]
	if !ok {
		return nil, NewParseError(fmt.Sprintf("no parser registered for format %q", format))
	}
	return parser.Parse(data, filename)
}
