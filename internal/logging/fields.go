// Package logging builds structured zap fields with names consistent
// across every component, so log lines can be correlated by entity and
// operation regardless of which package emitted them.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields accumulates zap.Field values through a small fluent builder so
// call sites read as a list of facts about the log line rather than a
// literal slice of zap.Field construction calls.
type Fields struct {
	fields []zap.Field
}

// NewFields returns an empty builder.
func NewFields() *Fields {
	return &Fields{}
}

// Component records which subsystem emitted the log line.
func (f *Fields) Component(name string) *Fields {
	f.fields = append(f.fields, zap.String("component", name))
	return f
}

// Operation records the logical operation in progress.
func (f *Fields) Operation(name string) *Fields {
	f.fields = append(f.fields, zap.String("operation", name))
	return f
}

// Resource records the kind and, when known, the identifier of the entity
// the log line concerns. An empty name is omitted entirely.
func (f *Fields) Resource(kind, name string) *Fields {
	f.fields = append(f.fields, zap.String("resource_type", kind))
	if name != "" {
		f.fields = append(f.fields, zap.String("resource_name", name))
	}
	return f
}

// Duration records an elapsed time in milliseconds.
func (f *Fields) Duration(d time.Duration) *Fields {
	f.fields = append(f.fields, zap.Int64("duration_ms", d.Milliseconds()))
	return f
}

// Error records err's message. A nil err is a no-op so call sites can
// unconditionally chain it.
func (f *Fields) Error(err error) *Fields {
	if err == nil {
		return f
	}
	f.fields = append(f.fields, zap.String("error", err.Error()))
	return f
}

// Invoice records an invoice id.
func (f *Fields) Invoice(id string) *Fields {
	f.fields = append(f.fields, zap.String("invoice_id", id))
	return f
}

// LineItem records a line item id and its 1-based line number.
func (f *Fields) LineItem(id string, lineNumber int) *Fields {
	f.fields = append(f.fields, zap.String("line_item_id", id), zap.Int("line_number", lineNumber))
	return f
}

// Build returns the accumulated fields for passing to a zap logging call.
func (f *Fields) Build() []zap.Field {
	return f.fields
}
