// Package audit is the only writer of AuditEvent rows. Every other
// package that needs to record history calls through here rather than
// constructing domain.AuditEvent directly, so created_at stays
// store-assigned and a logging failure never blocks the caller's flow.
package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
	"go.uber.org/zap"
)

// Store persists one AuditEvent; CreatedAt is assigned by the store, not
// the caller.
type Store interface {
	InsertAuditEvent(ctx context.Context, event domain.AuditEvent) error
}

// Logger writes audit events. It never returns an error to its callers:
// a failed audit write is logged and swallowed so it can never block the
// pipeline it is observing.
type Logger struct {
	store  Store
	logger *zap.Logger
}

func NewLogger(store Store, zapLogger *zap.Logger) *Logger {
	return &Logger{store: store, logger: zapLogger}
}

// Log writes an immutable audit event. actorID is nil for system events.
func (l *Logger) Log(ctx context.Context, entityType string, entityID uuid.UUID, eventType domain.AuditEventType, actorType domain.ActorType, actorID *uuid.UUID, payload map[string]interface{}) {
	event := domain.AuditEvent{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		ActorType:  actorType,
		ActorID:    actorID,
		Payload:    safePayload(payload),
	}

	if err := l.store.InsertAuditEvent(ctx, event); err != nil && l.logger != nil {
		l.logger.Warn("failed to write audit event",
			logging.NewFields().Component("audit").Operation(string(eventType)).
				Resource(entityType, entityID.String()).Error(err).Build()...)
	}
}

// safePayload normalizes payload values for the JSON encoder: primitives,
// map[string]interface{} and []interface{} pass through, any other value
// with a String() method (uuid.UUID, decimal.Decimal, ...) is replaced by
// its string form, and every remaining value passes through unchanged.
func safePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = normalize(v)
	}
	return out
}

type stringer interface{ String() string }

func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, map[string]interface{}, []interface{}:
		return val
	case stringer:
		return val.String()
	default:
		return val
	}
}

// ── Convenience wrappers for the common, spec §6 event names ──────────────

func (l *Logger) InvoiceSubmitted(ctx context.Context, inv *domain.Invoice, actorID *uuid.UUID) {
	l.Log(ctx, "invoice", inv.ID, domain.EventInvoiceSubmitted, domain.ActorSupplier, actorID, map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"supplier_id":    inv.SupplierID,
		"contract_id":    inv.ContractID,
		"status":         inv.Status,
		"version":        inv.CurrentVersion,
	})
}

func (l *Logger) InvoiceStatusChanged(ctx context.Context, inv *domain.Invoice, from, to domain.InvoiceStatus, actorType domain.ActorType, actorID *uuid.UUID) {
	l.Log(ctx, "invoice", inv.ID, domain.EventInvoiceStatusChanged, actorType, actorID, map[string]interface{}{
		"from_status":    from,
		"to_status":      to,
		"invoice_number": inv.InvoiceNumber,
	})
}

func (l *Logger) LineItemClassified(ctx context.Context, line *domain.LineItem, matchType *domain.MatchType, matchExplanation string) {
	l.Log(ctx, "line_item", line.ID, domain.EventLineItemClassified, domain.ActorSystem, nil, map[string]interface{}{
		"taxonomy_code":      line.TaxonomyCode,
		"billing_component":  line.BillingComponent,
		"mapping_confidence": line.MappingConfidence,
		"match_type":         matchType,
		"match_explanation":  matchExplanation,
	})
}

func (l *Logger) ExceptionOpened(ctx context.Context, line *domain.LineItem, validationType domain.ValidationType, status domain.ValidationStatus, severity domain.ValidationSeverity, message string, requiredAction domain.RequiredAction) {
	l.Log(ctx, "line_item", line.ID, domain.EventExceptionOpened, domain.ActorSystem, nil, map[string]interface{}{
		"validation_type": validationType,
		"status":          status,
		"severity":        severity,
		"message":         message,
		"required_action": requiredAction,
	})
}

func (l *Logger) MappingOverridden(ctx context.Context, rule *domain.MappingRule, oldTaxonomyCode *string, actorID uuid.UUID) {
	scope := "global"
	if rule.SupplierID != nil {
		scope = "supplier"
	}
	l.Log(ctx, "mapping_rule", rule.ID, domain.EventMappingRuleOverridden, domain.ActorCarrier, &actorID, map[string]interface{}{
		"old_taxonomy_code": oldTaxonomyCode,
		"new_taxonomy_code": rule.TaxonomyCode,
		"match_pattern":     rule.MatchPattern,
		"match_type":        rule.MatchType,
		"scope":             scope,
	})
}

func (l *Logger) ExceptionResolved(ctx context.Context, exc *domain.ExceptionRecord, actorType domain.ActorType, actorID uuid.UUID) {
	l.Log(ctx, "exception", exc.ID, domain.EventExceptionResolved, actorType, &actorID, map[string]interface{}{
		"line_item_id":      exc.LineItemID,
		"resolution_action": exc.ResolutionAction,
		"resolution_notes":  exc.ResolutionNotes,
	})
}

func (l *Logger) ExceptionSupplierResponded(ctx context.Context, exc *domain.ExceptionRecord, actorID uuid.UUID) {
	l.Log(ctx, "exception", exc.ID, domain.EventExceptionSupplierResponded, domain.ActorSupplier, &actorID, map[string]interface{}{
		"line_item_id":      exc.LineItemID,
		"supplier_response": exc.SupplierResponse,
	})
}

// InvoiceChangesRequested stores the carrier's free-text notes only in
// the immutable audit payload; no schema change is needed to recover them.
func (l *Logger) InvoiceChangesRequested(ctx context.Context, inv *domain.Invoice, carrierNotes string, actorID uuid.UUID) {
	l.Log(ctx, "invoice", inv.ID, domain.EventInvoiceChangesRequested, domain.ActorCarrier, &actorID, map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"to_status":      domain.InvoiceReviewRequired,
		"carrier_notes":  carrierNotes,
	})
}
