package audit_test

import (
	"context"
	"errors"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

type fakeStore struct {
	events  []domain.AuditEvent
	failErr error
}

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.events = append(f.events, event)
	return nil
}

var _ = Describe("Logger", func() {
	It("writes an invoice.submitted event with a supplier actor", func() {
		store := &fakeStore{}
		l := audit.NewLogger(store, zap.NewNop())
		inv := &domain.Invoice{ID: uuid.New(), InvoiceNumber: "INV-1", Status: domain.InvoiceSubmitted, CurrentVersion: 1}
		actorID := uuid.New()

		l.InvoiceSubmitted(context.Background(), inv, &actorID)

		Expect(store.events).To(HaveLen(1))
		Expect(store.events[0].EventType).To(Equal(domain.EventInvoiceSubmitted))
		Expect(store.events[0].ActorType).To(Equal(domain.ActorSupplier))
		Expect(store.events[0].Payload["invoice_number"]).To(Equal("INV-1"))
	})

	It("never propagates a store error to the caller", func() {
		store := &fakeStore{failErr: errors.New("connection refused")}
		l := audit.NewLogger(store, zap.NewNop())
		inv := &domain.Invoice{ID: uuid.New(), InvoiceNumber: "INV-2"}

		Expect(func() {
			l.InvoiceSubmitted(context.Background(), inv, nil)
		}).NotTo(Panic())
	})

	It("records the from/to status transition on a status-changed event", func() {
		store := &fakeStore{}
		l := audit.NewLogger(store, zap.NewNop())
		inv := &domain.Invoice{ID: uuid.New(), InvoiceNumber: "INV-3"}

		l.InvoiceStatusChanged(context.Background(), inv, domain.InvoiceProcessing, domain.InvoiceReviewRequired, domain.ActorSystem, nil)

		Expect(store.events[0].Payload["from_status"]).To(Equal(domain.InvoiceProcessing))
		Expect(store.events[0].Payload["to_status"]).To(Equal(domain.InvoiceReviewRequired))
	})

	It("stores carrier notes on a changes-requested event without touching the schema", func() {
		store := &fakeStore{}
		l := audit.NewLogger(store, zap.NewNop())
		inv := &domain.Invoice{ID: uuid.New(), InvoiceNumber: "INV-4"}
		actorID := uuid.New()

		l.InvoiceChangesRequested(context.Background(), inv, "please attach the treatment summary", actorID)

		Expect(store.events[0].Payload["carrier_notes"]).To(Equal("please attach the treatment summary"))
		Expect(store.events[0].ActorType).To(Equal(domain.ActorCarrier))
	})

	It("marks mapping rule scope as supplier when a supplier_id is set", func() {
		store := &fakeStore{}
		l := audit.NewLogger(store, zap.NewNop())
		supplierID := uuid.New()
		rule := &domain.MappingRule{ID: uuid.New(), SupplierID: &supplierID, TaxonomyCode: "IME.PHY_EXAM.PROF_FEE"}

		l.MappingOverridden(context.Background(), rule, nil, uuid.New())

		Expect(store.events[0].Payload["scope"]).To(Equal("supplier"))
	})
})
