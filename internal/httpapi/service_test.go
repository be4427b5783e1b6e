package httpapi_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/httpapi"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/taxonomy"
)

type fakeTransactor struct{}

func (fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// fakeStore is an in-memory httpapi.Store sufficient to drive Service's
// business logic (and, for upload/resubmit, a real Orchestrator run)
// without a database, mirroring the orchestrator package's own fakeStore.
type fakeStore struct {
	mu         sync.Mutex
	invoices   map[uuid.UUID]*domain.Invoice
	contracts  map[uuid.UUID]*domain.Contract
	versions   map[uuid.UUID]*domain.InvoiceVersion
	lineItems  map[uuid.UUID]*domain.LineItem
	exceptions map[uuid.UUID]*domain.ExceptionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invoices:   map[uuid.UUID]*domain.Invoice{},
		contracts:  map[uuid.UUID]*domain.Contract{},
		versions:   map[uuid.UUID]*domain.InvoiceVersion{},
		lineItems:  map[uuid.UUID]*domain.LineItem{},
		exceptions: map[uuid.UUID]*domain.ExceptionRecord{},
	}
}

func (s *fakeStore) LockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return "", 0, nil
	}
	return string(inv.Status), inv.CurrentVersion, nil
}

func (s *fakeStore) GetInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id], nil
}

func (s *fakeStore) GetContract(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[id], nil
}

func (s *fakeStore) GetActiveGuidelines(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) ([]domain.Guideline, error) {
	return nil, nil
}

func (s *fakeStore) GetInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) (*domain.InvoiceVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[invoiceID], nil
}

func (s *fakeStore) UpdateInvoiceStatus(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invoices[invoiceID]; ok {
		inv.Status = status
	}
	return nil
}

func (s *fakeStore) InsertRawExtractionArtifact(ctx context.Context, tx pgx.Tx, artifact domain.RawExtractionArtifact) error {
	return nil
}

func (s *fakeStore) InsertLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineItems[line.ID] = line
	return nil
}

func (s *fakeStore) UpdateLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineItems[line.ID] = line
	return nil
}

func (s *fakeStore) InsertValidationResult(ctx context.Context, tx pgx.Tx, vr *domain.ValidationResult) error {
	return nil
}

func (s *fakeStore) InsertExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[exc.ID] = exc
	return nil
}

func (s *fakeStore) InsertInvoice(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
	return nil
}

func (s *fakeStore) InsertInvoiceVersion(ctx context.Context, tx pgx.Tx, v *domain.InvoiceVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.InvoiceID] = v
	return nil
}

func (s *fakeStore) UpdateInvoiceVersion(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, currentVersion int, rawFilePointer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invoices[invoiceID]; ok {
		inv.CurrentVersion = currentVersion
		inv.RawFilePointer = rawFilePointer
	}
	return nil
}

func (s *fakeStore) GetLineItem(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineItems[id], nil
}

func (s *fakeStore) ListLineItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, versionNumber int) ([]domain.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LineItem
	for _, l := range s.lineItems {
		if l.InvoiceID == invoiceID && l.InvoiceVersion == versionNumber {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeStore) GetExceptionRecord(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ExceptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exceptions[id], nil
}

func (s *fakeStore) UpdateExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[exc.ID] = exc
	return nil
}

func (s *fakeStore) ListExceptionsByInvoice(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) ([]domain.ExceptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExceptionRecord
	for _, exc := range s.exceptions {
		if line, ok := s.lineItems[exc.LineItemID]; ok && line.InvoiceID == invoiceID {
			out = append(out, *exc)
		}
	}
	return out, nil
}

type fakeAuditStore struct{}

func (fakeAuditStore) InsertAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	return nil
}

type fakeMappingRuleSource struct{}

func (fakeMappingRuleSource) SupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error) {
	return nil, nil
}

func (fakeMappingRuleSource) GlobalRules(ctx context.Context) ([]domain.MappingRule, error) {
	return nil, nil
}

// fakeFileStore stands in for storage.Store: keeps bytes in memory keyed
// by a fabricated pointer, so submitVersion's persist step never touches
// disk in a test.
type fakeFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: map[string][]byte{}}
}

func (f *fakeFileStore) Save(ctx context.Context, invoiceID uuid.UUID, filename string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pointer := invoiceID.String() + "/" + filename
	f.files[pointer] = data
	return pointer, nil
}

func (f *fakeFileStore) Load(ctx context.Context, pointer string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[pointer], nil
}

func buildService(store *fakeStore) *httpapi.Service {
	classifier := classification.NewClassifier(fakeMappingRuleSource{})
	rateValidator := ratevalidation.NewRateValidator(nil)
	guidelineValidator := guidelinevalidation.NewGuidelineValidator(nil)
	auditLogger := audit.NewLogger(fakeAuditStore{}, nil)
	registry := taxonomy.NewRegistry(nil)
	orch := orchestrator.New(fakeTransactor{}, store, classifier, rateValidator, guidelineValidator, nil, auditLogger, nil, registry, nil)
	return httpapi.NewService(fakeTransactor{}, store, orch, auditLogger, newFakeFileStore(), nil)
}

func seedInvoice(store *fakeStore, status domain.InvoiceStatus) *domain.Invoice {
	inv := &domain.Invoice{
		ID:            uuid.New(),
		SupplierID:    uuid.New(),
		ContractID:    uuid.New(),
		InvoiceNumber: "INV-1001",
		Status:        status,
	}
	store.invoices[inv.ID] = inv
	return inv
}

var testActor = httpapi.Actor{Type: domain.ActorCarrier, ID: uuid.New()}

func mustParseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}

func decimalOf(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var _ = Describe("Service", func() {
	var store *fakeStore
	var svc *httpapi.Service

	BeforeEach(func() {
		store = newFakeStore()
		svc = buildService(store)
	})

	Describe("CreateInvoice", func() {
		It("starts the invoice in DRAFT", func() {
			supplierID, contractID := uuid.New(), uuid.New()
			inv, err := svc.CreateInvoice(context.Background(), supplierID, contractID, "INV-1", mustParseDate("2026-01-01"), "", testActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Status).To(Equal(domain.InvoiceDraft))
			Expect(inv.CurrentVersion).To(Equal(0))
			Expect(store.invoices[inv.ID]).NotTo(BeNil())
		})
	})

	Describe("Upload", func() {
		It("marks the invoice REVIEW_REQUIRED when the uploaded file cannot be parsed", func() {
			inv := seedInvoice(store, domain.InvoiceDraft)

			_, err := svc.Upload(context.Background(), inv.ID, []byte("line_number,description\n"), "claims.csv", testActor)

			var appErr *apperrors.AppError
			Expect(err).To(HaveOccurred())
			Expect(errorsAs(err, &appErr)).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.TypeValidation))
			Expect(store.invoices[inv.ID].Status).To(Equal(domain.InvoiceReviewRequired))
			Expect(store.invoices[inv.ID].CurrentVersion).To(Equal(1))
		})

		It("rejects a status that does not accept a new version", func() {
			inv := seedInvoice(store, domain.InvoiceApproved)

			_, err := svc.Upload(context.Background(), inv.ID, []byte("x"), "claims.csv", testActor)

			var appErr *apperrors.AppError
			Expect(errorsAs(err, &appErr)).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.TypeConflict))
		})
	})

	Describe("RequestChanges", func() {
		It("sends a PENDING_CARRIER_REVIEW invoice back to REVIEW_REQUIRED", func() {
			inv := seedInvoice(store, domain.InvoicePendingCarrierReview)

			got, err := svc.RequestChanges(context.Background(), inv.ID, "please re-check line 3", testActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(domain.InvoiceReviewRequired))
		})

		It("rejects any other starting status", func() {
			inv := seedInvoice(store, domain.InvoiceDraft)

			_, err := svc.RequestChanges(context.Background(), inv.ID, "notes", testActor)

			var appErr *apperrors.AppError
			Expect(errorsAs(err, &appErr)).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.TypeConflict))
		})
	})

	Describe("RespondToException", func() {
		It("transitions the exception and flips REVIEW_REQUIRED invoices to SUPPLIER_RESPONDED", func() {
			inv := seedInvoice(store, domain.InvoiceReviewRequired)
			line := &domain.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Status: domain.LineException}
			store.lineItems[line.ID] = line
			exc := &domain.ExceptionRecord{ID: uuid.New(), LineItemID: line.ID, Status: domain.ExceptionOpen}
			store.exceptions[exc.ID] = exc

			got, err := svc.RespondToException(context.Background(), exc.ID, "attached receipt", nil, testActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(domain.ExceptionSupplierResponded))
			Expect(*got.SupplierResponse).To(Equal("attached receipt"))
			Expect(store.invoices[inv.ID].Status).To(Equal(domain.InvoiceSupplierResponded))
		})
	})

	Describe("ResolveException", func() {
		It("denies the line when the resolution action is DENIED", func() {
			inv := seedInvoice(store, domain.InvoiceCarrierReviewing)
			line := &domain.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Status: domain.LineException}
			store.lineItems[line.ID] = line
			exc := &domain.ExceptionRecord{ID: uuid.New(), LineItemID: line.ID, Status: domain.ExceptionOpen}
			store.exceptions[exc.ID] = exc

			got, err := svc.ResolveException(context.Background(), exc.ID, domain.ResolutionDenied, nil, testActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(domain.ExceptionResolved))
			Expect(store.lineItems[line.ID].Status).To(Equal(domain.LineDenied))
		})

		It("waives the exception when the resolution action is WAIVED", func() {
			inv := seedInvoice(store, domain.InvoiceCarrierReviewing)
			line := &domain.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Status: domain.LineException}
			store.lineItems[line.ID] = line
			exc := &domain.ExceptionRecord{ID: uuid.New(), LineItemID: line.ID, Status: domain.ExceptionSupplierResponded}
			store.exceptions[exc.ID] = exc

			got, err := svc.ResolveException(context.Background(), exc.ID, domain.ResolutionWaived, nil, testActor)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(domain.ExceptionWaived))
		})
	})

	Describe("ApproveInvoice and ExportInvoice", func() {
		It("waives open exceptions, promotes eligible lines, and exports only APPROVED lines", func() {
			inv := seedInvoice(store, domain.InvoicePendingCarrierReview)
			inv.CurrentVersion = 1

			clean := &domain.LineItem{ID: uuid.New(), InvoiceID: inv.ID, InvoiceVersion: 1, LineNumber: 1,
				RawDescription: "IME exam", RawAmount: decimalOf("500.00"), RawQuantity: decimalOf("1"), Status: domain.LineValidated}
			store.lineItems[clean.ID] = clean

			excepted := &domain.LineItem{ID: uuid.New(), InvoiceID: inv.ID, InvoiceVersion: 1, LineNumber: 2,
				RawDescription: "Mileage", RawAmount: decimalOf("40.00"), RawQuantity: decimalOf("1"), Status: domain.LineException}
			store.lineItems[excepted.ID] = excepted
			exc := &domain.ExceptionRecord{ID: uuid.New(), LineItemID: excepted.ID, Status: domain.ExceptionOpen}
			store.exceptions[exc.ID] = exc

			_, err := svc.ApproveInvoice(context.Background(), inv.ID, nil, testActor)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.invoices[inv.ID].Status).To(Equal(domain.InvoiceApproved))
			Expect(store.exceptions[exc.ID].Status).To(Equal(domain.ExceptionWaived))
			Expect(store.lineItems[clean.ID].Status).To(Equal(domain.LineApproved))
			Expect(store.lineItems[excepted.ID].Status).To(Equal(domain.LineApproved))

			csv, err := svc.ExportInvoice(context.Background(), inv.ID, testActor)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(csv)).To(ContainSubstring("INV-1001"))
			Expect(string(csv)).To(ContainSubstring("500.00"))
			Expect(store.invoices[inv.ID].Status).To(Equal(domain.InvoiceExported))
		})
	})
})
