package orchestrator_test

import (
	"context"
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
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
	"github.com/mzemanski-eng/claims-ebilling/internal/taxonomy"
)

// fakeTransactor runs fn once, inline, with a nil pgx.Tx; the fake Store
// ignores the tx argument entirely, so no real connection is needed.
type fakeTransactor struct{}

func (fakeTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// fakeStore is an in-memory Store sufficient to drive one pipeline run
// end to end without a database.
type fakeStore struct {
	mu          sync.Mutex
	invoices    map[uuid.UUID]*domain.Invoice
	contracts   map[uuid.UUID]*domain.Contract
	versions    map[uuid.UUID]*domain.InvoiceVersion
	guidelines  []domain.Guideline
	lineItems   []*domain.LineItem
	artifacts   []domain.RawExtractionArtifact
	validations []*domain.ValidationResult
	exceptions  []*domain.ExceptionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invoices:  map[uuid.UUID]*domain.Invoice{},
		contracts: map[uuid.UUID]*domain.Contract{},
		versions:  map[uuid.UUID]*domain.InvoiceVersion{},
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
	return s.guidelines, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

func (s *fakeStore) InsertLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineItems = append(s.lineItems, line)
	return nil
}

func (s *fakeStore) UpdateLineItem(ctx context.Context, tx pgx.Tx, line *domain.LineItem) error {
	return nil
}

func (s *fakeStore) InsertValidationResult(ctx context.Context, tx pgx.Tx, vr *domain.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations = append(s.validations, vr)
	return nil
}

func (s *fakeStore) InsertExceptionRecord(ctx context.Context, tx pgx.Tx, exc *domain.ExceptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, exc)
	return nil
}

type fakeAuditStore struct{}

func (fakeAuditStore) InsertAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	return nil
}

// fakeMappingRuleSource supplies no rules, forcing classification down to
// the built-in rule table.
type fakeMappingRuleSource struct{}

func (fakeMappingRuleSource) SupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error) {
	return nil, nil
}

func (fakeMappingRuleSource) GlobalRules(ctx context.Context) ([]domain.MappingRule, error) {
	return nil, nil
}

// fakeRateCards serves one fixed rate card for IME.PHY_EXAM.PROF_FEE.
type fakeRateCards struct {
	rateCard *domain.RateCard
}

func (f fakeRateCards) EffectiveRateCard(contractID uuid.UUID, taxonomyCode string, serviceDate time.Time) (*domain.RateCard, error) {
	if taxonomyCode == f.rateCard.TaxonomyCode {
		return f.rateCard, nil
	}
	return nil, nil
}

func buildOrchestrator(store *fakeStore, rateCard *domain.RateCard) *orchestrator.Orchestrator {
	classifier := classification.NewClassifier(fakeMappingRuleSource{})
	rateValidator := ratevalidation.NewRateValidator(fakeRateCards{rateCard: rateCard})
	guidelineValidator := guidelinevalidation.NewGuidelineValidator(nil)
	auditLogger := audit.NewLogger(fakeAuditStore{}, nil)
	registry := taxonomy.NewRegistry([]domain.TaxonomyItem{
		{Code: "IME.PHY_EXAM.PROF_FEE", Domain: "IME", Label: "IME Physician Exam", Description: "Independent medical examination physician fee", Active: true},
	})
	return orchestrator.New(fakeTransactor{}, store, classifier, rateValidator, guidelineValidator, nil, auditLogger, nil, registry, nil)
}

func seedInvoice(store *fakeStore, contractID uuid.UUID) *domain.Invoice {
	inv := &domain.Invoice{
		ID:             uuid.New(),
		SupplierID:     uuid.New(),
		ContractID:     contractID,
		InvoiceNumber:  "INV-1001",
		InvoiceDate:    time.Now(),
		Status:         domain.InvoiceSubmitted,
		CurrentVersion: 1,
	}
	store.invoices[inv.ID] = inv
	store.versions[inv.ID] = &domain.InvoiceVersion{ID: uuid.New(), InvoiceID: inv.ID, VersionNumber: 1}
	return inv
}

var _ = Describe("Orchestrator.ProcessInvoice", func() {
	var (
		store      *fakeStore
		contract   *domain.Contract
		rateCard   *domain.RateCard
		invoice    *domain.Invoice
		orch       *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		store = newFakeStore()
		contract = &domain.Contract{ID: uuid.New(), SupplierID: uuid.New(), CarrierID: uuid.New(), Name: "Acme Carrier Contract"}
		store.contracts[contract.ID] = contract
		rateCard = &domain.RateCard{
			ID: uuid.New(), ContractID: contract.ID, TaxonomyCode: "IME.PHY_EXAM.PROF_FEE",
			ContractedRate: decimal.RequireFromString("600.00"),
		}
		invoice = seedInvoice(store, contract.ID)
		orch = buildOrchestrator(store, rateCard)
	})

	It("processes a clean single line to PENDING_CARRIER_REVIEW", func() {
		csv := []byte("description,amount,quantity\nIME Physician Examination,600.00,1\n")
		summary, err := orch.ProcessInvoice(context.Background(), invoice.ID, csv, "invoice.csv")

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Status).To(Equal(domain.InvoicePendingCarrierReview))
		Expect(summary.LinesProcessed).To(Equal(1))
		Expect(summary.LinesError).To(Equal(0))
		Expect(store.invoices[invoice.ID].Status).To(Equal(domain.InvoicePendingCarrierReview))
		Expect(store.lineItems).To(HaveLen(1))
		Expect(store.lineItems[0].Status).To(Equal(domain.LineValidated))
		Expect(store.exceptions).To(BeEmpty())
	})

	It("opens a classification exception for an unrecognized description", func() {
		csv := []byte("description,amount,quantity\nMiscellaneous Widget Rental,50.00,1\n")
		summary, err := orch.ProcessInvoice(context.Background(), invoice.ID, csv, "invoice.csv")

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Status).To(Equal(domain.InvoiceReviewRequired))
		Expect(store.lineItems[0].Status).To(Equal(domain.LineException))
		Expect(store.exceptions).To(HaveLen(1))
		Expect(store.validations[0].ValidationType).To(Equal(domain.ValidationTypeClassification))
	})

	It("flags a rate overage as FAIL with ACCEPT_REDUCTION and corrects expected_amount", func() {
		csv := []byte("description,amount,quantity\nIME Physician Examination,700.00,1\n")
		summary, err := orch.ProcessInvoice(context.Background(), invoice.ID, csv, "invoice.csv")

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Status).To(Equal(domain.InvoiceReviewRequired))
		Expect(store.lineItems[0].Status).To(Equal(domain.LineException))
		Expect(store.lineItems[0].ExpectedAmount).NotTo(BeNil())
		Expect(store.lineItems[0].ExpectedAmount.StringFixed(2)).To(Equal("600.00"))
		Expect(store.exceptions).To(HaveLen(1))
		Expect(store.validations).To(ContainElement(HaveField("RequiredAction", domain.ActionAcceptReduction)))
	})

	It("marks the invoice REVIEW_REQUIRED on a parse failure without creating line items", func() {
		csv := []byte("description,quantity\nMissing amount column,1\n")
		summary, err := orch.ProcessInvoice(context.Background(), invoice.ID, csv, "invoice.csv")

		Expect(err).To(HaveOccurred())
		Expect(summary).To(BeNil())
		Expect(store.invoices[invoice.ID].Status).To(Equal(domain.InvoiceReviewRequired))
		Expect(store.lineItems).To(BeEmpty())
	})
})
