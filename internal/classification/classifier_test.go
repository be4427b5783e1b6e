package classification_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

type fakeRuleSource struct {
	supplier map[uuid.UUID][]domain.MappingRule
	global   []domain.MappingRule
}

func (f *fakeRuleSource) SupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error) {
	return f.supplier[supplierID], nil
}

func (f *fakeRuleSource) GlobalRules(ctx context.Context) ([]domain.MappingRule, error) {
	return f.global, nil
}

var _ = Describe("Classifier", func() {
	It("falls back to built-in rules when no persisted rule matches", func() {
		c := classification.NewClassifier(&fakeRuleSource{})
		result, err := c.Classify(context.Background(), "IME Physician Examination", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Unrecognized()).To(BeFalse())
		Expect(*result.TaxonomyCode).To(Equal("IME.PHY_EXAM.PROF_FEE"))
		Expect(result.Confidence).To(Equal(domain.ConfidenceMedium))
	})

	It("returns Unrecognized when nothing matches", func() {
		c := classification.NewClassifier(&fakeRuleSource{})
		result, err := c.Classify(context.Background(), "Completely unrecognizable xyzzy service", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Unrecognized()).To(BeTrue())
	})

	It("prefers supplier-specific mapping rules over global and built-in", func() {
		supplierID := uuid.New()
		code := "ENG.CAUSE_ORIGIN.PROF_FEE"
		component := "PROF_FEE"
		rule := domain.MappingRule{
			ID: uuid.New(), SupplierID: &supplierID,
			MatchType: domain.MatchKeywordSet, MatchPattern: "ime,physician,exam",
			TaxonomyCode: code, BillingComponent: component,
			ConfidenceWeight: 0.95, ConfidenceLabel: domain.ConfidenceHigh,
			EffectiveFrom: time.Now().Add(-time.Hour),
		}
		source := &fakeRuleSource{supplier: map[uuid.UUID][]domain.MappingRule{supplierID: {rule}}}
		c := classification.NewClassifier(source)

		result, err := c.Classify(context.Background(), "IME Physician Examination", nil, &supplierID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*result.TaxonomyCode).To(Equal(code))
		Expect(result.ConfidenceWeight).To(Equal(0.95))
	})

	It("prefers global mapping rules over built-in when no supplier rule matches", func() {
		code := "REC.MED_RECORDS.RUSH_PREMIUM"
		rule := domain.MappingRule{
			ID: uuid.New(),
			MatchType: domain.MatchKeywordSet, MatchPattern: "rush,records",
			TaxonomyCode: code, BillingComponent: "RUSH_PREMIUM",
			ConfidenceWeight: 0.99, ConfidenceLabel: domain.ConfidenceHigh,
			EffectiveFrom: time.Now().Add(-time.Hour),
		}
		source := &fakeRuleSource{global: []domain.MappingRule{rule}}
		c := classification.NewClassifier(source)

		result, err := c.Classify(context.Background(), "Rush records processing fee", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(*result.TaxonomyCode).To(Equal(code))
	})

	It("ignores an expired mapping rule", func() {
		past := time.Now().Add(-time.Hour)
		rule := domain.MappingRule{
			ID: uuid.New(),
			MatchType: domain.MatchKeywordSet, MatchPattern: "surveillance",
			TaxonomyCode: "IA.CAT_ASSIGN.PROF_FEE", BillingComponent: "PROF_FEE",
			ConfidenceWeight: 0.99, ConfidenceLabel: domain.ConfidenceHigh,
			EffectiveFrom: time.Now().Add(-2 * time.Hour), EffectiveTo: &past,
		}
		source := &fakeRuleSource{global: []domain.MappingRule{rule}}
		c := classification.NewClassifier(source)

		result, err := c.Classify(context.Background(), "Surveillance hours billed", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(*result.TaxonomyCode).To(Equal("INV.SURVEILLANCE.PROF_FEE")) // built-in fallback, not the expired rule
	})

	It("matches the hyphenated multi-specialty keyword", func() {
		c := classification.NewClassifier(&fakeRuleSource{})
		result, err := c.Classify(context.Background(), "Multi-Specialty IME Panel review", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(*result.TaxonomyCode).To(Equal("IME.MULTI_SPECIALTY.PROF_FEE"))
	})
})
