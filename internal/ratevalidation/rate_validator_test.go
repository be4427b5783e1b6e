package ratevalidation_test

import (
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
)

type fakeRateCards struct {
	card *domain.RateCard
}

func (f *fakeRateCards) EffectiveRateCard(contractID uuid.UUID, taxonomyCode string, serviceDate time.Time) (*domain.RateCard, error) {
	return f.card, nil
}

func newLine(amount, quantity string) *domain.LineItem {
	code := "IME.PHY_EXAM.PROF_FEE"
	return &domain.LineItem{
		ID:           uuid.New(),
		TaxonomyCode: &code,
		RawAmount:    decimal.RequireFromString(amount),
		RawQuantity:  decimal.RequireFromString(quantity),
	}
}

var _ = Describe("RateValidator", func() {
	It("fails the line when it has no taxonomy code", func() {
		lookup := &fakeRateCards{}
		v := ratevalidation.NewRateValidator(lookup)
		line := newLine("100.00", "1")
		line.TaxonomyCode = nil

		findings, err := v.Validate(line, uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].Status).To(Equal(domain.ValidationFail))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionRequestReclassification))
	})

	It("fails when no rate card covers the service", func() {
		lookup := &fakeRateCards{card: nil}
		v := ratevalidation.NewRateValidator(lookup)

		findings, err := v.Validate(newLine("100.00", "1"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionRequestReclassification))
	})

	It("passes when billed amount matches within tolerance", func() {
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("100.00")}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})

		findings, err := v.Validate(newLine("100.01", "1"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].Status).To(Equal(domain.ValidationPass))
	})

	It("fails and requires accepting a reduction when billed amount exceeds rate", func() {
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("100.00")}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})

		findings, err := v.Validate(newLine("150.00", "1"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings[0].Status).To(Equal(domain.ValidationFail))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionAcceptReduction))
	})

	It("warns without requiring action when billed amount is under the rate", func() {
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("100.00")}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})

		findings, err := v.Validate(newLine("50.00", "1"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings[0].Status).To(Equal(domain.ValidationWarning))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionNone))
	})

	It("flags quantity exceeding max units", func() {
		maxUnits := decimal.RequireFromString("2")
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("10.00"), MaxUnits: &maxUnits}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})

		findings, err := v.Validate(newLine("50.00", "5"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(2)) // amount check + max units check
		var unitsFinding *ratevalidation.Finding
		for i := range findings {
			if findings[i].RequiredAction == domain.ActionAcceptReduction && findings[i].ExpectedValue != nil && *findings[i].ExpectedValue == "2" {
				unitsFinding = &findings[i]
			}
		}
		Expect(unitsFinding).NotTo(BeNil())
	})

	It("flags bundled travel charges under an all-inclusive rate card", func() {
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("500.00"), IsAllInclusive: true}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})
		line := newLine("500.00", "1")
		component := "MILEAGE"
		line.BillingComponent = &component

		findings, err := v.Validate(line, uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(2))
		Expect(findings[1].RequiredAction).To(Equal(domain.ActionReupload))
	})

	It("rounds the expected amount half-to-even at an exact half-cent boundary", func() {
		// qty 2.5 x rate 40.002 = 100.005 exactly; banker's rounding rounds
		// to the nearest even cent (100.00), not away from zero (100.01).
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("40.002")}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})

		findings, err := v.Validate(newLine("100.00", "2.5"), uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
		Expect(*findings[0].ExpectedValue).To(Equal("100.00"))
	})

	It("does not flag bundling when billing component is not in the prohibited set", func() {
		card := &domain.RateCard{ID: uuid.New(), ContractedRate: decimal.RequireFromString("500.00"), IsAllInclusive: true}
		v := ratevalidation.NewRateValidator(&fakeRateCards{card: card})
		line := newLine("500.00", "1")
		component := "PROF_FEE"
		line.BillingComponent = &component

		findings, err := v.Validate(line, uuid.New())
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
	})
})
