package guidelinevalidation_test

import (
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/guidelinevalidation"
)

func newLine(amount, quantity, unit, component string) *domain.LineItem {
	code := "ENG.SITE_INSPECT.PROF_FEE"
	return &domain.LineItem{
		ID:               uuid.New(),
		TaxonomyCode:     &code,
		RawAmount:        decimal.RequireFromString(amount),
		RawQuantity:      decimal.RequireFromString(quantity),
		RawUnit:          &unit,
		BillingComponent: &component,
	}
}

var _ = Describe("GuidelineValidator", func() {
	v := guidelinevalidation.NewGuidelineValidator(nil)

	It("applies a guideline scoped to a matching taxonomy code", func() {
		code := "ENG.SITE_INSPECT.PROF_FEE"
		g := domain.Guideline{
			ID: uuid.New(), TaxonomyCode: &code, RuleType: "max_units", Severity: domain.SeverityError,
			RuleParams: map[string]interface{}{"max": 2.0, "period": "per_claim"},
		}
		findings := v.Validate(newLine("100", "5", "hours", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].Status).To(Equal(domain.ValidationFail))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionAcceptReduction))
	})

	It("skips a guideline scoped to a different taxonomy code", func() {
		code := "REC.MED_RECORDS.RUSH_PREMIUM"
		g := domain.Guideline{ID: uuid.New(), TaxonomyCode: &code, RuleType: "max_units",
			RuleParams: map[string]interface{}{"max": 1.0}}
		findings := v.Validate(newLine("100", "5", "hours", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(BeEmpty())
	})

	It("applies a domain-scoped guideline by matching the taxonomy code's domain prefix", func() {
		d := "ENG"
		g := domain.Guideline{ID: uuid.New(), Domain: &d, RuleType: "cap_amount", Severity: domain.SeverityError,
			RuleParams: map[string]interface{}{"max_amount": 50.0}}
		findings := v.Validate(newLine("100", "1", "hours", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionAcceptReduction))
	})

	It("applies a global guideline (no taxonomy code, no domain) to every line", func() {
		g := domain.Guideline{ID: uuid.New(), RuleType: "requires_auth",
			RuleParams: map[string]interface{}{"required": true}}
		findings := v.Validate(newLine("100", "1", "hours", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].Status).To(Equal(domain.ValidationWarning))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionAttachDoc))
	})

	It("flags a quantity that is not a valid billing increment", func() {
		g := domain.Guideline{ID: uuid.New(), RuleType: "billing_increment", Severity: domain.SeverityError,
			RuleParams: map[string]interface{}{"min_increment": 0.25, "unit": "hour"}}
		findings := v.Validate(newLine("100", "1.3", "hour", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionReupload))
	})

	It("passes a quantity that is an exact billing increment multiple", func() {
		g := domain.Guideline{ID: uuid.New(), RuleType: "billing_increment",
			RuleParams: map[string]interface{}{"min_increment": 0.25, "unit": "hour"}}
		findings := v.Validate(newLine("100", "1.25", "hour", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(BeEmpty())
	})

	It("flags a prohibited bundled billing component", func() {
		g := domain.Guideline{ID: uuid.New(), RuleType: "bundling_prohibition", Severity: domain.SeverityError,
			RuleParams: map[string]interface{}{"prohibited_components": []interface{}{"MILEAGE", "TRAVEL_TRANSPORT"}}}
		findings := v.Validate(newLine("100", "1", "hour", "MILEAGE"), []domain.Guideline{g})
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].RequiredAction).To(Equal(domain.ActionReupload))
	})

	It("returns no finding for an unknown rule type", func() {
		g := domain.Guideline{ID: uuid.New(), RuleType: "unknown_future_rule"}
		findings := v.Validate(newLine("100", "1", "hour", "PROF_FEE"), []domain.Guideline{g})
		Expect(findings).To(BeEmpty())
	})
})
