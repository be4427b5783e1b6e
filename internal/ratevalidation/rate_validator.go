// Package ratevalidation implements the Rate Validator (spec §4.4): a
// pure function of a line item plus a read-only lookup of effective rate
// cards, producing zero or more RateFindings. It never writes.
package ratevalidation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// AmountTolerance is the configurable behavior-defining tolerance
// constant from spec §4.4/§9.
var AmountTolerance = decimal.RequireFromString("0.02")

var allInclusiveBundlingProhibited = map[string]bool{
	"TRAVEL_TRANSPORT": true,
	"TRAVEL_LODGING":   true,
	"TRAVEL_MEALS":     true,
	"MILEAGE":          true,
}

// Finding is one rate-validation outcome, pre-persistence.
type Finding struct {
	RateCardID     *uuid.UUID
	Status         domain.ValidationStatus
	Severity       domain.ValidationSeverity
	Message        string
	ExpectedValue  *string
	ActualValue    *string
	RequiredAction domain.RequiredAction
}

// RateCardLookup resolves the effective rate card for a line, per spec
// §4.4's selection rule (most-recent-effective-at-service-date wins).
type RateCardLookup interface {
	EffectiveRateCard(contractID uuid.UUID, taxonomyCode string, serviceDate time.Time) (*domain.RateCard, error)
}

// RateValidator implements the RateValidator contract.
type RateValidator struct {
	rateCards RateCardLookup
	now       func() time.Time
}

func NewRateValidator(rateCards RateCardLookup) *RateValidator {
	return &RateValidator{rateCards: rateCards, now: time.Now}
}

// Validate runs every applicable check against line and returns the
// accumulated findings. contractID identifies the invoice's contract.
func (v *RateValidator) Validate(line *domain.LineItem, contractID uuid.UUID) ([]Finding, error) {
	if line.TaxonomyCode == nil {
		return []Finding{{
			Status:         domain.ValidationFail,
			Severity:       domain.SeverityError,
			Message:        "line not classified; reclassification required",
			RequiredAction: domain.ActionRequestReclassification,
		}}, nil
	}

	serviceDate := v.now()
	if line.ServiceDate != nil {
		serviceDate = *line.ServiceDate
	}

	rateCard, err := v.rateCards.EffectiveRateCard(contractID, *line.TaxonomyCode, serviceDate)
	if err != nil {
		return nil, err
	}
	if rateCard == nil {
		return []Finding{{
			Status:         domain.ValidationFail,
			Severity:       domain.SeverityError,
			Message:        "No contracted rate found for service '" + *line.TaxonomyCode + "' under this contract.",
			RequiredAction: domain.ActionRequestReclassification,
		}}, nil
	}

	var findings []Finding
	findings = append(findings, checkAmount(line, rateCard))
	if rateCard.MaxUnits != nil {
		findings = append(findings, checkMaxUnits(line, rateCard))
	}
	if rateCard.IsAllInclusive {
		if f, applies := checkBundling(line, rateCard); applies {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func checkAmount(line *domain.LineItem, rateCard *domain.RateCard) Finding {
	expected := line.RawQuantity.Mul(rateCard.ContractedRate).RoundBank(2)
	diff := line.RawAmount.Sub(expected)
	expectedStr := expected.StringFixed(2)
	actualStr := line.RawAmount.StringFixed(2)

	switch {
	case diff.Abs().LessThanOrEqual(AmountTolerance):
		return Finding{
			RateCardID: &rateCard.ID, Status: domain.ValidationPass, Severity: domain.SeverityInfo,
			Message: "Billed amount matches the contracted rate.",
			ExpectedValue: &expectedStr, ActualValue: &actualStr,
			RequiredAction: domain.ActionNone,
		}
	case diff.GreaterThan(AmountTolerance):
		return Finding{
			RateCardID: &rateCard.ID, Status: domain.ValidationFail, Severity: domain.SeverityError,
			Message: "Billed amount " + money(line.RawAmount) + " exceeds contracted rate. Overage: " + money(diff) +
				". Payment will be limited to " + money(expected) + ".",
			ExpectedValue: &expectedStr, ActualValue: &actualStr,
			RequiredAction: domain.ActionAcceptReduction,
		}
	default:
		return Finding{
			RateCardID: &rateCard.ID, Status: domain.ValidationWarning, Severity: domain.SeverityWarning,
			Message: "Billed amount " + money(line.RawAmount) + " is less than contracted rate " + money(expected) +
				". Amount will be paid as billed.",
			ExpectedValue: &expectedStr, ActualValue: &actualStr,
			RequiredAction: domain.ActionNone,
		}
	}
}

func checkMaxUnits(line *domain.LineItem, rateCard *domain.RateCard) Finding {
	if line.RawQuantity.LessThanOrEqual(*rateCard.MaxUnits) {
		qtyStr := line.RawQuantity.String()
		maxStr := rateCard.MaxUnits.String()
		return Finding{
			RateCardID: &rateCard.ID, Status: domain.ValidationPass, Severity: domain.SeverityInfo,
			Message: "Quantity is within the contracted maximum.",
			ExpectedValue: &maxStr, ActualValue: &qtyStr,
			RequiredAction: domain.ActionNone,
		}
	}

	cappedPayable := rateCard.MaxUnits.Mul(rateCard.ContractedRate).RoundBank(2)
	qtyStr := line.RawQuantity.String()
	maxStr := rateCard.MaxUnits.String()
	return Finding{
		RateCardID: &rateCard.ID, Status: domain.ValidationFail, Severity: domain.SeverityError,
		Message: "Quantity " + qtyStr + " exceeds contract maximum of " + maxStr +
			" units. Payment will be limited to " + maxStr + " units x " + money(rateCard.ContractedRate) +
			" = " + money(cappedPayable) + ".",
		ExpectedValue: &maxStr, ActualValue: &qtyStr,
		RequiredAction: domain.ActionAcceptReduction,
	}
}

func checkBundling(line *domain.LineItem, rateCard *domain.RateCard) (Finding, bool) {
	if line.BillingComponent == nil || !allInclusiveBundlingProhibited[*line.BillingComponent] {
		return Finding{}, false
	}
	return Finding{
		RateCardID: &rateCard.ID, Status: domain.ValidationFail, Severity: domain.SeverityError,
		Message: "This service is all-inclusive under the contracted rate. Travel and expense charges (" +
			*line.BillingComponent + ") must not be billed separately. This line will not be approved.",
		RequiredAction: domain.ActionReupload,
	}, true
}
