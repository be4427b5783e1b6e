// Package guidelinevalidation evaluates structured rules derived from
// contract narrative language (spec §4.5). Each rule type has its own
// params shape decoded from the guideline's generic RuleParams map. The
// validator is a pure function: no DB writes, no side effects.
package guidelinevalidation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
)

const (
	ruleMaxUnits            = "max_units"
	ruleRequiresAuth        = "requires_auth"
	ruleBillingIncrement    = "billing_increment"
	ruleBundlingProhibition = "bundling_prohibition"
	ruleCapAmount           = "cap_amount"
)

var incrementTolerance = decimal.RequireFromString("0.001")

// Finding is one guideline-validation outcome, pre-persistence.
type Finding struct {
	GuidelineID    string
	Status         domain.ValidationStatus
	Severity       domain.ValidationSeverity
	Message        string
	ExpectedValue  *string
	ActualValue    *string
	RequiredAction domain.RequiredAction
}

// GuidelineValidator evaluates every applicable guideline for a line item.
type GuidelineValidator struct {
	logger *zap.Logger
}

func NewGuidelineValidator(logger *zap.Logger) *GuidelineValidator {
	return &GuidelineValidator{logger: logger}
}

// Validate returns one Finding per applicable, failing-or-warning
// guideline; a guideline that passes produces no Finding.
func (v *GuidelineValidator) Validate(line *domain.LineItem, guidelines []domain.Guideline) []Finding {
	var findings []Finding
	for _, g := range guidelines {
		if !appliesTo(g, line) {
			continue
		}
		if f := v.evaluate(g, line); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

func appliesTo(g domain.Guideline, line *domain.LineItem) bool {
	if g.TaxonomyCode != nil {
		return line.TaxonomyCode != nil && *g.TaxonomyCode == *line.TaxonomyCode
	}
	if g.Domain != nil {
		if line.TaxonomyCode == nil {
			return false
		}
		parts := strings.SplitN(*line.TaxonomyCode, ".", 2)
		return *g.Domain == parts[0]
	}
	return true
}

func (v *GuidelineValidator) evaluate(g domain.Guideline, line *domain.LineItem) *Finding {
	params := g.RuleParams
	if params == nil {
		params = map[string]interface{}{}
	}

	switch g.RuleType {
	case ruleMaxUnits:
		return checkMaxUnits(g, line, params)
	case ruleRequiresAuth:
		return checkRequiresAuth(g, params)
	case ruleBillingIncrement:
		return checkBillingIncrement(g, line, params)
	case ruleBundlingProhibition:
		return checkBundlingProhibition(g, line, params)
	case ruleCapAmount:
		return checkCapAmount(g, line, params)
	default:
		if v.logger != nil {
			fields := logging.NewFields().Component("guidelinevalidation").Operation("evaluate").
				Resource("guideline", g.ID.String()).Build()
			fields = append(fields, zap.String("rule_type", g.RuleType))
			v.logger.Warn("unrecognized guideline rule_type", fields...)
		}
		return nil
	}
}

func narrativeCite(g domain.Guideline) string {
	if g.NarrativeSource != "" {
		return fmt.Sprintf("Contract reference: %q", g.NarrativeSource)
	}
	return ""
}

func decimalParam(params map[string]interface{}, key string) (decimal.Decimal, bool) {
	raw, ok := params[key]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Decimal{}, false
	}
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if raw, ok := params[key].(string); ok && raw != "" {
		return raw
	}
	return fallback
}

func checkMaxUnits(g domain.Guideline, line *domain.LineItem, params map[string]interface{}) *Finding {
	max, ok := decimalParam(params, "max")
	if !ok {
		return nil
	}
	period := stringParam(params, "period", "per_claim")

	if line.RawQuantity.LessThanOrEqual(max) {
		return nil
	}

	unit := "units"
	if line.RawUnit != nil {
		unit = *line.RawUnit
	}
	expected := fmt.Sprintf("max %s (%s)", max.String(), period)
	actual := line.RawQuantity.String()
	action := domain.ActionNone
	if g.Severity == domain.SeverityError {
		action = domain.ActionAcceptReduction
	}
	return &Finding{
		GuidelineID: g.ID.String(), Status: domain.ValidationFail, Severity: g.Severity,
		Message: fmt.Sprintf("Quantity %s %s exceeds contract guideline maximum of %s %s. %s",
			line.RawQuantity.String(), unit, max.String(), period, narrativeCite(g)),
		ExpectedValue: &expected, ActualValue: &actual, RequiredAction: action,
	}
}

// checkRequiresAuth is a v1 stub: LineItem has no auth-number field yet,
// so this always downgrades to a WARNING requiring a supporting document
// rather than a hard FAIL.
func checkRequiresAuth(g domain.Guideline, params map[string]interface{}) *Finding {
	if required, ok := params["required"].(bool); ok && !required {
		return nil
	}
	return &Finding{
		GuidelineID: g.ID.String(), Status: domain.ValidationWarning, Severity: domain.SeverityWarning,
		Message: fmt.Sprintf("This service may require prior authorization per contract guidelines. "+
			"Please attach authorization documentation if applicable. %s", narrativeCite(g)),
		RequiredAction: domain.ActionAttachDoc,
	}
}

func checkBillingIncrement(g domain.Guideline, line *domain.LineItem, params map[string]interface{}) *Finding {
	minIncrement, ok := decimalParam(params, "min_increment")
	if !ok || minIncrement.IsZero() {
		return nil
	}

	remainder := line.RawQuantity.Mod(minIncrement)
	if remainder.LessThanOrEqual(incrementTolerance) {
		return nil
	}

	unitLabel := stringParam(params, "unit", "units")
	if unitLabel == "units" && line.RawUnit != nil {
		unitLabel = *line.RawUnit
	}
	expected := fmt.Sprintf("multiple of %s %s", minIncrement.String(), unitLabel)
	actual := fmt.Sprintf("%s %s", line.RawQuantity.String(), unitLabel)
	return &Finding{
		GuidelineID: g.ID.String(), Status: domain.ValidationFail, Severity: g.Severity,
		Message: fmt.Sprintf("Quantity %s %s is not a valid billing increment. Contract requires billing "+
			"in increments of %s %s. Please round to the nearest %s %s. %s",
			line.RawQuantity.String(), unitLabel, minIncrement.String(), unitLabel,
			minIncrement.String(), unitLabel, narrativeCite(g)),
		ExpectedValue: &expected, ActualValue: &actual, RequiredAction: domain.ActionReupload,
	}
}

func checkBundlingProhibition(g domain.Guideline, line *domain.LineItem, params map[string]interface{}) *Finding {
	raw, ok := params["prohibited_components"].([]interface{})
	if !ok {
		return nil
	}
	prohibited := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			prohibited = append(prohibited, s)
		}
	}

	if line.BillingComponent == nil {
		return nil
	}
	var matched bool
	for _, p := range prohibited {
		if p == *line.BillingComponent {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	expected := "Not separately billable"
	return &Finding{
		GuidelineID: g.ID.String(), Status: domain.ValidationFail, Severity: g.Severity,
		Message: fmt.Sprintf("Billing component '%s' is not separately billable under this contract. "+
			"Prohibited components: %s. %s", *line.BillingComponent, strings.Join(prohibited, ", "), narrativeCite(g)),
		ExpectedValue: &expected, ActualValue: line.BillingComponent, RequiredAction: domain.ActionReupload,
	}
}

func checkCapAmount(g domain.Guideline, line *domain.LineItem, params map[string]interface{}) *Finding {
	maxAmount, ok := decimalParam(params, "max_amount")
	if !ok {
		return nil
	}
	if line.RawAmount.LessThanOrEqual(maxAmount) {
		return nil
	}

	expected := "max $" + maxAmount.StringFixed(2)
	actual := "$" + line.RawAmount.StringFixed(2)
	return &Finding{
		GuidelineID: g.ID.String(), Status: domain.ValidationFail, Severity: g.Severity,
		Message: fmt.Sprintf("Billed amount $%s exceeds contract cap of $%s. Payment will be limited to $%s. %s",
			line.RawAmount.StringFixed(2), maxAmount.StringFixed(2), maxAmount.StringFixed(2), narrativeCite(g)),
		ExpectedValue: &expected, ActualValue: &actual, RequiredAction: domain.ActionAcceptReduction,
	}
}
