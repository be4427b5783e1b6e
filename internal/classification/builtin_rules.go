package classification

import (
	"regexp"
	"strings"
	"sync"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// builtinRule is one row of the fixed seed table (spec §4.3 "Built-in
// rule set"). Regex and keyword forms are precompiled once via
// compiledBuiltinRules.
type builtinRule struct {
	matchType        domain.MatchType
	pattern          string
	taxonomyCode     string
	billingComponent string
	weight           float64
}

// builtinRules is the fixed table of seed rules shipped with the system,
// grounded on the original rule engine's BUILTIN_RULES list — every
// entry preserved with its exact pattern and weight.
var builtinRules = []builtinRule{
	// IME
	{domain.MatchKeywordSet, "ime,physician,exam", "IME.PHY_EXAM.PROF_FEE", "PROF_FEE", 0.75},
	{domain.MatchKeywordSet, "independent medical examination", "IME.PHY_EXAM.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "ime,examination", "IME.PHY_EXAM.PROF_FEE", "PROF_FEE", 0.72},
	{domain.MatchRegexPattern, `\bime\b.*\bexam`, "IME.PHY_EXAM.PROF_FEE", "PROF_FEE", 0.78},
	{domain.MatchRegexPattern, `\bindependent medical\b`, "IME.PHY_EXAM.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "multi.specialty,panel,ime", "IME.MULTI_SPECIALTY.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "multi-specialty,ime", "IME.MULTI_SPECIALTY.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "records review,no exam", "IME.RECORDS_REVIEW.PROF_FEE", "PROF_FEE", 0.85},
	{domain.MatchKeywordSet, "file review,no exam", "IME.RECORDS_REVIEW.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchRegexPattern, `records?\s+review.*no.?exam`, "IME.RECORDS_REVIEW.PROF_FEE", "PROF_FEE", 0.85},
	{domain.MatchKeywordSet, "addendum,report", "IME.ADDENDUM.PROF_FEE", "PROF_FEE", 0.85},
	{domain.MatchRegexPattern, `\baddendum\b`, "IME.ADDENDUM.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchKeywordSet, "peer review", "IME.PEER_REVIEW.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchRegexPattern, `\bpeer.?review\b`, "IME.PEER_REVIEW.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "cancellation,fee", "IME.CANCELLATION.CANCEL_FEE", "CANCEL_FEE", 0.90},
	{domain.MatchRegexPattern, `\bcancel`, "IME.CANCELLATION.CANCEL_FEE", "CANCEL_FEE", 0.85},
	{domain.MatchKeywordSet, "no.show,fee", "IME.NO_SHOW.NO_SHOW_FEE", "NO_SHOW_FEE", 0.92},
	{domain.MatchRegexPattern, `no.?show`, "IME.NO_SHOW.NO_SHOW_FEE", "NO_SHOW_FEE", 0.90},
	{domain.MatchKeywordSet, "scheduling,fee", "IME.ADMIN.SCHEDULING_FEE", "SCHEDULING_FEE", 0.80},
	{domain.MatchKeywordSet, "admin,scheduling", "IME.ADMIN.SCHEDULING_FEE", "SCHEDULING_FEE", 0.78},

	// ENG
	{domain.MatchKeywordSet, "property,inspection,engineer", "ENG.PROPERTY_INSPECT.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchKeywordSet, "cause,origin", "ENG.CAUSE_ORIGIN.PROF_FEE", "PROF_FEE", 0.90},
	{domain.MatchRegexPattern, `cause\s+(&|and)\s+origin`, "ENG.CAUSE_ORIGIN.PROF_FEE", "PROF_FEE", 0.92},
	{domain.MatchKeywordSet, "structural,assessment", "ENG.STRUCTURAL_ASSESS.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "expert,report,engineer", "ENG.EXPERT_REPORT.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "testimony,deposition", "ENG.TESTIMONY_DEPO.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "supplemental,inspection", "ENG.SUPPLEMENTAL_INSPECT.PROF_FEE", "PROF_FEE", 0.82},

	// IA
	{domain.MatchKeywordSet, "field,adjust", "IA.FIELD_ASSIGN.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchKeywordSet, "field adjusting,daily rate", "IA.FIELD_ASSIGN.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "desk,assignment,adjust", "IA.DESK_ASSIGN.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchKeywordSet, "desk assignment", "IA.DESK_ASSIGN.PROF_FEE", "PROF_FEE", 0.82},
	{domain.MatchKeywordSet, "desk,adjust", "IA.DESK_ASSIGN.PROF_FEE", "PROF_FEE", 0.80},
	{domain.MatchKeywordSet, "catastrophe,assignment", "IA.CAT_ASSIGN.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchRegexPattern, `\bcat\s+(assign|deployment|daily)\b`, "IA.CAT_ASSIGN.PROF_FEE", "PROF_FEE", 0.85},
	{domain.MatchKeywordSet, "photo,documentation", "IA.PHOTO_DOC.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "supplement,handling", "IA.SUPPLEMENT_HANDLING.PROF_FEE", "PROF_FEE", 0.88},
	{domain.MatchKeywordSet, "file,open,fee", "IA.ADMIN.FILE_OPEN_FEE", "FILE_OPEN_FEE", 0.90},

	// INV
	{domain.MatchKeywordSet, "surveillance", "INV.SURVEILLANCE.PROF_FEE", "PROF_FEE", 0.92},
	{domain.MatchKeywordSet, "recorded,statement", "INV.STATEMENT.PROF_FEE", "PROF_FEE", 0.90},
	{domain.MatchKeywordSet, "background,asset", "INV.BACKGROUND_ASSET.PROF_FEE", "PROF_FEE", 0.85},
	{domain.MatchKeywordSet, "aoe,coe", "INV.AOE_COE.PROF_FEE", "PROF_FEE", 0.92},
	{domain.MatchRegexPattern, `aoe\s*/?\s*coe`, "INV.AOE_COE.PROF_FEE", "PROF_FEE", 0.92},
	{domain.MatchKeywordSet, "skip,trace", "INV.SKIP_TRACE.PROF_FEE", "PROF_FEE", 0.92},

	// REC
	{domain.MatchKeywordSet, "medical,records,retrieval", "REC.MED_RECORDS.RETRIEVAL_FEE", "RETRIEVAL_FEE", 0.88},
	{domain.MatchKeywordSet, "medical records,request", "REC.MED_RECORDS.RETRIEVAL_FEE", "RETRIEVAL_FEE", 0.85},
	{domain.MatchKeywordSet, "copy,per page,records", "REC.MED_RECORDS.COPY_REPRO", "COPY_REPRO", 0.82},
	{domain.MatchKeywordSet, "rush,records", "REC.MED_RECORDS.RUSH_PREMIUM", "RUSH_PREMIUM", 0.85},
	{domain.MatchKeywordSet, "certified,copy", "REC.MED_RECORDS.CERT_COPY_FEE", "CERT_COPY_FEE", 0.85},
	{domain.MatchKeywordSet, "employment,records", "REC.EMPLOYMENT_RECORDS.RETRIEVAL_FEE", "RETRIEVAL_FEE", 0.88},
	{domain.MatchKeywordSet, "court,records", "REC.LEGAL_RECORDS.RETRIEVAL_FEE", "RETRIEVAL_FEE", 0.85},
	{domain.MatchKeywordSet, "police,report", "REC.LEGAL_RECORDS.RETRIEVAL_FEE", "RETRIEVAL_FEE", 0.82},

	// XDOMAIN travel/mileage heuristics — intentionally lower weight,
	// domain-specific rules above take priority.
	{domain.MatchRegexPattern, `\bmileage\b`, "IME.PHY_EXAM.MILEAGE", "MILEAGE", 0.60},
	{domain.MatchRegexPattern, `\bmiles?\b`, "IME.PHY_EXAM.MILEAGE", "MILEAGE", 0.55},
	{domain.MatchKeywordSet, "airfare", "IME.PHY_EXAM.TRAVEL_TRANSPORT", "TRAVEL_TRANSPORT", 0.65},
	{domain.MatchKeywordSet, "lodging", "IME.PHY_EXAM.TRAVEL_LODGING", "TRAVEL_LODGING", 0.60},
	{domain.MatchKeywordSet, "hotel", "IME.PHY_EXAM.TRAVEL_LODGING", "TRAVEL_LODGING", 0.58},
	{domain.MatchKeywordSet, "meals,per diem", "IME.PHY_EXAM.TRAVEL_MEALS", "TRAVEL_MEALS", 0.65},
	{domain.MatchKeywordSet, "pass.through", "XDOMAIN.PASS_THROUGH.THIRD_PARTY_COST", "THIRD_PARTY_COST", 0.70},
}

type compiledRule struct {
	builtinRule
	regex    *regexp.Regexp
	keywords []string
}

var (
	compiledOnce  sync.Once
	compiledCache []compiledRule
)

func compiledBuiltinRules() []compiledRule {
	compiledOnce.Do(func() {
		compiledCache = make([]compiledRule, 0, len(builtinRules))
		for _, r := range builtinRules {
			cr := compiledRule{builtinRule: r}
			switch r.matchType {
			case domain.MatchRegexPattern:
				rx, err := regexp.Compile("(?i)" + r.pattern)
				if err != nil {
					// Invalid regex must not crash classification; skip it.
					continue
				}
				cr.regex = rx
			case domain.MatchKeywordSet:
				for _, kw := range strings.FieldsFunc(r.pattern, func(r rune) bool { return r == ',' || r == '|' }) {
					cr.keywords = append(cr.keywords, strings.TrimSpace(strings.ToLower(kw)))
				}
			}
			compiledCache = append(compiledCache, cr)
		}
	})
	return compiledCache
}

// keywordPresent checks both the literal keyword and its hyphen/period
// stripped form, accommodating a description like "multispecialty"
// matching a "multi-specialty" keyword (spec §4.3). Only the keyword is
// stripped, not the description.
func keywordPresent(desc, kw string) bool {
	if strings.Contains(desc, kw) {
		return true
	}
	stripped := strings.NewReplacer(".", "", "-", "").Replace(kw)
	return strings.Contains(desc, stripped)
}

// classifyWithBuiltinRules evaluates the compiled built-in table against
// a lowercased description, returning the Result with the highest
// confidence_weight among all matching rules, or Unrecognized.
func classifyWithBuiltinRules(rawDescription string) Result {
	descLower := strings.ToLower(strings.TrimSpace(rawDescription))

	var best *compiledRule
	for i, rule := range compiledBuiltinRules() {
		matched := false
		switch rule.matchType {
		case domain.MatchKeywordSet:
			matched = true
			for _, kw := range rule.keywords {
				if !keywordPresent(descLower, kw) {
					matched = false
					break
				}
			}
		case domain.MatchRegexPattern:
			matched = rule.regex != nil && rule.regex.MatchString(descLower)
		}
		if matched && (best == nil || rule.weight > best.weight) {
			r := compiledBuiltinRules()[i]
			best = &r
		}
	}

	if best == nil {
		return Result{
			Confidence:       domain.ConfidenceUnrecognized,
			ConfidenceWeight: 0,
			MatchExplanation: "no built-in rule matched description: " + rawDescription,
		}
	}

	return Result{
		TaxonomyCode:      &best.taxonomyCode,
		BillingComponent:  &best.billingComponent,
		Confidence:        confidenceLabel(best.weight),
		ConfidenceWeight:  best.weight,
		MatchType:         &best.matchType,
		MatchExplanation:  matchExplanation(best.matchType, best.pattern),
	}
}

func matchExplanation(mt domain.MatchType, pattern string) string {
	switch mt {
	case domain.MatchRegexPattern:
		return "regex match: " + pattern
	default:
		return "keyword match: " + pattern
	}
}

func confidenceLabel(weight float64) domain.ConfidenceLabel {
	switch {
	case weight >= 0.85:
		return domain.ConfidenceHigh
	case weight >= 0.65:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
