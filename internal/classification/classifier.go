// Package classification implements the Classifier (spec §4.3): layered
// rule resolution from persisted supplier-specific and global mapping
// rules down to a fixed built-in table, with a short-TTL cache in front
// of the mapping-rule lookup.
package classification

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// Result is the Classifier's output: a taxonomy code plus confidence and
// provenance, or an Unrecognized result (spec §4.3).
type Result struct {
	TaxonomyCode     *string
	BillingComponent *string
	Confidence       domain.ConfidenceLabel
	ConfidenceWeight float64
	MatchType        *domain.MatchType
	MatchedRuleID    *uuid.UUID
	MatchExplanation string
}

// Unrecognized reports whether this result failed to classify.
func (r Result) Unrecognized() bool {
	return r.Confidence == domain.ConfidenceUnrecognized
}

// MappingRuleSource supplies currently-effective mapping rules for a
// supplier (and the global set), e.g. a cached repository.
type MappingRuleSource interface {
	SupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error)
	GlobalRules(ctx context.Context) ([]domain.MappingRule, error)
}

// Classifier resolves a raw line to a taxonomy code following the strict
// precedence order in spec §4.3: supplier MappingRules, then global
// MappingRules, then built-in rules, then Unrecognized.
type Classifier struct {
	rules MappingRuleSource
	now   func() time.Time
}

func NewClassifier(rules MappingRuleSource) *Classifier {
	return &Classifier{rules: rules, now: time.Now}
}

// Classify implements the Classifier contract. supplierID is optional
// (nil means only global/built-in rules are consulted).
func (c *Classifier) Classify(ctx context.Context, rawDescription string, rawCode *string, supplierID *uuid.UUID) (Result, error) {
	descLower := strings.ToLower(strings.TrimSpace(rawDescription))
	var codeLower string
	if rawCode != nil {
		codeLower = strings.ToLower(strings.TrimSpace(*rawCode))
	}

	if supplierID != nil {
		rules, err := c.rules.SupplierRules(ctx, *supplierID)
		if err != nil {
			return Result{}, err
		}
		if res, ok := bestMatch(rules, descLower, codeLower, c.now()); ok {
			return res, nil
		}
	}

	globalRules, err := c.rules.GlobalRules(ctx)
	if err != nil {
		return Result{}, err
	}
	if res, ok := bestMatch(globalRules, descLower, codeLower, c.now()); ok {
		return res, nil
	}

	return classifyWithBuiltinRules(rawDescription), nil
}

// bestMatch ranks currently-effective rules by confidence_weight
// descending, breaking ties by match-type specificity
// (exact_code > regex_pattern > keyword_set), per spec §4.3.
func bestMatch(rules []domain.MappingRule, descLower, codeLower string, now time.Time) (Result, bool) {
	candidates := make([]domain.MappingRule, 0, len(rules))
	for _, r := range rules {
		if r.Active(now) && ruleMatches(r, descLower, codeLower) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Result{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ConfidenceWeight != candidates[j].ConfidenceWeight {
			return candidates[i].ConfidenceWeight > candidates[j].ConfidenceWeight
		}
		if specificity(candidates[i].MatchType) != specificity(candidates[j].MatchType) {
			return specificity(candidates[i].MatchType) > specificity(candidates[j].MatchType)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})

	best := candidates[0]
	code := best.TaxonomyCode
	component := best.BillingComponent
	mt := best.MatchType
	id := best.ID
	return Result{
		TaxonomyCode:     &code,
		BillingComponent: &component,
		Confidence:       best.ConfidenceLabel,
		ConfidenceWeight: best.ConfidenceWeight,
		MatchType:        &mt,
		MatchedRuleID:    &id,
		MatchExplanation: "mapping rule match: " + best.MatchPattern,
	}, true
}

func specificity(mt domain.MatchType) int {
	switch mt {
	case domain.MatchExactCode:
		return 3
	case domain.MatchRegexPattern:
		return 2
	case domain.MatchKeywordSet:
		return 1
	default:
		return 0
	}
}

// ruleMatches dispatches on match_type per spec §4.3's match semantics.
// A bad regex is skipped (never crashes classification); it is not
// logged.
func ruleMatches(r domain.MappingRule, descLower, codeLower string) bool {
	switch r.MatchType {
	case domain.MatchExactCode:
		if codeLower == "" {
			return false
		}
		return codeLower == strings.ToLower(strings.TrimSpace(r.MatchPattern))

	case domain.MatchRegexPattern:
		rx, err := regexp.Compile("(?i)" + r.MatchPattern)
		if err != nil {
			return false
		}
		return rx.MatchString(descLower)

	case domain.MatchKeywordSet:
		keywords := strings.FieldsFunc(r.MatchPattern, func(c rune) bool { return c == ',' })
		for _, kw := range keywords {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if !keywordPresent(descLower, kw) {
				return false
			}
		}
		return true

	default:
		return false
	}
}
