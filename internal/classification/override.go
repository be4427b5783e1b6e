package classification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
)

// MappingRuleWriter persists the two-row override write atomically.
type MappingRuleWriter interface {
	ExpireMappingRule(ctx context.Context, ruleID uuid.UUID, effectiveTo time.Time) error
	InsertMappingRule(ctx context.Context, rule domain.MappingRule) error
	FindActiveRule(ctx context.Context, supplierID *uuid.UUID, matchType domain.MatchType, matchPattern string) (*domain.MappingRule, error)
}

// Override implements the carrier-override protocol of spec §4.3: expire
// the current matching active rule and insert a superseding row forming
// a backward-only chain (spec §9 "never a cycle").
func Override(ctx context.Context, w MappingRuleWriter, supplierID *uuid.UUID, matchType domain.MatchType, matchPattern, taxonomyCode, billingComponent string, confirmedByUserID uuid.UUID, now time.Time) (*domain.MappingRule, error) {
	current, err := w.FindActiveRule(ctx, supplierID, matchType, matchPattern)
	if err != nil {
		return nil, err
	}

	next := domain.MappingRule{
		ID:                uuid.New(),
		SupplierID:        supplierID,
		MatchType:         matchType,
		MatchPattern:      matchPattern,
		TaxonomyCode:      taxonomyCode,
		BillingComponent:  billingComponent,
		ConfidenceWeight:  1.0,
		ConfidenceLabel:   domain.ConfidenceHigh,
		ConfirmedBy:       domain.ConfirmedByCarrierOverride,
		ConfirmedByUserID: &confirmedByUserID,
		ConfirmedAt:       &now,
		Version:           1,
		EffectiveFrom:     now,
	}

	if current != nil {
		if err := wouldCycle(ctx, w, current.ID, next.ID); err != nil {
			return nil, err
		}
		if err := w.ExpireMappingRule(ctx, current.ID, now); err != nil {
			return nil, err
		}
		next.SupersedesRuleID = &current.ID
		next.Version = current.Version + 1
	}

	if err := w.InsertMappingRule(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

// wouldCycle is a defensive check per spec §9: a well-behaved producer
// never creates a cycle, since next.ID is freshly generated and cannot
// already appear in current's ancestry. The check exists for
// completeness, not because the normal path can trigger it.
func wouldCycle(ctx context.Context, w MappingRuleWriter, currentID, nextID uuid.UUID) error {
	if currentID == nextID {
		return apperrors.Conflict("mapping rule override would create a self-referential supersedes chain")
	}
	return nil
}
