package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mzemanski-eng/claims-ebilling/internal/classification"
	"github.com/mzemanski-eng/claims-ebilling/internal/database"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

type mappingRuleRow struct {
	ID                uuid.UUID       `db:"id"`
	SupplierID        *uuid.UUID      `db:"supplier_id"`
	MatchType         domain.MatchType `db:"match_type"`
	MatchPattern      string          `db:"match_pattern"`
	TaxonomyCode      string          `db:"taxonomy_code"`
	BillingComponent  string          `db:"billing_component"`
	ConfidenceWeight  float64         `db:"confidence_weight"`
	ConfidenceLabel   domain.ConfidenceLabel `db:"confidence_label"`
	ConfirmedBy       domain.ConfirmedBy     `db:"confirmed_by"`
	ConfirmedByUserID *uuid.UUID      `db:"confirmed_by_user_id"`
	ConfirmedAt       *time.Time      `db:"confirmed_at"`
	Version           int             `db:"version"`
	EffectiveFrom     time.Time       `db:"effective_from"`
	EffectiveTo       *time.Time      `db:"effective_to"`
	SupersedesRuleID  *uuid.UUID      `db:"supersedes_rule_id"`
	Notes             string          `db:"notes"`
}

func (row mappingRuleRow) toDomain() domain.MappingRule {
	return domain.MappingRule{
		ID: row.ID, SupplierID: row.SupplierID, MatchType: row.MatchType, MatchPattern: row.MatchPattern,
		TaxonomyCode: row.TaxonomyCode, BillingComponent: row.BillingComponent,
		ConfidenceWeight: row.ConfidenceWeight, ConfidenceLabel: row.ConfidenceLabel,
		ConfirmedBy: row.ConfirmedBy, ConfirmedByUserID: row.ConfirmedByUserID, ConfirmedAt: row.ConfirmedAt,
		Version: row.Version, EffectiveFrom: row.EffectiveFrom, EffectiveTo: row.EffectiveTo,
		SupersedesRuleID: row.SupersedesRuleID, Notes: row.Notes,
	}
}

const mappingRuleColumns = `
	id, supplier_id, match_type, match_pattern, taxonomy_code, billing_component,
	confidence_weight, confidence_label, confirmed_by, confirmed_by_user_id, confirmed_at,
	version, effective_from, effective_to, supersedes_rule_id, notes`

// EffectiveSupplierRules satisfies classification.MappingRuleRepository:
// every currently-active rule scoped to supplierID.
func (r *Repository) EffectiveSupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error) {
	var rows []mappingRuleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+mappingRuleColumns+`
		FROM mapping_rules
		WHERE supplier_id = $1 AND effective_from <= now() AND (effective_to IS NULL OR effective_to > now())
		ORDER BY confidence_weight DESC`, supplierID)
	if err != nil {
		return nil, wrapErr("effective supplier rules", err)
	}
	return toDomainRules(rows), nil
}

// EffectiveGlobalRules satisfies classification.MappingRuleRepository:
// every currently-active rule with no supplier scope.
func (r *Repository) EffectiveGlobalRules(ctx context.Context) ([]domain.MappingRule, error) {
	var rows []mappingRuleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+mappingRuleColumns+`
		FROM mapping_rules
		WHERE supplier_id IS NULL AND effective_from <= now() AND (effective_to IS NULL OR effective_to > now())
		ORDER BY confidence_weight DESC`)
	if err != nil {
		return nil, wrapErr("effective global rules", err)
	}
	return toDomainRules(rows), nil
}

func toDomainRules(rows []mappingRuleRow) []domain.MappingRule {
	out := make([]domain.MappingRule, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}

var _ classification.MappingRuleRepository = (*Repository)(nil)

// txMappingRuleWriter binds classification.MappingRuleWriter to one open
// transaction, so Override's expire-then-insert pair commits atomically
// even though the interface itself carries no tx parameter.
type txMappingRuleWriter struct {
	tx pgx.Tx
}

func (w txMappingRuleWriter) FindActiveRule(ctx context.Context, supplierID *uuid.UUID, matchType domain.MatchType, matchPattern string) (*domain.MappingRule, error) {
	var row mappingRuleRow
	query := `
		SELECT ` + mappingRuleColumns + `
		FROM mapping_rules
		WHERE match_type = $1 AND match_pattern = $2 AND supplier_id IS NOT DISTINCT FROM $3
		  AND effective_from <= now() AND (effective_to IS NULL OR effective_to > now())
		LIMIT 1`
	pgxRow := w.tx.QueryRow(ctx, query, matchType, matchPattern, supplierID)
	err := pgxRow.Scan(&row.ID, &row.SupplierID, &row.MatchType, &row.MatchPattern, &row.TaxonomyCode, &row.BillingComponent,
		&row.ConfidenceWeight, &row.ConfidenceLabel, &row.ConfirmedBy, &row.ConfirmedByUserID, &row.ConfirmedAt,
		&row.Version, &row.EffectiveFrom, &row.EffectiveTo, &row.SupersedesRuleID, &row.Notes)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find active mapping rule", err)
	}
	rule := row.toDomain()
	return &rule, nil
}

func (w txMappingRuleWriter) ExpireMappingRule(ctx context.Context, ruleID uuid.UUID, effectiveTo time.Time) error {
	_, err := w.tx.Exec(ctx, `UPDATE mapping_rules SET effective_to = $2 WHERE id = $1`, ruleID, effectiveTo)
	return wrapErr("expire mapping rule", err)
}

func (w txMappingRuleWriter) InsertMappingRule(ctx context.Context, rule domain.MappingRule) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO mapping_rules (
			id, supplier_id, match_type, match_pattern, taxonomy_code, billing_component,
			confidence_weight, confidence_label, confirmed_by, confirmed_by_user_id, confirmed_at,
			version, effective_from, effective_to, supersedes_rule_id, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rule.ID, rule.SupplierID, rule.MatchType, rule.MatchPattern, rule.TaxonomyCode, rule.BillingComponent,
		rule.ConfidenceWeight, rule.ConfidenceLabel, rule.ConfirmedBy, rule.ConfirmedByUserID, rule.ConfirmedAt,
		rule.Version, rule.EffectiveFrom, rule.EffectiveTo, rule.SupersedesRuleID, rule.Notes)
	return wrapErr("insert mapping rule", err)
}

// OverrideMappingRule runs the carrier-override protocol (spec §4.3,
// classification.Override) inside its own transaction and invalidates
// cache's entries for the affected scope on success, so the very next
// classify call sees the new rule rather than a stale cached one.
func (r *Repository) OverrideMappingRule(ctx context.Context, cache *classification.CachedMappingRuleSource, supplierID *uuid.UUID, matchType domain.MatchType, matchPattern, taxonomyCode, billingComponent string, confirmedByUserID uuid.UUID, now time.Time) (*domain.MappingRule, error) {
	var result *domain.MappingRule
	err := database.WithTx(ctx, r.pool, r.logger, func(ctx context.Context, tx pgx.Tx) error {
		writer := txMappingRuleWriter{tx: tx}
		rule, err := classification.Override(ctx, writer, supplierID, matchType, matchPattern, taxonomyCode, billingComponent, confirmedByUserID, now)
		if err != nil {
			return err
		}
		result = rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Invalidate(ctx, supplierID)
	}
	return result, nil
}
