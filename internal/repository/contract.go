package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

func (r *Repository) GetContract(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Contract, error) {
	row := r.txOrPool(tx).QueryRow(ctx, `
		SELECT id, supplier_id, carrier_id, name, effective_from, effective_to,
		       geography_scope, state_codes, notes, is_active
		FROM contracts WHERE id = $1`, id)

	var c domain.Contract
	var stateCodes []string
	err := row.Scan(&c.ID, &c.SupplierID, &c.CarrierID, &c.Name, &c.EffectiveFrom, &c.EffectiveTo,
		&c.GeographyScope, &stateCodes, &c.Notes, &c.IsActive)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get contract", err)
	}
	c.StateCodes = stateCodes
	return &c, nil
}

// GetActiveGuidelines loads every active guideline on the contract
// (spec §4.5: taxonomy-scoped, domain-scoped, or contract-global rules
// are all candidates; the guideline validator itself decides which
// apply to a given line).
func (r *Repository) GetActiveGuidelines(ctx context.Context, tx pgx.Tx, contractID uuid.UUID) ([]domain.Guideline, error) {
	rows, err := r.txOrPool(tx).Query(ctx, `
		SELECT id, contract_id, taxonomy_code, domain, rule_type, rule_params, severity, narrative_source, is_active
		FROM guidelines WHERE contract_id = $1 AND is_active = true`, contractID)
	if err != nil {
		return nil, wrapErr("get active guidelines", err)
	}
	defer rows.Close()

	var out []domain.Guideline
	for rows.Next() {
		var g domain.Guideline
		var ruleParams []byte
		if err := rows.Scan(&g.ID, &g.ContractID, &g.TaxonomyCode, &g.Domain, &g.RuleType, &ruleParams, &g.Severity, &g.NarrativeSource, &g.IsActive); err != nil {
			return nil, wrapErr("scan guideline", err)
		}
		if len(ruleParams) > 0 {
			if err := json.Unmarshal(ruleParams, &g.RuleParams); err != nil {
				return nil, wrapErr("unmarshal guideline rule_params", err)
			}
		}
		out = append(out, g)
	}
	return out, wrapErr("guideline rows", rows.Err())
}

// rateCardRow mirrors rate_cards for sqlx's column-name based scan.
type rateCardRow struct {
	ID             uuid.UUID       `db:"id"`
	ContractID     uuid.UUID       `db:"contract_id"`
	TaxonomyCode   string          `db:"taxonomy_code"`
	ContractedRate string          `db:"contracted_rate"`
	MaxUnits       sql.NullString  `db:"max_units"`
	IsAllInclusive bool            `db:"is_all_inclusive"`
	EffectiveFrom  time.Time       `db:"effective_from"`
	EffectiveTo    sql.NullTime    `db:"effective_to"`
	Notes          string          `db:"notes"`
}

// EffectiveRateCard resolves the rate card in effect for (contractID,
// taxonomyCode) at serviceDate, per spec §4.4: most-recent-effective-at
// -service-date wins. It reads off the sqlx connection directly rather
// than inside the pipeline's transaction, matching ratevalidation's
// RateCardLookup contract, which carries no tx or ctx parameter.
func (r *Repository) EffectiveRateCard(contractID uuid.UUID, taxonomyCode string, serviceDate time.Time) (*domain.RateCard, error) {
	var row rateCardRow
	err := r.db.Get(&row, `
		SELECT id, contract_id, taxonomy_code, contracted_rate, max_units, is_all_inclusive, effective_from, effective_to, notes
		FROM rate_cards
		WHERE contract_id = $1 AND taxonomy_code = $2
		  AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY effective_from DESC
		LIMIT 1`, contractID, taxonomyCode, serviceDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("effective rate card", err)
	}
	return row.toDomain()
}

func (row rateCardRow) toDomain() (*domain.RateCard, error) {
	rc := &domain.RateCard{
		ID: row.ID, ContractID: row.ContractID, TaxonomyCode: row.TaxonomyCode,
		IsAllInclusive: row.IsAllInclusive, EffectiveFrom: row.EffectiveFrom, Notes: row.Notes,
	}
	rate, err := parseDecimalStr(row.ContractedRate)
	if err != nil {
		return nil, wrapErr("parse contracted_rate", err)
	}
	rc.ContractedRate = rate
	if row.MaxUnits.Valid {
		units, err := parseDecimalStr(row.MaxUnits.String)
		if err != nil {
			return nil, wrapErr("parse max_units", err)
		}
		rc.MaxUnits = &units
	}
	if row.EffectiveTo.Valid {
		t := row.EffectiveTo.Time
		rc.EffectiveTo = &t
	}
	return rc, nil
}
