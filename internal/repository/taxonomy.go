package repository

import (
	"context"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

type taxonomyItemRow struct {
	Code             string `db:"code"`
	Domain           string `db:"domain"`
	ServiceItem      string `db:"service_item"`
	BillingComponent string `db:"billing_component"`
	UnitModel        string `db:"unit_model"`
	Label            string `db:"label"`
	Description      string `db:"description"`
	Active           bool   `db:"active"`
}

// ListTaxonomyItems loads every taxonomy row, active or not, so a process
// can build taxonomy.Registry from the administratively-updatable table
// instead of the compiled-in Seed list (spec §3: "Seeded from a
// canonical list; administratively updatable").
func (r *Repository) ListTaxonomyItems(ctx context.Context) ([]domain.TaxonomyItem, error) {
	var rows []taxonomyItemRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT code, domain, service_item, billing_component, unit_model, label, description, active
		FROM taxonomy_items ORDER BY code`); err != nil {
		return nil, wrapErr("list taxonomy items", err)
	}

	out := make([]domain.TaxonomyItem, len(rows))
	for i, row := range rows {
		out[i] = domain.TaxonomyItem{
			Code: row.Code, Domain: row.Domain, ServiceItem: row.ServiceItem,
			BillingComponent: row.BillingComponent, UnitModel: row.UnitModel,
			Label: row.Label, Description: row.Description, Active: row.Active,
		}
	}
	return out, nil
}
