package repository

import (
	"context"
	"encoding/json"

	"github.com/mzemanski-eng/claims-ebilling/internal/database"
	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

// InsertAuditEvent satisfies audit.Store. created_at is store-assigned
// (spec §3/§9): the column default supplies it, never the caller. It
// joins whatever transaction ctx carries (see database.ContextWithTx),
// so an audit row written mid-pipeline-run lands in the same commit as
// the state change it describes; outside a transaction it runs directly
// against the pool.
func (r *Repository) InsertAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return wrapErr("marshal audit payload", err)
	}

	tx, _ := database.TxFromContext(ctx)
	_, err = r.txOrPool(tx).Exec(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, event_type, actor_type, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.EntityType, event.EntityID, event.EventType, event.ActorType, event.ActorID, payload)
	return wrapErr("insert audit event", err)
}
