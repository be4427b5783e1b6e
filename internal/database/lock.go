package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvoiceLocked is returned when LockInvoice finds no matching row,
// which means the invoice does not exist. A row locked by a concurrent
// transaction does not produce it: without NOWAIT, FOR UPDATE waits for
// that lock until the holder ends or ctx is cancelled.
var ErrInvoiceLocked = errors.New("invoice row could not be locked")

// LockInvoice acquires a row-level lock on the invoice for the duration
// of tx, serializing concurrent pipeline runs against the same invoice
// (spec §5: only one active pipeline run per invoice at a time).
func LockInvoice(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID) (status string, currentVersion int, err error) {
	row := tx.QueryRow(ctx, `SELECT status, current_version FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID)
	if err := row.Scan(&status, &currentVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrInvoiceLocked
		}
		return "", 0, fmt.Errorf("lock invoice %s: %w", invoiceID, err)
	}
	return status, currentVersion, nil
}
