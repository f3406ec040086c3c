package recon

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the aggregate queries backing reconciliation views.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const totalsSelect = `
	SELECT e.recipient_unit_id,
		COALESCE(SUM(CASE WHEN e.status = 'PENDING' THEN e.amount ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN e.status = 'TRANSFERRED' THEN e.amount ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN e.status = 'FAILED' THEN e.amount ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN e.status = 'REVERSED' THEN e.amount ELSE 0 END), 0),
		COALESCE(SUM(e.amount), 0),
		COUNT(*),
		MIN(c.currency)
	FROM ledger_entries e
	JOIN contributions c ON c.id = e.contribution_id
	WHERE e.created_at >= $1 AND e.created_at < $2`

// TotalsByRecipient aggregates every recipient's position inside the window.
func (r *Repository) TotalsByRecipient(ctx context.Context, from, to time.Time) ([]RecipientTotals, error) {
	rows, err := r.pool.Query(ctx, totalsSelect+`
		GROUP BY e.recipient_unit_id
		ORDER BY e.recipient_unit_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []RecipientTotals
	for rows.Next() {
		var t RecipientTotals
		if err := rows.Scan(&t.RecipientUnitID, &t.Pending, &t.Transferred, &t.Failed, &t.Reversed, &t.Net, &t.EntryCount, &t.Currency); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// TotalsForRecipient aggregates a single recipient's position inside the
// window. A recipient with no entries yields ErrNotFound.
func (r *Repository) TotalsForRecipient(ctx context.Context, recipientUnitID int64, from, to time.Time) (*RecipientTotals, error) {
	var t RecipientTotals
	err := r.pool.QueryRow(ctx, totalsSelect+`
		AND e.recipient_unit_id = $3
		GROUP BY e.recipient_unit_id`, from, to, recipientUnitID).
		Scan(&t.RecipientUnitID, &t.Pending, &t.Transferred, &t.Failed, &t.Reversed, &t.Net, &t.EntryCount, &t.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
