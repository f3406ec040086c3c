package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonfund/commonfund/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `e.id, e.contribution_id, e.source_type, e.recipient_unit_id, e.amount, c.currency,
	e.rule_percentage_bps, e.status, e.transfer_reference, e.failure_reason, e.reverses_entry_id,
	e.created_at, e.transferred_at`

// InsertContribution records the contribution and all derived pending entries
// in one atomic write. A replayed event hits the contributions primary key and
// surfaces ErrDuplicateContribution without inserting anything.
func (r *Repository) InsertContribution(ctx context.Context, contribution Contribution, entries []Entry) ([]Entry, error) {
	inserted := make([]Entry, len(entries))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO contributions (id, source_type, amount, currency, originating_unit_id, config_id, rule_set_version, occurred_at, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			contribution.ID, string(contribution.SourceType), contribution.Amount, contribution.Currency,
			contribution.OriginatingUnitID, contribution.ConfigID, contribution.RuleSetVersion, contribution.OccurredAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateContribution
			}
			return err
		}

		for i, entry := range entries {
			row := tx.QueryRow(ctx, `
				INSERT INTO ledger_entries (contribution_id, source_type, recipient_unit_id, amount, rule_percentage_bps, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW())
				RETURNING id, created_at`,
				contribution.ID, string(entry.SourceType), entry.RecipientUnitID, entry.Amount, entry.RulePercentageBps, string(StatusPending))
			inserted[i] = entry
			inserted[i].ContributionID = contribution.ID
			inserted[i].Currency = contribution.Currency
			inserted[i].Status = StatusPending
			if err := row.Scan(&inserted[i].ID, &inserted[i].CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// Contribution returns the recorded contribution.
func (r *Repository) Contribution(ctx context.Context, id string) (*Contribution, error) {
	var c Contribution
	var source string
	err := r.pool.QueryRow(ctx, `
		SELECT id, source_type, amount, currency, originating_unit_id, config_id, rule_set_version, occurred_at, recorded_at
		FROM contributions WHERE id = $1`, id).
		Scan(&c.ID, &source, &c.Amount, &c.Currency, &c.OriginatingUnitID, &c.ConfigID, &c.RuleSetVersion, &c.OccurredAt, &c.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.SourceType = SourceType(source)
	return &c, nil
}

// EntriesByContribution returns all entries derived from one contribution,
// reversals included, in creation order.
func (r *Repository) EntriesByContribution(ctx context.Context, contributionID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		JOIN contributions c ON c.id = e.contribution_id
		WHERE e.contribution_id = $1
		ORDER BY e.id`, contributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Entry returns a single ledger entry.
func (r *Repository) Entry(ctx context.Context, id int64) (*Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		JOIN contributions c ON c.id = e.contribution_id
		WHERE e.id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// EntryFilter narrows ledger listings.
type EntryFilter struct {
	RecipientUnitID int64
	Status          Status
	ContributionID  string
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}

// ListEntries returns entries matching the filter plus the unpaged total.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argNum := 1
	add := func(clause string, value any) {
		where += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}
	if filter.RecipientUnitID > 0 {
		add(" AND e.recipient_unit_id = $%d", filter.RecipientUnitID)
	}
	if filter.Status != "" {
		add(" AND e.status = $%d", string(filter.Status))
	}
	if filter.ContributionID != "" {
		add(" AND e.contribution_id = $%d", filter.ContributionID)
	}
	if !filter.From.IsZero() {
		add(" AND e.created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add(" AND e.created_at < $%d", filter.To)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM ledger_entries e" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + entryColumns + " FROM ledger_entries e JOIN contributions c ON c.id = e.contribution_id" + where + " ORDER BY e.created_at DESC, e.id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListPending returns the oldest pending entries up to limit, for the sweep.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		JOIN contributions c ON c.id = e.contribution_id
		WHERE e.status = $1
		ORDER BY e.created_at, e.id
		LIMIT $2`, string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkTransferred transitions pending/failed → transferred. The status guard
// lives in the WHERE clause so a losing concurrent writer observes
// ErrNotPending instead of double-crediting.
func (r *Repository) MarkTransferred(ctx context.Context, id int64, transferRef string) (*Entry, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $2, transfer_reference = $3, transferred_at = NOW(), failure_reason = NULL
		WHERE id = $1 AND status IN ($4, $5)`,
		id, string(StatusTransferred), transferRef, string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, r.classifyTransitionFailure(ctx, id, ErrNotPending)
	}
	return r.Entry(ctx, id)
}

// MarkFailed transitions pending → failed, keeping the entry retryable.
func (r *Repository) MarkFailed(ctx context.Context, id int64, reason string) (*Entry, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $2, failure_reason = $3
		WHERE id = $1 AND status = $4`,
		id, string(StatusFailed), reason, string(StatusPending))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, r.classifyTransitionFailure(ctx, id, ErrNotPending)
	}
	return r.Entry(ctx, id)
}

// MarkPending transitions failed → pending for an operator retry.
func (r *Repository) MarkPending(ctx context.Context, id int64) (*Entry, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $2, failure_reason = NULL
		WHERE id = $1 AND status = $3`,
		id, string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, r.classifyTransitionFailure(ctx, id, ErrIllegalTransition)
	}
	return r.Entry(ctx, id)
}

// InsertReversal creates the offsetting negative entry for a transferred
// entry. The over-reversal guard and the optional annotation of the original
// run in the same transaction as the insert.
func (r *Repository) InsertReversal(ctx context.Context, originalID int64, amount int64, reason string) (*Entry, error) {
	var reversal Entry
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var original Entry
		var status, source string
		err := tx.QueryRow(ctx, `
			SELECT id, contribution_id, source_type, recipient_unit_id, amount, rule_percentage_bps, status
			FROM ledger_entries
			WHERE id = $1
			FOR UPDATE`, originalID).
			Scan(&original.ID, &original.ContributionID, &source, &original.RecipientUnitID, &original.Amount, &original.RulePercentageBps, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		original.Status = Status(status)
		original.SourceType = SourceType(source)
		if original.SourceType == SourceReversal {
			return ErrIllegalTransition
		}
		if original.Status != StatusTransferred && original.Status != StatusReversed {
			return ErrIllegalTransition
		}

		// Net transferred for the recipient/contribution pair: positive
		// transferred (or annotated-reversed) entries plus negative reversals.
		var net int64
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0)
			FROM ledger_entries
			WHERE contribution_id = $1 AND recipient_unit_id = $2 AND status IN ($3, $4)`,
			original.ContributionID, original.RecipientUnitID, string(StatusTransferred), string(StatusReversed)).Scan(&net)
		if err != nil {
			return err
		}
		if amount > net {
			return ErrOverReversal
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO ledger_entries (contribution_id, source_type, recipient_unit_id, amount, rule_percentage_bps, status, failure_reason, reverses_entry_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			RETURNING id, created_at`,
			original.ContributionID, string(SourceReversal), original.RecipientUnitID, -amount,
			original.RulePercentageBps, string(StatusReversed), reason, original.ID).
			Scan(&reversal.ID, &reversal.CreatedAt)
		if err != nil {
			return err
		}
		reversal.ContributionID = original.ContributionID
		reversal.SourceType = SourceReversal
		reversal.RecipientUnitID = original.RecipientUnitID
		reversal.Amount = -amount
		reversal.RulePercentageBps = original.RulePercentageBps
		reversal.Status = StatusReversed
		reversal.FailureReason = reason
		reversal.ReversesEntryID = &original.ID

		// Annotate the original once fully offset. Its amount is untouched.
		if net-amount == 0 && original.Status == StatusTransferred {
			_, err = tx.Exec(ctx, `
				UPDATE ledger_entries SET status = $2
				WHERE id = $1 AND status = $3`,
				original.ID, string(StatusReversed), string(StatusTransferred))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Entry(ctx, reversal.ID)
}

func (r *Repository) classifyTransitionFailure(ctx context.Context, id int64, fallback error) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM ledger_entries WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: entry %d is %s", fallback, id, status)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var source, status string
		var transferRef, failureReason pgtype.Text
		var reversesID pgtype.Int8
		var transferredAt pgtype.Timestamptz
		err := rows.Scan(&e.ID, &e.ContributionID, &source, &e.RecipientUnitID, &e.Amount, &e.Currency,
			&e.RulePercentageBps, &status, &transferRef, &failureReason, &reversesID,
			&e.CreatedAt, &transferredAt)
		if err != nil {
			return nil, err
		}
		e.SourceType = SourceType(source)
		e.Status = Status(status)
		if transferRef.Valid {
			e.TransferRef = transferRef.String
		}
		if failureReason.Valid {
			e.FailureReason = failureReason.String
		}
		if reversesID.Valid {
			id := reversesID.Int64
			e.ReversesEntryID = &id
		}
		if transferredAt.Valid {
			e.TransferredAt = &transferredAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
