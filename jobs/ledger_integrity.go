package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/commonfund/commonfund/internal/jobs"
)

const defaultIntegrityWindowHours = 48

// LedgerIntegrityJob re-verifies split conservation: for every contribution in
// the scan window, the non-reversal entries must sum to the contribution
// amount exactly. A mismatch means a bug upstream and is logged loudly; the
// job itself never mutates the ledger.
type LedgerIntegrityJob struct {
	pool    *pgxpool.Pool
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, metrics *jobmetrics.Metrics, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{pool: pool, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	windowHours := payload.WindowHours
	if windowHours <= 0 {
		windowHours = defaultIntegrityWindowHours
	}

	tracker := j.metrics.Track("ledger_integrity")

	const query = `
		SELECT c.id, c.amount, COALESCE(SUM(e.amount), 0)
		FROM contributions c
		LEFT JOIN ledger_entries e
			ON e.contribution_id = c.id AND e.reverses_entry_id IS NULL
		WHERE c.recorded_at >= NOW() - make_interval(hours => $1)
		GROUP BY c.id, c.amount
		HAVING c.amount <> COALESCE(SUM(e.amount), 0)`

	rows, err := j.pool.Query(ctx, query, windowHours)
	if err != nil {
		return tracker.End(err)
	}
	defer rows.Close()

	mismatches := 0
	for rows.Next() {
		var contributionID string
		var expected, actual int64
		if err := rows.Scan(&contributionID, &expected, &actual); err != nil {
			return tracker.End(err)
		}
		mismatches++
		if j.logger != nil {
			j.logger.Error("ledger conservation violated",
				slog.String("contribution_id", contributionID),
				slog.Int64("contribution_amount", expected),
				slog.Int64("entries_sum", actual))
		}
	}
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}

	if j.logger != nil {
		j.logger.Info("ledger integrity check executed",
			slog.Int("window_hours", windowHours),
			slog.Int("mismatches", mismatches))
	}
	return tracker.End(nil)
}
