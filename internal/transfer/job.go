package transfer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/commonfund/commonfund/internal/jobs"
	"github.com/commonfund/commonfund/jobs"
)

// SweepJob processes transfer sweep tasks.
type SweepJob struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewSweepJob constructs a job handler.
func NewSweepJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *SweepJob {
	return &SweepJob{service: service, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.TransferSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track("transfer_sweep")
	summary, err := j.service.ProcessPending(ctx, payload.BatchSize)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("transfer sweep", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	j.metrics.AddTransferOutcomes(summary.Succeeded, summary.Failed, summary.Skipped)
	if j.logger != nil {
		j.logger.Info("transfer sweep complete",
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped))
	}
	return tracker.End(nil)
}
