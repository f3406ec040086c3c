package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransferSweep processes pending ledger entries against the
	// payment processor.
	TaskTransferSweep = "transfer:sweep"
	// TaskLedgerIntegrity re-checks split conservation over recent
	// contributions.
	TaskLedgerIntegrity = "ledger:integrity"
)

// TransferSweepPayload parameterises one sweep invocation.
type TransferSweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewTransferSweepTask constructs an Asynq task for the transfer sweep.
func NewTransferSweepTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(TransferSweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransferSweep, data), nil
}

// LedgerIntegrityPayload bounds the integrity scan window.
type LedgerIntegrityPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity check.
func NewLedgerIntegrityTask(windowHours int) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{WindowHours: windowHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}
