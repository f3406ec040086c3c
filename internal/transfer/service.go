package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/commonfund/commonfund/internal/ledger"
)

// LedgerPort is the slice of the ledger the executor drives.
type LedgerPort interface {
	ListPending(ctx context.Context, limit int) ([]ledger.Entry, error)
	MarkTransferred(ctx context.Context, entryID int64, transferRef string) (*ledger.Entry, error)
	MarkFailed(ctx context.Context, entryID int64, reason string) (*ledger.Entry, error)
}

// Gate answers whether a recipient unit can receive transfers right now.
type Gate interface {
	Account(ctx context.Context, unitID int64) (Account, error)
}

// Processor submits transfers to the external payment processor.
type Processor interface {
	CreateTransfer(ctx context.Context, request Request) (Result, error)
}

// Service executes pending ledger entries. It owns no scheduling; the worker
// invokes ProcessPending per sweep.
type Service struct {
	ledger      LedgerPort
	gate        Gate
	processor   Processor
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(ledgerPort LedgerPort, gate Gate, processor Processor, callTimeout time.Duration, logger *slog.Logger) *Service {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Service{ledger: ledgerPort, gate: gate, processor: processor, callTimeout: callTimeout, logger: logger}
}

// ProcessPending attempts to move up to batchSize pending entries. Ineligible
// recipients and ambiguous processor outcomes leave entries pending for the
// next sweep; only an explicit rejection marks an entry failed. Cancellation
// mid-batch is safe: unfinished entries simply stay pending.
func (s *Service) ProcessPending(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	entries, err := s.ledger.ListPending(ctx, batchSize)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, entry := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome := s.processEntry(ctx, entry)
		switch outcome {
		case OutcomeAccepted:
			summary.Succeeded++
		case OutcomeRejected:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

func (s *Service) processEntry(ctx context.Context, entry ledger.Entry) Outcome {
	account, err := s.gate.Account(ctx, entry.RecipientUnitID)
	if err != nil {
		s.warn("eligibility lookup", entry.ID, err)
		return OutcomeAmbiguous
	}
	if !account.TransferCapable {
		s.info("skipped ineligible recipient", entry)
		return OutcomeAmbiguous
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	result, err := s.processor.CreateTransfer(callCtx, Request{
		IdempotencyKey:     IdempotencyKey(entry.ID),
		DestinationAccount: account.Ref,
		AmountMinorUnits:   entry.Amount,
		Currency:           entry.Currency,
	})
	if err != nil {
		s.warn("create transfer", entry.ID, err)
		return OutcomeAmbiguous
	}

	switch result.Outcome {
	case OutcomeAccepted:
		if _, err := s.ledger.MarkTransferred(ctx, entry.ID, result.TransferRef); err != nil {
			if errors.Is(err, ledger.ErrNotPending) {
				// A concurrent sweep won the transition; the idempotency key
				// guarantees no second transfer happened.
				return OutcomeAmbiguous
			}
			s.warn("mark transferred", entry.ID, err)
			return OutcomeAmbiguous
		}
		return OutcomeAccepted
	case OutcomeRejected:
		if _, err := s.ledger.MarkFailed(ctx, entry.ID, result.Reason); err != nil {
			if !errors.Is(err, ledger.ErrNotPending) {
				s.warn("mark failed", entry.ID, err)
			}
			return OutcomeAmbiguous
		}
		return OutcomeRejected
	default:
		// Ambiguous: never guess. The entry stays pending and the next sweep
		// retries with the same idempotency key.
		return OutcomeAmbiguous
	}
}

func (s *Service) warn(msg string, entryID int64, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Int64("entry_id", entryID), slog.Any("error", err))
	}
}

func (s *Service) info(msg string, entry ledger.Entry) {
	if s.logger != nil {
		s.logger.Info(msg,
			slog.Int64("entry_id", entry.ID),
			slog.Int64("recipient_unit_id", entry.RecipientUnitID))
	}
}
