package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
	"github.com/commonfund/commonfund/internal/split"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	InsertContribution(ctx context.Context, contribution Contribution, entries []Entry) ([]Entry, error)
	Contribution(ctx context.Context, id string) (*Contribution, error)
	EntriesByContribution(ctx context.Context, contributionID string) ([]Entry, error)
	Entry(ctx context.Context, id int64) (*Entry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, int, error)
	ListPending(ctx context.Context, limit int) ([]Entry, error)
	MarkTransferred(ctx context.Context, id int64, transferRef string) (*Entry, error)
	MarkFailed(ctx context.Context, id int64, reason string) (*Entry, error)
	MarkPending(ctx context.Context, id int64) (*Entry, error)
	InsertReversal(ctx context.Context, originalID int64, amount int64, reason string) (*Entry, error)
}

// RulesPort resolves the split rules in force for an owner unit.
type RulesPort interface {
	ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]rules.SplitRule, error)
}

// CacheBumper invalidates read-side caches after ledger writes.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// AuditRecorder persists operator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the ledger state machine.
type Service struct {
	repo   RepositoryPort
	rules  RulesPort
	audit  AuditRecorder
	bumper CacheBumper
	logger *slog.Logger
}

// NewService builds a Service instance. audit and bumper may be nil.
func NewService(repo RepositoryPort, rulesPort RulesPort, audit AuditRecorder, bumper CacheBumper, logger *slog.Logger) *Service {
	return &Service{repo: repo, rules: rulesPort, audit: audit, bumper: bumper, logger: logger}
}

// RecordContribution splits a completed contribution across the active rule
// set and inserts the derived pending entries atomically. Replayed events
// return the existing entry set with created=false. The rule percentages are
// snapshotted onto each entry.
func (s *Service) RecordContribution(ctx context.Context, event ContributionEvent) ([]Entry, bool, error) {
	if event.ContributionID == "" {
		return nil, false, errors.New("ledger: contribution id required")
	}
	if event.Amount <= 0 {
		return nil, false, errors.New("ledger: amount must be positive minor units")
	}
	if event.Currency == "" {
		return nil, false, errors.New("ledger: currency required")
	}
	if event.OriginatingUnitID <= 0 {
		return nil, false, errors.New("ledger: originating unit required")
	}
	switch event.SourceType {
	case SourceMembershipDue, SourceDonation:
	default:
		return nil, false, errors.New("ledger: unknown source type")
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	ruleSet, err := s.rules.ActiveRules(ctx, event.OriginatingUnitID, occurredAt)
	if err != nil {
		return nil, false, err
	}
	shares, err := split.Compute(event.Amount, rules.EngineRules(ruleSet))
	if err != nil {
		return nil, false, err
	}

	entries := make([]Entry, 0, len(shares))
	for _, share := range shares {
		if share.Amount == 0 {
			// A sub-minor-unit share rounds to nothing; recording it would
			// violate the positive-amount invariant.
			continue
		}
		entries = append(entries, Entry{
			SourceType:        event.SourceType,
			RecipientUnitID:   share.RecipientUnitID,
			Amount:            share.Amount,
			RulePercentageBps: share.PercentageBps,
		})
	}

	contribution := Contribution{
		ID:                event.ContributionID,
		SourceType:        event.SourceType,
		Amount:            event.Amount,
		Currency:          event.Currency,
		OriginatingUnitID: event.OriginatingUnitID,
		ConfigID:          ruleSet[0].ConfigID,
		RuleSetVersion:    ruleSet[0].RuleSetVersion,
		OccurredAt:        occurredAt,
	}

	inserted, err := s.repo.InsertContribution(ctx, contribution, entries)
	if errors.Is(err, ErrDuplicateContribution) {
		existing, lookupErr := s.repo.EntriesByContribution(ctx, event.ContributionID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.bump(ctx)
	return inserted, true, nil
}

// MarkTransferred records a confirmed transfer. Only legal from pending or
// failed; anything else observes ErrNotPending.
func (s *Service) MarkTransferred(ctx context.Context, entryID int64, transferRef string) (*Entry, error) {
	if transferRef == "" {
		return nil, errors.New("ledger: transfer reference required")
	}
	entry, err := s.repo.MarkTransferred(ctx, entryID, transferRef)
	if err != nil {
		return nil, err
	}
	s.bump(ctx)
	return entry, nil
}

// MarkFailed records an explicit processor rejection. The entry stays
// retryable via Retry.
func (s *Service) MarkFailed(ctx context.Context, entryID int64, reason string) (*Entry, error) {
	entry, err := s.repo.MarkFailed(ctx, entryID, reason)
	if err != nil {
		return nil, err
	}
	s.bump(ctx)
	return entry, nil
}

// Retry returns a failed entry to pending after the operator corrected the
// underlying cause.
func (s *Service) Retry(ctx context.Context, actorID, entryID int64) (*Entry, error) {
	entry, err := s.repo.MarkPending(ctx, entryID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "ledger_entry.retry", entryID, nil)
	s.bump(ctx)
	return entry, nil
}

// Reverse creates an offsetting negative entry against a transferred entry.
// amount <= 0 reverses the full original amount. The original entry's amount
// is never touched.
func (s *Service) Reverse(ctx context.Context, actorID, entryID int64, amount int64, reason string) (*Entry, error) {
	if reason == "" {
		return nil, errors.New("ledger: reversal reason required")
	}
	if amount < 0 {
		return nil, errors.New("ledger: reversal amount must be positive")
	}
	if amount == 0 {
		original, err := s.repo.Entry(ctx, entryID)
		if err != nil {
			return nil, err
		}
		amount = original.Amount
	}
	reversal, err := s.repo.InsertReversal(ctx, entryID, amount, reason)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "ledger_entry.reverse", entryID, map[string]any{
		"reversal_entry_id":  reversal.ID,
		"amount_minor_units": amount,
		"reason":             reason,
	})
	s.bump(ctx)
	return reversal, nil
}

// Entry returns one ledger entry.
func (s *Service) Entry(ctx context.Context, entryID int64) (*Entry, error) {
	return s.repo.Entry(ctx, entryID)
}

// ListEntries returns entries matching the filter plus the unpaged total.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, int, error) {
	return s.repo.ListEntries(ctx, filter)
}

// ListPending returns the oldest pending entries for the transfer sweep.
func (s *Service) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListPending(ctx, limit)
}

func (s *Service) bump(ctx context.Context) {
	if s.bumper == nil {
		return
	}
	if err := s.bumper.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("bump recon cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     meta,
	})
}
