package recon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/commonfund/commonfund/internal/ledger"
	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
)

// LedgerReader is the slice of the ledger the reconciliation views read.
type LedgerReader interface {
	Contribution(ctx context.Context, id string) (*ledger.Contribution, error)
	EntriesByContribution(ctx context.Context, contributionID string) ([]ledger.Entry, error)
	ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, int, error)
}

// RulesReader resolves historical rule set versions for audit trails.
type RulesReader interface {
	RuleSet(ctx context.Context, configID int64, version int32) ([]rules.SplitRule, error)
}

// RepositoryPort abstracts the aggregate queries.
type RepositoryPort interface {
	TotalsByRecipient(ctx context.Context, from, to time.Time) ([]RecipientTotals, error)
	TotalsForRecipient(ctx context.Context, recipientUnitID int64, from, to time.Time) (*RecipientTotals, error)
}

// Service coordinates reconciliation reads through the versioned cache.
type Service struct {
	repo    RepositoryPort
	ledgers LedgerReader
	rules   RulesReader
	cache   *Cache
	group   singleflight.Group
}

// NewService builds a Service instance. The cache may be nil; reads then go
// straight to the database.
func NewService(repo RepositoryPort, ledgers LedgerReader, rulesReader RulesReader, cache *Cache) *Service {
	return &Service{repo: repo, ledgers: ledgers, rules: rulesReader, cache: cache}
}

// Totals returns every recipient's aggregated position for the period.
// Concurrent requests for the same period collapse into one database round
// trip.
func (s *Service) Totals(ctx context.Context, period shared.Period) ([]RecipientTotals, error) {
	from, to := period.Bounds()
	key, err := s.cache.BuildKey(ctx, "recon", "totals", period.String())
	if err != nil {
		return nil, err
	}

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		var totals []RecipientTotals
		err := s.cache.FetchJSON(ctx, key, &totals, func(ctx context.Context) (interface{}, error) {
			return s.repo.TotalsByRecipient(ctx, from, to)
		})
		return totals, err
	})
	if err != nil {
		return nil, err
	}
	totals, _ := result.([]RecipientTotals)
	return totals, nil
}

// Statement returns a recipient's entry listing and totals for the period.
func (s *Service) Statement(ctx context.Context, recipientUnitID int64, period shared.Period, p shared.Pagination) (*Statement, error) {
	from, to := period.Bounds()
	key, err := s.cache.BuildKey(ctx, "recon", "statement",
		strconv.FormatInt(recipientUnitID, 10), period.String(),
		strconv.Itoa(p.PerPage), strconv.Itoa(p.Page))
	if err != nil {
		return nil, err
	}

	var statement Statement
	err = s.cache.FetchJSON(ctx, key, &statement, func(ctx context.Context) (interface{}, error) {
		return s.buildStatement(ctx, recipientUnitID, period, from, to, p)
	})
	if err != nil {
		return nil, err
	}
	return &statement, nil
}

func (s *Service) buildStatement(ctx context.Context, recipientUnitID int64, period shared.Period, from, to time.Time, p shared.Pagination) (*Statement, error) {
	totals, err := s.repo.TotalsForRecipient(ctx, recipientUnitID, from, to)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.ledgers.ListEntries(ctx, ledger.EntryFilter{
		RecipientUnitID: recipientUnitID,
		From:            from,
		To:              to,
		Limit:           p.PerPage,
		Offset:          p.Offset(),
	})
	if err != nil {
		return nil, err
	}
	return &Statement{
		RecipientUnitID: recipientUnitID,
		Period:          period.String(),
		Totals:          *totals,
		Entries:         entries,
		TotalEntries:    total,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// Trail reconstructs the audit trail of one contribution. It reads fresh,
// never through the cache: audit views must reflect the database verbatim.
func (s *Service) Trail(ctx context.Context, contributionID string) (*AuditTrail, error) {
	contribution, err := s.ledgers.Contribution(ctx, contributionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entries, err := s.ledgers.EntriesByContribution(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	ruleSet, err := s.rules.RuleSet(ctx, contribution.ConfigID, contribution.RuleSetVersion)
	if err != nil && !errors.Is(err, rules.ErrNotFound) {
		return nil, fmt.Errorf("resolve rule set: %w", err)
	}

	var entriesTotal int64
	for _, entry := range entries {
		if entry.SourceType != ledger.SourceReversal {
			entriesTotal += entry.Amount
		}
	}
	return &AuditTrail{
		Contribution: *contribution,
		Rules:        ruleSet,
		Entries:      entries,
		EntriesTotal: entriesTotal,
	}, nil
}
