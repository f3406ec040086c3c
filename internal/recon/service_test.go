package recon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/commonfund/commonfund/internal/ledger"
	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
)

type fakeReconRepo struct {
	totals []RecipientTotals
	calls  atomic.Int64
}

func (f *fakeReconRepo) TotalsByRecipient(ctx context.Context, from, to time.Time) ([]RecipientTotals, error) {
	f.calls.Add(1)
	return f.totals, nil
}

func (f *fakeReconRepo) TotalsForRecipient(ctx context.Context, recipientUnitID int64, from, to time.Time) (*RecipientTotals, error) {
	for _, t := range f.totals {
		if t.RecipientUnitID == recipientUnitID {
			copied := t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

type fakeLedgerReader struct {
	contributions map[string]ledger.Contribution
	entries       []ledger.Entry
}

func (f *fakeLedgerReader) Contribution(ctx context.Context, id string) (*ledger.Contribution, error) {
	c, ok := f.contributions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &c, nil
}

func (f *fakeLedgerReader) EntriesByContribution(ctx context.Context, contributionID string) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, entry := range f.entries {
		if entry.ContributionID == contributionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeLedgerReader) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, int, error) {
	var out []ledger.Entry
	for _, entry := range f.entries {
		if filter.RecipientUnitID > 0 && entry.RecipientUnitID != filter.RecipientUnitID {
			continue
		}
		out = append(out, entry)
	}
	return out, len(out), nil
}

type fakeRulesReader struct {
	ruleSet []rules.SplitRule
}

func (f *fakeRulesReader) RuleSet(ctx context.Context, configID int64, version int32) ([]rules.SplitRule, error) {
	if len(f.ruleSet) == 0 {
		return nil, rules.ErrNotFound
	}
	return f.ruleSet, nil
}

func sampleTotals() []RecipientTotals {
	return []RecipientTotals{
		{RecipientUnitID: 10, Pending: 2000, Transferred: 4001, Failed: 3000, Reversed: -1000, Net: 8001, EntryCount: 4, Currency: "EUR"},
		{RecipientUnitID: 20, Pending: 0, Transferred: 3000, Failed: 0, Reversed: 0, Net: 3000, EntryCount: 1, Currency: "EUR"},
	}
}

func mustPeriod(t *testing.T, s string) shared.Period {
	t.Helper()
	period, err := shared.ParsePeriod(s)
	require.NoError(t, err)
	return period
}

func TestTotalsBucketsSumToNet(t *testing.T) {
	repo := &fakeReconRepo{totals: sampleTotals()}
	svc := NewService(repo, &fakeLedgerReader{}, &fakeRulesReader{}, NewCache(nil, 0))

	totals, err := svc.Totals(context.Background(), mustPeriod(t, "2026-03"))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	for _, total := range totals {
		require.Equal(t, total.Net, total.Pending+total.Transferred+total.Failed+total.Reversed,
			"status buckets must partition the net for unit %d", total.RecipientUnitID)
	}
}

func TestTotalsServedFromCacheUntilBump(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() {
		_ = redisClient.Close()
	}()

	repo := &fakeReconRepo{totals: sampleTotals()}
	cache := NewCache(redisClient, time.Minute)
	svc := NewService(repo, &fakeLedgerReader{}, &fakeRulesReader{}, cache)
	ctx := context.Background()
	period := mustPeriod(t, "2026-03")

	for i := 0; i < 3; i++ {
		_, err := svc.Totals(ctx, period)
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), repo.calls.Load())

	// A ledger write bumps the version; the next read recomputes.
	require.NoError(t, cache.Bump(ctx))
	_, err = svc.Totals(ctx, period)
	require.NoError(t, err)
	require.Equal(t, int64(2), repo.calls.Load())
}

func TestStatementCombinesTotalsAndEntries(t *testing.T) {
	repo := &fakeReconRepo{totals: sampleTotals()}
	ledgerReader := &fakeLedgerReader{entries: []ledger.Entry{
		{ID: 1, ContributionID: "c-1", RecipientUnitID: 10, Amount: 5001, Status: ledger.StatusTransferred, Currency: "EUR"},
		{ID: 2, ContributionID: "c-1", RecipientUnitID: 20, Amount: 3000, Status: ledger.StatusTransferred, Currency: "EUR"},
		{ID: 3, ContributionID: "c-1", RecipientUnitID: 10, Amount: -1000, Status: ledger.StatusReversed, Currency: "EUR"},
	}}
	svc := NewService(repo, ledgerReader, &fakeRulesReader{}, NewCache(nil, 0))

	statement, err := svc.Statement(context.Background(), 10, mustPeriod(t, "2026-03"), shared.NewPagination(1, 20, 0))
	require.NoError(t, err)
	require.Equal(t, int64(10), statement.RecipientUnitID)
	require.Equal(t, "2026-03", statement.Period)
	require.Len(t, statement.Entries, 2)
	require.Equal(t, int64(8001), statement.Totals.Net)
}

func TestStatementUnknownRecipient(t *testing.T) {
	svc := NewService(&fakeReconRepo{}, &fakeLedgerReader{}, &fakeRulesReader{}, NewCache(nil, 0))
	_, err := svc.Statement(context.Background(), 404, mustPeriod(t, "2026-03"), shared.NewPagination(1, 20, 0))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTrailReconstructsContribution(t *testing.T) {
	contribution := ledger.Contribution{
		ID: "c-1", SourceType: ledger.SourceMembershipDue, Amount: 10000, Currency: "EUR",
		OriginatingUnitID: 1, ConfigID: 1, RuleSetVersion: 2,
	}
	ledgerReader := &fakeLedgerReader{
		contributions: map[string]ledger.Contribution{"c-1": contribution},
		entries: []ledger.Entry{
			{ID: 1, ContributionID: "c-1", SourceType: ledger.SourceMembershipDue, RecipientUnitID: 10, Amount: 5000},
			{ID: 2, ContributionID: "c-1", SourceType: ledger.SourceMembershipDue, RecipientUnitID: 20, Amount: 5000},
			{ID: 3, ContributionID: "c-1", SourceType: ledger.SourceReversal, RecipientUnitID: 10, Amount: -5000},
		},
	}
	rulesReader := &fakeRulesReader{ruleSet: []rules.SplitRule{
		{ConfigID: 1, RuleSetVersion: 2, RecipientUnitID: 10, PercentageBps: 5000},
		{ConfigID: 1, RuleSetVersion: 2, RecipientUnitID: 20, PercentageBps: 5000},
	}}
	svc := NewService(&fakeReconRepo{}, ledgerReader, rulesReader, NewCache(nil, 0))

	trail, err := svc.Trail(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, contribution, trail.Contribution)
	require.Len(t, trail.Rules, 2)
	require.Len(t, trail.Entries, 3)
	// Reversals are excluded: the original split must still match the amount.
	require.Equal(t, int64(10000), trail.EntriesTotal)
}

func TestTrailUnknownContribution(t *testing.T) {
	svc := NewService(&fakeReconRepo{}, &fakeLedgerReader{}, &fakeRulesReader{}, NewCache(nil, 0))
	_, err := svc.Trail(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
