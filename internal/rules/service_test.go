package rules

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commonfund/commonfund/internal/shared"
	"github.com/commonfund/commonfund/internal/split"
)

type memoryRulesRepo struct {
	configs    map[int64]SplitConfig
	rulesByCfg map[int64][]SplitRule
	nextCfgID  int64
	nextRuleID int64
}

func newMemoryRulesRepo() *memoryRulesRepo {
	return &memoryRulesRepo{
		configs:    make(map[int64]SplitConfig),
		rulesByCfg: make(map[int64][]SplitRule),
	}
}

func (r *memoryRulesRepo) CreateConfig(ctx context.Context, ownerUnitID int64, model DisbursementModel) (*SplitConfig, error) {
	now := time.Now().UTC()
	for id, cfg := range r.configs {
		if cfg.OwnerUnitID == ownerUnitID && cfg.IsActive {
			cfg.IsActive = false
			cfg.DeactivatedAt = &now
			r.configs[id] = cfg
		}
	}
	r.nextCfgID++
	cfg := SplitConfig{ID: r.nextCfgID, OwnerUnitID: ownerUnitID, DisbursementModel: model, IsActive: true, CreatedAt: now}
	r.configs[cfg.ID] = cfg
	return &cfg, nil
}

func (r *memoryRulesRepo) ActiveConfig(ctx context.Context, ownerUnitID int64) (*SplitConfig, error) {
	for _, cfg := range r.configs {
		if cfg.OwnerUnitID == ownerUnitID && cfg.IsActive {
			c := cfg
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRulesRepo) ConfigByID(ctx context.Context, id int64) (*SplitConfig, error) {
	cfg, ok := r.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (r *memoryRulesRepo) ReplaceRuleSet(ctx context.Context, configID int64, effectiveFrom time.Time, inputs []RuleInput) (int32, error) {
	if _, ok := r.configs[configID]; !ok {
		return 0, ErrNotFound
	}
	var version int32
	for _, rule := range r.rulesByCfg[configID] {
		if rule.RuleSetVersion > version {
			version = rule.RuleSetVersion
		}
	}
	version++
	stored := r.rulesByCfg[configID]
	for i := range stored {
		stored[i].IsActive = false
	}
	for _, in := range inputs {
		r.nextRuleID++
		stored = append(stored, SplitRule{
			ID:              r.nextRuleID,
			ConfigID:        configID,
			RuleSetVersion:  version,
			RecipientUnitID: in.RecipientUnitID,
			PercentageBps:   in.PercentageBps,
			SortOrder:       in.SortOrder,
			IsActive:        true,
			EffectiveFrom:   effectiveFrom,
			CreatedAt:       time.Now().UTC(),
		})
	}
	r.rulesByCfg[configID] = stored
	return version, nil
}

func (r *memoryRulesRepo) ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]SplitRule, error) {
	cfg, err := r.ActiveConfig(ctx, ownerUnitID)
	if err != nil {
		return nil, ErrNoActiveConfig
	}
	var version int32
	for _, rule := range r.rulesByCfg[cfg.ID] {
		if !rule.EffectiveFrom.After(asOf) && rule.RuleSetVersion > version {
			version = rule.RuleSetVersion
		}
	}
	if version == 0 {
		return nil, ErrNoActiveConfig
	}
	return r.RuleSet(ctx, cfg.ID, version)
}

func (r *memoryRulesRepo) RuleSet(ctx context.Context, configID int64, version int32) ([]SplitRule, error) {
	var out []SplitRule
	for _, rule := range r.rulesByCfg[configID] {
		if rule.RuleSetVersion == version {
			out = append(out, rule)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (r *memoryRulesRepo) ListVersions(ctx context.Context, configID int64) ([]RuleSetVersion, error) {
	byVersion := map[int32]*RuleSetVersion{}
	for _, rule := range r.rulesByCfg[configID] {
		v, ok := byVersion[rule.RuleSetVersion]
		if !ok {
			v = &RuleSetVersion{Version: rule.RuleSetVersion, EffectiveFrom: rule.EffectiveFrom}
			byVersion[rule.RuleSetVersion] = v
		}
		v.RuleCount++
	}
	var out []RuleSetVersion
	for _, v := range byVersion {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestSetupConfigDeactivatesPredecessor(t *testing.T) {
	repo := newMemoryRulesRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	first, err := svc.SetupConfig(ctx, 1, 42, DisbursementCentrallyManaged)
	require.NoError(t, err)
	second, err := svc.SetupConfig(ctx, 1, 42, DisbursementUnitSelfManaged)
	require.NoError(t, err)

	active, err := svc.ActiveConfig(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)

	old, err := repo.ConfigByID(ctx, first.ID)
	require.NoError(t, err)
	require.False(t, old.IsActive)
	require.NotNil(t, old.DeactivatedAt)

	require.Len(t, audit.logs, 2)
	require.Equal(t, "split_config.create", audit.logs[0].Action)
}

func TestSetupConfigRejectsUnknownModel(t *testing.T) {
	svc := NewService(newMemoryRulesRepo(), nil)
	_, err := svc.SetupConfig(context.Background(), 1, 42, "DELEGATED")
	require.Error(t, err)
	_, err = svc.SetupConfig(context.Background(), 1, 0, DisbursementCentrallyManaged)
	require.Error(t, err)
}

func TestReplaceRuleSetValidatesPercentageSum(t *testing.T) {
	repo := newMemoryRulesRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	cfg, err := svc.SetupConfig(ctx, 1, 42, DisbursementCentrallyManaged)
	require.NoError(t, err)

	// 60 + 39 = 99%, outside the tolerance.
	_, err = svc.ReplaceRuleSet(ctx, 1, cfg.ID, time.Time{}, []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 6000, SortOrder: 1},
		{RecipientUnitID: 20, PercentageBps: 3900, SortOrder: 2},
	})
	require.ErrorIs(t, err, split.ErrInvalidRuleSet)

	// 60 + 40 = 100%.
	version, err := svc.ReplaceRuleSet(ctx, 1, cfg.ID, time.Time{}, []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 6000, SortOrder: 1},
		{RecipientUnitID: 20, PercentageBps: 4000, SortOrder: 2},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), version)

	// 33.33 * 3 = 99.99%, inside the +-0.01% tolerance.
	version, err = svc.ReplaceRuleSet(ctx, 1, cfg.ID, time.Time{}, []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 3333, SortOrder: 1},
		{RecipientUnitID: 20, PercentageBps: 3333, SortOrder: 2},
		{RecipientUnitID: 30, PercentageBps: 3333, SortOrder: 3},
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), version)
}

func TestReplaceRuleSetRejectsDuplicateRecipients(t *testing.T) {
	repo := newMemoryRulesRepo()
	svc := NewService(repo, nil)
	cfg, err := svc.SetupConfig(context.Background(), 1, 42, DisbursementCentrallyManaged)
	require.NoError(t, err)

	_, err = svc.ReplaceRuleSet(context.Background(), 1, cfg.ID, time.Time{}, []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 5000, SortOrder: 1},
		{RecipientUnitID: 10, PercentageBps: 5000, SortOrder: 2},
	})
	require.ErrorIs(t, err, split.ErrInvalidRuleSet)
}

func TestRuleSetVersioningPreservesHistory(t *testing.T) {
	repo := newMemoryRulesRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	cfg, err := svc.SetupConfig(ctx, 1, 42, DisbursementCentrallyManaged)
	require.NoError(t, err)

	v1Rules := []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 5000, SortOrder: 1},
		{RecipientUnitID: 20, PercentageBps: 5000, SortOrder: 2},
	}
	v1, err := svc.ReplaceRuleSet(ctx, 1, cfg.ID, time.Now().Add(-time.Hour), v1Rules)
	require.NoError(t, err)

	v2Rules := []RuleInput{
		{RecipientUnitID: 10, PercentageBps: 7000, SortOrder: 1},
		{RecipientUnitID: 30, PercentageBps: 3000, SortOrder: 2},
	}
	v2, err := svc.ReplaceRuleSet(ctx, 1, cfg.ID, time.Now().Add(-time.Minute), v2Rules)
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)

	// The old version stays readable verbatim.
	stored, err := svc.RuleSet(ctx, cfg.ID, v1)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, int32(5000), stored[0].PercentageBps)

	// The active resolution picks the newest effective version.
	active, err := svc.ActiveRules(ctx, 42, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, v2, active[0].RuleSetVersion)
	require.Equal(t, int32(7000), active[0].PercentageBps)

	versions, err := svc.ListVersions(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, v2, versions[0].Version)
}

func TestActiveRulesWithoutConfig(t *testing.T) {
	svc := NewService(newMemoryRulesRepo(), nil)
	_, err := svc.ActiveRules(context.Background(), 99, time.Now())
	require.ErrorIs(t, err, ErrNoActiveConfig)
}
