package rules

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/commonfund/commonfund/internal/shared"
)

// RepositoryPort defines data access methods for split configuration.
type RepositoryPort interface {
	CreateConfig(ctx context.Context, ownerUnitID int64, model DisbursementModel) (*SplitConfig, error)
	ActiveConfig(ctx context.Context, ownerUnitID int64) (*SplitConfig, error)
	ConfigByID(ctx context.Context, id int64) (*SplitConfig, error)
	ReplaceRuleSet(ctx context.Context, configID int64, effectiveFrom time.Time, inputs []RuleInput) (int32, error)
	ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]SplitRule, error)
	RuleSet(ctx context.Context, configID int64, version int32) ([]SplitRule, error)
	ListVersions(ctx context.Context, configID int64) ([]RuleSetVersion, error)
}

// AuditRecorder persists administrator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles split configuration business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditRecorder
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// SetupConfig activates revenue sharing for an owner unit. A previously active
// config is deactivated, never deleted.
func (s *Service) SetupConfig(ctx context.Context, actorID, ownerUnitID int64, model DisbursementModel) (*SplitConfig, error) {
	if ownerUnitID <= 0 {
		return nil, errors.New("rules: owner unit required")
	}
	switch model {
	case DisbursementCentrallyManaged, DisbursementUnitSelfManaged:
	default:
		return nil, errors.New("rules: unknown disbursement model")
	}
	cfg, err := s.repo.CreateConfig(ctx, ownerUnitID, model)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "split_config.create", cfg.ID, map[string]any{
		"owner_unit_id":      ownerUnitID,
		"disbursement_model": string(model),
	})
	return cfg, nil
}

// ReplaceRuleSet validates and appends a new rule-set version. Invalid sets
// are rejected outright; percentages are never silently corrected.
func (s *Service) ReplaceRuleSet(ctx context.Context, actorID, configID int64, effectiveFrom time.Time, inputs []RuleInput) (int32, error) {
	if err := ValidateRuleSet(inputs); err != nil {
		return 0, err
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now().UTC()
	}
	version, err := s.repo.ReplaceRuleSet(ctx, configID, effectiveFrom, inputs)
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, actorID, "split_rules.replace", configID, map[string]any{
		"rule_set_version": version,
		"rule_count":       len(inputs),
		"effective_from":   effectiveFrom,
	})
	return version, nil
}

// ActiveRules resolves the rule set in force for the owner unit at asOf.
func (s *Service) ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]SplitRule, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return s.repo.ActiveRules(ctx, ownerUnitID, asOf)
}

// ActiveConfig returns the active config for an owner unit.
func (s *Service) ActiveConfig(ctx context.Context, ownerUnitID int64) (*SplitConfig, error) {
	return s.repo.ActiveConfig(ctx, ownerUnitID)
}

// RuleSet returns one stored rule-set version of a config.
func (s *Service) RuleSet(ctx context.Context, configID int64, version int32) ([]SplitRule, error) {
	return s.repo.RuleSet(ctx, configID, version)
}

// ListVersions summarises a config's rule-set history.
func (s *Service) ListVersions(ctx context.Context, configID int64) ([]RuleSetVersion, error) {
	if _, err := s.repo.ConfigByID(ctx, configID); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, configID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "split_config",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
