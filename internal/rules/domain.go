// Package rules manages split configurations and their versioned rule sets.
// Rule edits never mutate history: every change appends a new rule-set version
// so past ledger entries stay attributable to the percentages in force when
// they were created.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/commonfund/commonfund/internal/split"
)

// DisbursementModel states who moves the money for an owner unit.
type DisbursementModel string

const (
	DisbursementCentrallyManaged DisbursementModel = "CENTRALLY_MANAGED"
	DisbursementUnitSelfManaged  DisbursementModel = "UNIT_SELF_MANAGED"
)

// SplitConfig is owned by a top-level organisational unit. At most one config
// per owner is active at a time; superseded configs are deactivated, never
// deleted.
type SplitConfig struct {
	ID                int64
	OwnerUnitID       int64
	DisbursementModel DisbursementModel
	IsActive          bool
	CreatedAt         time.Time
	DeactivatedAt     *time.Time
}

// SplitRule is one percentage share inside a rule-set version.
type SplitRule struct {
	ID              int64
	ConfigID        int64
	RuleSetVersion  int32
	RecipientUnitID int64
	PercentageBps   int32
	SortOrder       int32
	IsActive        bool
	EffectiveFrom   time.Time
	CreatedAt       time.Time
}

// RuleInput describes one rule of a rule-set replacement.
type RuleInput struct {
	RecipientUnitID int64
	PercentageBps   int32
	SortOrder       int32
}

// RuleSetVersion summarises one historical rule-set snapshot.
type RuleSetVersion struct {
	Version       int32
	EffectiveFrom time.Time
	RuleCount     int
}

var (
	// ErrNotFound indicates a missing config or rule set.
	ErrNotFound = errors.New("rules: not found")
	// ErrNoActiveConfig indicates the owner unit has no active split config.
	ErrNoActiveConfig = errors.New("rules: no active split config for owner unit")
)

// ValidateRuleSet enforces the write-time invariants: percentages sum to 100%
// within tolerance and recipients appear at most once.
func ValidateRuleSet(inputs []RuleInput) error {
	seen := make(map[int64]struct{}, len(inputs))
	engineRules := make([]split.Rule, 0, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in.RecipientUnitID]; dup {
			return fmt.Errorf("%w: duplicate recipient unit %d", split.ErrInvalidRuleSet, in.RecipientUnitID)
		}
		seen[in.RecipientUnitID] = struct{}{}
		engineRules = append(engineRules, split.Rule{
			RecipientUnitID: in.RecipientUnitID,
			PercentageBps:   in.PercentageBps,
			SortOrder:       in.SortOrder,
		})
	}
	return split.ValidateRules(engineRules)
}

// EngineRules converts stored rules into the calculator's input shape.
func EngineRules(stored []SplitRule) []split.Rule {
	out := make([]split.Rule, len(stored))
	for i, r := range stored {
		out[i] = split.Rule{
			RecipientUnitID: r.RecipientUnitID,
			PercentageBps:   r.PercentageBps,
			SortOrder:       r.SortOrder,
		}
	}
	return out
}
