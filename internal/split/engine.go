// Package split computes the division of a contribution amount across
// recipient units according to a percentage rule set. The computation is pure
// and deterministic so historical splits can be recomputed for audits.
package split

import (
	"errors"
	"sort"
)

// Percentages are carried as basis points: 100% == 10000 bps. Rule-set writes
// accept a 1 bps tolerance, mirroring the 0.01 percentage-point tolerance of
// the admin surface.
const (
	FullShareBps = 10000
	ToleranceBps = 1
)

// ErrInvalidRuleSet indicates the rule set is empty, carries a non-positive
// percentage, or does not sum to 100% within tolerance. Callers must reject
// the enclosing write; shares are never silently prorated.
var ErrInvalidRuleSet = errors.New("split: invalid rule set")

// Rule is one percentage share of the contribution.
type Rule struct {
	RecipientUnitID int64
	PercentageBps   int32
	SortOrder       int32
}

// Share is the computed amount owed to one recipient.
type Share struct {
	RecipientUnitID int64
	Amount          int64
	PercentageBps   int32
}

// Compute divides amount (minor currency units) across the rules. Each share
// is floor(amount * bps / 10000); the truncation remainder is assigned one
// minor unit at a time following sort order, so the output always sums to
// amount exactly.
func Compute(amount int64, ruleSet []Rule) ([]Share, error) {
	if amount <= 0 {
		return nil, errors.New("split: amount must be positive")
	}
	if err := ValidateRules(ruleSet); err != nil {
		return nil, err
	}

	ordered := make([]Rule, len(ruleSet))
	copy(ordered, ruleSet)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	shares := make([]Share, len(ordered))
	var assigned int64
	for i, rule := range ordered {
		shares[i] = Share{
			RecipientUnitID: rule.RecipientUnitID,
			Amount:          amount * int64(rule.PercentageBps) / FullShareBps,
			PercentageBps:   rule.PercentageBps,
		}
		assigned += shares[i].Amount
	}

	remainder := amount - assigned
	for i := 0; remainder > 0; i = (i + 1) % len(shares) {
		shares[i].Amount++
		remainder--
	}
	// A rule set at the upper tolerance bound can overshoot on large amounts;
	// walk backwards from the last rule until conservation is restored.
	for i := len(shares) - 1; remainder < 0; {
		if shares[i].Amount > 1 {
			shares[i].Amount--
			remainder++
		}
		i--
		if i < 0 {
			i = len(shares) - 1
		}
	}

	return shares, nil
}

// ValidateRules checks that the rule set is non-empty, every percentage is
// positive, and the percentages sum to 100% within tolerance.
func ValidateRules(ruleSet []Rule) error {
	if len(ruleSet) == 0 {
		return ErrInvalidRuleSet
	}
	var sum int64
	for _, rule := range ruleSet {
		if rule.PercentageBps <= 0 || rule.PercentageBps > FullShareBps {
			return ErrInvalidRuleSet
		}
		sum += int64(rule.PercentageBps)
	}
	if sum < FullShareBps-ToleranceBps || sum > FullShareBps+ToleranceBps {
		return ErrInvalidRuleSet
	}
	return nil
}
