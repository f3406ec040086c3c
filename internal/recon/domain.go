// Package recon serves read-only reconciliation views over the split ledger:
// per-recipient totals, recipient statements and per-contribution audit
// trails. It never mutates ledger state.
package recon

import (
	"errors"
	"time"

	"github.com/commonfund/commonfund/internal/ledger"
	"github.com/commonfund/commonfund/internal/rules"
)

// RecipientTotals aggregates one recipient's ledger position for a period.
// The buckets partition entries by status, so
// Pending + Transferred + Failed + Reversed always equals Net. The Reversed
// bucket holds annotated originals plus their negative offsets, leaving only
// the unreversed residual.
type RecipientTotals struct {
	RecipientUnitID int64  `json:"recipient_unit_id"`
	Pending         int64  `json:"pending_minor_units"`
	Transferred     int64  `json:"transferred_minor_units"`
	Failed          int64  `json:"failed_minor_units"`
	Reversed        int64  `json:"reversed_minor_units"`
	Net             int64  `json:"net_minor_units"`
	EntryCount      int64  `json:"entry_count"`
	Currency        string `json:"currency"`
}

// Statement is a recipient's entry listing for a period plus its totals.
type Statement struct {
	RecipientUnitID int64           `json:"recipient_unit_id"`
	Period          string          `json:"period"`
	Totals          RecipientTotals `json:"totals"`
	Entries         []ledger.Entry  `json:"entries"`
	TotalEntries    int             `json:"total_entries"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// AuditTrail reconstructs how one contribution was split: the recorded event,
// the exact rule set version applied, and every derived entry including
// reversals.
type AuditTrail struct {
	Contribution ledger.Contribution `json:"contribution"`
	Rules        []rules.SplitRule   `json:"rules"`
	Entries      []ledger.Entry      `json:"entries"`
	EntriesTotal int64               `json:"entries_total_minor_units"`
}

// ErrNotFound indicates a missing contribution or recipient.
var ErrNotFound = errors.New("recon: not found")
