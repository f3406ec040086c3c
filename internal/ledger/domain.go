// Package ledger owns the append-mostly split ledger: one immutable entry per
// recipient share of a contribution, plus reversal entries that offset already
// transferred amounts. Entries are never deleted; only status and transfer
// metadata move, and only along legal transitions.
package ledger

import (
	"errors"
	"time"
)

// Status enumerates ledger entry states.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusTransferred Status = "TRANSFERRED"
	StatusReversed    Status = "REVERSED"
	StatusFailed      Status = "FAILED"
)

// SourceType classifies the money movement an entry represents.
type SourceType string

const (
	SourceMembershipDue SourceType = "MEMBERSHIP_DUE"
	SourceDonation      SourceType = "DONATION"
	SourceReversal      SourceType = "REVERSAL"
)

// Entry is one immutable ledger record. Amount is in minor currency units and
// negative only for reversals. RulePercentageBps snapshots the split rule used
// at creation time so historical entries stay auditable after rule edits.
type Entry struct {
	ID                int64      `json:"id"`
	ContributionID    string     `json:"contribution_id"`
	SourceType        SourceType `json:"source_type"`
	RecipientUnitID   int64      `json:"recipient_unit_id"`
	Amount            int64      `json:"amount_minor_units"`
	Currency          string     `json:"currency"`
	RulePercentageBps int32      `json:"rule_percentage_bps"`
	Status            Status     `json:"status"`
	TransferRef       string     `json:"transfer_reference,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ReversesEntryID   *int64     `json:"reverses_entry_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	TransferredAt     *time.Time `json:"transferred_at,omitempty"`
}

// Contribution is the recorded form of an external ContributionCompleted
// event, kept for audit alongside the entries derived from it.
type Contribution struct {
	ID                string     `json:"contribution_id"`
	SourceType        SourceType `json:"source_type"`
	Amount            int64      `json:"amount_minor_units"`
	Currency          string     `json:"currency"`
	OriginatingUnitID int64      `json:"originating_unit_id"`
	ConfigID          int64      `json:"split_config_id"`
	RuleSetVersion    int32      `json:"rule_set_version"`
	OccurredAt        time.Time  `json:"occurred_at"`
	RecordedAt        time.Time  `json:"recorded_at"`
}

// ContributionEvent is the inbound fact delivered at-least-once by the payment
// collaborator. The engine de-duplicates on ContributionID.
type ContributionEvent struct {
	ContributionID    string
	SourceType        SourceType
	Amount            int64
	Currency          string
	OriginatingUnitID int64
	OccurredAt        time.Time
}

var (
	// ErrNotFound indicates a missing entry or contribution.
	ErrNotFound = errors.New("ledger: not found")
	// ErrNotPending guards against double-crediting: the entry already left
	// the state the transition requires.
	ErrNotPending = errors.New("ledger: entry not in a transferable state")
	// ErrIllegalTransition indicates a state change outside the legal machine.
	ErrIllegalTransition = errors.New("ledger: illegal status transition")
	// ErrOverReversal indicates the reversal magnitude would exceed the net
	// transferred amount for the recipient/contribution pair.
	ErrOverReversal = errors.New("ledger: reversal exceeds net transferred amount")
	// ErrDuplicateContribution indicates entries already exist for the
	// contribution. Callers treat it as an idempotent no-op, not a failure.
	ErrDuplicateContribution = errors.New("ledger: contribution already recorded")
)

// CanTransition reports whether the status machine permits from→to.
// pending→transferred, pending→failed, failed→pending (retry),
// failed→transferred (late confirmation) and transferred→reversed
// (annotation via reversal entry) are the only legal moves.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusTransferred || to == StatusFailed
	case StatusFailed:
		return to == StatusPending || to == StatusTransferred
	case StatusTransferred:
		return to == StatusReversed
	default:
		return false
	}
}
