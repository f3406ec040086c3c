// Package transfer moves pending ledger entries to recipient payment
// sub-accounts through the external processor. Every call carries an
// idempotency key derived deterministically from the entry ID, so a retry
// after an ambiguous outcome can never duplicate a real-world transfer.
package transfer

import (
	"strconv"

	"github.com/google/uuid"
)

// Outcome classifies a processor response.
type Outcome string

const (
	OutcomeAccepted  Outcome = "ACCEPTED"
	OutcomeRejected  Outcome = "REJECTED"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
)

// Request describes one transfer submission.
type Request struct {
	IdempotencyKey     string `json:"idempotency_key"`
	DestinationAccount string `json:"destination_account"`
	AmountMinorUnits   int64  `json:"amount_minor_units"`
	Currency           string `json:"currency"`
}

// Result is the interpreted processor response. Reason is set for rejections
// and ambiguous outcomes.
type Result struct {
	Outcome     Outcome
	TransferRef string
	Reason      string
}

// Account is the recipient's sub-account as reported by the onboarding
// collaborator. A unit without a transfer-capable account is skipped, not
// failed: onboarding is typically still in progress.
type Account struct {
	Ref             string `json:"account_ref"`
	TransferCapable bool   `json:"transfer_capable"`
}

// Summary aggregates one sweep invocation.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Namespace for deterministic idempotency keys. Changing it would re-issue
// transfers for in-flight entries, so it is fixed for the life of the system.
var idempotencyNamespace = uuid.MustParse("8f9d2f40-51f6-43a2-9e11-2c5a0c6c1d8e")

// IdempotencyKey derives the processor idempotency key for a ledger entry.
// Same entry, same key, always.
func IdempotencyKey(entryID int64) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte("ledger-entry:"+strconv.FormatInt(entryID, 10))).String()
}
