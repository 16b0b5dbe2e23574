// Package webhooks ingests provider callbacks into a durable inbox and
// reconciles them against the ledger exactly once.
package webhooks

import "strings"

// Outcome is what a provider status means for a PROCESSING transaction.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Pending   Outcome = "pending"
	Unknown   Outcome = "unknown"
)

// statusTable is the single mapping from provider vocabulary to outcomes.
// Anything missing is Unknown.
var statusTable = map[string]Outcome{
	"SUCCESS":    Succeeded,
	"SUCCESSFUL": Succeeded,
	"COMPLETED":  Succeeded,
	"ACTIVE":     Succeeded,

	"FAILED":    Failed,
	"RETURNED":  Failed,
	"REFUNDED":  Failed,
	"REVERSED":  Failed,
	"BLOCKED":   Failed,
	"DENIED":    Failed,
	"DECLINED":  Failed,
	"CANCELED":  Failed,
	"CANCELLED": Failed,
	"VOIDED":    Failed,
	"SUSPENDED": Failed,
	"EXPIRED":   Failed,

	"UNCLAIMED":             Pending,
	"PENDING":               Pending,
	"ONHOLD":                Pending,
	"PROCESSING":            Pending,
	"NEW":                   Pending,
	"CREATED":               Pending,
	"SAVED":                 Pending,
	"APPROVED":              Pending,
	"APPROVAL_PENDING":      Pending,
	"PAYER_ACTION_REQUIRED": Pending,
}

// Classify maps a provider status to its outcome. Case and surrounding
// whitespace are ignored.
func Classify(status string) Outcome {
	if o, ok := statusTable[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return o
	}
	return Unknown
}

const batchFamily = "PAYMENT.PAYOUTSBATCH"

// ClassifyTarget is Classify with the event family applied. Payout items
// settle on their own events, so a batch can only fail a withdrawal; batch
// SUCCESS stays Pending.
func ClassifyTarget(t Target) Outcome {
	o := Classify(t.Status)
	if t.Family == batchFamily && o == Succeeded {
		return Pending
	}
	return o
}

// Outcomes recorded on a webhook_events row once processing finishes.
const (
	RecordSettled   = "settled"
	RecordFailed    = "failed"
	RecordPending   = "pending"
	RecordNoop      = "noop"
	RecordUnknown   = "unknown_status"
	RecordIgnored   = "ignored"
	RecordInvalid   = "invalid"
	RecordDuplicate = "duplicate"
)
