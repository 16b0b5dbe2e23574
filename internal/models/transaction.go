package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

type TransactionStage string

const (
	StageProcessing TransactionStage = "PROCESSING"
	StageSuccessful TransactionStage = "SUCCESSFUL"
	StageFailed     TransactionStage = "FAILED"
)

type TransactionCategory string

const (
	CategorySubscription  TransactionCategory = "SUBSCRIPTION"
	CategoryAmountFunding TransactionCategory = "AMOUNT_FUNDING"
	CategoryWithdrawal    TransactionCategory = "WITHDRAWAL"
	// CategoryContract labels contract funding debits and completion credits.
	CategoryContract TransactionCategory = "CONTRACT"
)

type Transaction struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	// ExternalID is the reconciliation key: a provider order id or a locally
	// generated payout batch id. Stored verbatim.
	ExternalID        string              `json:"transaction_id"`
	Type              TransactionType     `json:"transaction_type"`
	Stage             TransactionStage    `json:"transaction_stage"`
	Category          TransactionCategory `json:"transaction_category"`
	Amount            decimal.Decimal     `json:"amount"`
	PreviousBalance   decimal.Decimal     `json:"previous_balance"`
	CurrentBalance    decimal.Decimal     `json:"current_balance"`
	ProviderReference *string             `json:"provider_reference,omitempty"`
	ContractID        *uuid.UUID          `json:"contract_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Delta is the signed balance change the transaction represents.
func (t *Transaction) Delta() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// SnapshotConsistent reports whether current - previous equals the signed amount.
// Pending or failed rows carry equal snapshots and are consistent by definition.
func (t *Transaction) SnapshotConsistent() bool {
	diff := t.CurrentBalance.Sub(t.PreviousBalance)
	if diff.IsZero() && t.Stage != StageSuccessful {
		return true
	}
	return diff.Equal(t.Delta())
}
