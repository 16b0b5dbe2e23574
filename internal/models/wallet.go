package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	// LedgerBalance is derived from the user's PROCESSING debits and never persisted.
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanWithdraw reports whether amount may leave the wallet. The comparison is
// strict: a wallet holding exactly amount cannot withdraw it.
func (w *Wallet) CanWithdraw(amount decimal.Decimal) bool {
	return amount.IsPositive() && w.Balance.GreaterThan(amount)
}
