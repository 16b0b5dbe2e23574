package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWallet_CanWithdraw(t *testing.T) {
	w := &Wallet{Balance: dec("200.00")}

	cases := []struct {
		name   string
		amount string
		want   bool
	}{
		{"below balance", "199.99", true},
		// The boundary is strict: the full balance can never be withdrawn.
		{"exactly balance", "200.00", false},
		{"above balance", "200.01", false},
		{"zero", "0", false},
		{"negative", "-5", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.CanWithdraw(dec(tc.amount)); got != tc.want {
				t.Errorf("CanWithdraw(%s) with balance 200.00: got %v, want %v", tc.amount, got, tc.want)
			}
		})
	}
}

func TestTransaction_SnapshotConsistent(t *testing.T) {
	debit := &Transaction{Type: TransactionDebit, Stage: StageSuccessful, Amount: dec("300"), PreviousBalance: dec("500"), CurrentBalance: dec("200")}
	if !debit.SnapshotConsistent() {
		t.Error("500 -> 200 debit of 300 should be consistent")
	}
	credit := &Transaction{Type: TransactionCredit, Stage: StageSuccessful, Amount: dec("300"), PreviousBalance: dec("0"), CurrentBalance: dec("300")}
	if !credit.SnapshotConsistent() {
		t.Error("0 -> 300 credit of 300 should be consistent")
	}
	wrong := &Transaction{Type: TransactionCredit, Stage: StageSuccessful, Amount: dec("300"), PreviousBalance: dec("0"), CurrentBalance: dec("200")}
	if wrong.SnapshotConsistent() {
		t.Error("0 -> 200 credit of 300 should be inconsistent")
	}
	pending := &Transaction{Type: TransactionCredit, Stage: StageProcessing, Amount: dec("50"), PreviousBalance: dec("10"), CurrentBalance: dec("10")}
	if !pending.SnapshotConsistent() {
		t.Error("pending funding with equal snapshots should be consistent")
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrContractExists, "CONFLICT"},
		{ErrContractCompleted, "CONFLICT"},
		{ErrInvalidDateRange, "VALIDATION"},
		{fmt.Errorf("wallet: %w", ErrInsufficientFunds), "INSUFFICIENT_FUNDS"},
		{fmt.Errorf("paypal: %w", ErrExternalUnavailable), "EXTERNAL_UNAVAILABLE"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Errorf("Code(%v): got %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestStageTypesAreDistinct(t *testing.T) {
	// Same literal, different types.
	if string(JobProcessing) != string(ProposalProcessing) {
		t.Fatal("fixture assumption broken")
	}
	if !ProposalInterviewing.Valid() || ProposalStage("ACTIVE").Valid() {
		t.Error("ProposalStage.Valid mismatch")
	}
}
