// Package wallet owns the per-user balance. Every mutation is a single guarded
// statement so concurrent debits serialize on the wallet row.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

// Store is the persistence the wallet needs. repository.WalletRepo implements it.
type Store interface {
	Ensure(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// PendingSource sums debits still awaiting provider confirmation.
type PendingSource interface {
	PendingDebits(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// Movement is the balance before and after a credit or debit.
type Movement struct {
	Previous decimal.Decimal
	Current  decimal.Decimal
}

type Service interface {
	EnsureWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, bool, error)
	CanWithdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error)
	FundBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (Movement, error)
	WithdrawBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (Movement, bool, error)
}

type service struct {
	store   Store
	pending PendingSource
}

func NewService(store Store, pending PendingSource) Service {
	return &service{store: store, pending: pending}
}

var _ Service = (*service)(nil)

// EnsureWallet provisions a zero-balance wallet. Safe to call repeatedly.
func (s *service) EnsureWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	return s.store.Ensure(ctx, tx, userID)
}

// GetWallet returns the wallet with its derived ledger balance. found is false
// when the user has no wallet; err is reserved for storage failures.
func (s *service) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, bool, error) {
	w, err := s.store.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if s.pending != nil {
		pending, err := s.pending.PendingDebits(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		w.LedgerBalance = pending
	}
	return w, true, nil
}

// CanWithdraw is an advisory pre-check. The debit itself re-checks atomically.
func (s *service) CanWithdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	w, err := s.store.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return w.CanWithdraw(amount), nil
}

func (s *service) FundBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (Movement, error) {
	if !amount.IsPositive() {
		return Movement{}, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	current, err := s.store.Credit(ctx, tx, userID, amount)
	if err != nil {
		return Movement{}, err
	}
	return Movement{Previous: current.Sub(amount), Current: current}, nil
}

// WithdrawBalance debits amount when the balance stays strictly above it.
// ok is false, with a nil error, when the guard rejects the debit.
func (s *service) WithdrawBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (Movement, bool, error) {
	if !amount.IsPositive() {
		return Movement{}, false, nil
	}
	current, ok, err := s.store.Debit(ctx, tx, userID, amount)
	if err != nil || !ok {
		return Movement{}, false, err
	}
	return Movement{Previous: current.Add(amount), Current: current}, true, nil
}
