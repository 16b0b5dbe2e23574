package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/database"
	"github.com/inaiurai/settlement/internal/gateway"
	"github.com/inaiurai/settlement/internal/ledger"
	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/wallet"
)

// EnqueuePayout schedules the payout job for a withdrawal inside tx, so the
// job exists iff the debit commits.
type EnqueuePayout func(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) error

// PaymentUsers resolves the payout recipient.
type PaymentUsers interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// FundingOrder is what the caller needs to send the payer to the provider.
type FundingOrder struct {
	OrderID     string              `json:"order_id"`
	ApproveURL  string              `json:"approve_url"`
	Transaction *models.Transaction `json:"transaction"`
}

// PaymentService drives money in and out of wallets through the gateway.
type PaymentService struct {
	DB         database.TxBeginner
	Wallet     wallet.Service
	Ledger     ledger.Service
	Users      PaymentUsers
	Gateway    gateway.Gateway
	Enqueue    EnqueuePayout
	PayoutFee  decimal.Decimal
	// DailyLimit caps withdrawals since 00:00 UTC. Zero disables it.
	DailyLimit decimal.Decimal
	Now        func() time.Time
	Log        *slog.Logger
}

// NewPaymentService returns a PaymentService. enqueue may be set later, once
// the job client exists.
func NewPaymentService(db database.TxBeginner, w wallet.Service, l ledger.Service, users PaymentUsers, gw gateway.Gateway, fee decimal.Decimal, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{DB: db, Wallet: w, Ledger: l, Users: users, Gateway: gw, PayoutFee: fee, Now: time.Now, Log: log}
}

// CreateFunding opens a provider order and records a PROCESSING credit for it.
// Nothing is recorded when the provider call fails.
func (s *PaymentService) CreateFunding(ctx context.Context, p models.Principal, amount decimal.Decimal) (*FundingOrder, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	w, found, err := s.Wallet.GetWallet(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("wallet: %w", models.ErrNotFound)
	}

	order, err := s.Gateway.CreateFundingOrder(ctx, amount)
	if err != nil {
		return nil, unavailable("create order", err)
	}

	var txn *models.Transaction
	err = database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		txn, err = s.Ledger.Record(ctx, tx, ledger.Entry{
			UserID:     p.UserID,
			ExternalID: order.ID,
			Type:       models.TransactionCredit,
			Category:   models.CategoryAmountFunding,
			Stage:      models.StageProcessing,
			Amount:     amount,
			Previous:   w.Balance,
			Current:    w.Balance,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("funding order created", "user", p.UserID, "order", order.ID, "amount", amount)
	return &FundingOrder{OrderID: order.ID, ApproveURL: order.ApproveURL, Transaction: txn}, nil
}

// CaptureFunding captures an approved order and credits the wallet once.
func (s *PaymentService) CaptureFunding(ctx context.Context, p models.Principal, orderID string) (*models.Transaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", models.ErrValidation)
	}
	txn, found, err := s.Ledger.FindProcessing(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !found || txn.UserID != p.UserID || txn.Category != models.CategoryAmountFunding {
		return nil, fmt.Errorf("funding order %s: %w", orderID, models.ErrNotFound)
	}

	approved, err := s.Gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, unavailable("capture order", err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: order %s has not been approved by the payer", models.ErrValidation, orderID)
	}

	settled, err := s.Ledger.SettleCredit(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if !settled {
		s.Log.Info("funding already settled", "order", orderID, "transaction", txn.ID)
	}
	out, _, err := s.Ledger.Get(ctx, txn.ID)
	return out, err
}

// Withdraw debits the wallet and schedules the payout. The transaction stays
// PROCESSING until the provider reports back.
func (s *PaymentService) Withdraw(ctx context.Context, p models.Principal, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	ok, err := s.Wallet.CanWithdraw(ctx, p.UserID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: balance must exceed %s", models.ErrInsufficientFunds, amount.StringFixed(2))
	}

	var txn *models.Transaction
	err = database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		mv, ok, err := s.Wallet.WithdrawBalance(ctx, tx, p.UserID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: balance must exceed %s", models.ErrInsufficientFunds, amount.StringFixed(2))
		}
		if err := s.checkDailyLimit(ctx, p.UserID, amount); err != nil {
			return err
		}
		txn, err = s.Ledger.Record(ctx, tx, ledger.Entry{
			UserID:     p.UserID,
			ExternalID: NewReference(),
			Type:       models.TransactionDebit,
			Category:   models.CategoryWithdrawal,
			Stage:      models.StageProcessing,
			Amount:     amount,
			Previous:   mv.Previous,
			Current:    mv.Current,
		})
		if err != nil {
			return err
		}
		if s.Enqueue == nil {
			return errors.New("payout queue is not configured")
		}
		return s.Enqueue(ctx, tx, txn.ID)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("withdrawal accepted", "user", p.UserID, "transaction", txn.ID, "reference", txn.ExternalID, "amount", amount)
	return txn, nil
}

// checkDailyLimit runs after the wallet row is locked, so concurrent
// withdrawals for one user see each other's debits.
func (s *PaymentService) checkDailyLimit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !s.DailyLimit.IsPositive() {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	y, m, d := now().UTC().Date()
	withdrawn, err := s.Ledger.WithdrawnSince(ctx, userID, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return fmt.Errorf("check daily withdrawals: %w", err)
	}
	if withdrawn.Add(amount).GreaterThan(s.DailyLimit) {
		return fmt.Errorf("%w: withdrawn today %s + %s exceeds daily limit %s",
			models.ErrForbidden, withdrawn.StringFixed(2), amount.StringFixed(2), s.DailyLimit.StringFixed(2))
	}
	return nil
}

// NewReference returns a payout batch id: a random uuid in hex without dashes.
func NewReference() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ProcessPayout sends the payout for a PROCESSING withdrawal. A returned error
// means the provider could not be reached and the job should retry.
func (s *PaymentService) ProcessPayout(ctx context.Context, transactionID uuid.UUID) (err error) {
	result := "sent"
	defer func() {
		if err != nil {
			result = "error"
		}
		metrics.PayoutsTotal.WithLabelValues(result).Inc()
	}()

	txn, found, err := s.Ledger.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if !found || txn.Stage != models.StageProcessing {
		result = "skipped"
		return nil
	}
	if txn.Type != models.TransactionDebit || txn.Category != models.CategoryWithdrawal {
		result = "skipped"
		s.Log.Warn("payout job for non-withdrawal transaction", "transaction", txn.ID)
		return nil
	}
	user, err := s.Users.GetByID(ctx, txn.UserID)
	if err != nil {
		return err
	}

	log := s.Log.With("transaction", txn.ID, "reference", txn.ExternalID)
	net := gateway.NetPayout(txn.Amount, s.PayoutFee)
	payout, err := s.Gateway.CreatePayout(ctx, user.Email, net, txn.ExternalID)
	switch {
	case err == nil && !payout.Rejected():
		if err := s.Ledger.AttachProviderReference(ctx, txn.ID, payout.BatchID); err != nil {
			return err
		}
		log.Info("payout submitted", "batch", payout.BatchID, "status", payout.BatchStatus, "net", net)
		return nil
	case gateway.IsBatchIDReused(err):
		result = "duplicate"
		log.Info("payout already submitted")
		return nil
	case err == nil || gateway.IsRejection(err):
		result = "rejected"
		refunded, rerr := s.Ledger.RefundBalance(ctx, txn.ID)
		if rerr != nil {
			return rerr
		}
		log.Warn("payout rejected", "refunded", refunded, "error", err)
		return nil
	default:
		log.Warn("payout failed; will retry", "error", err)
		return err
	}
}

// SubscriptionStatus reports the provider subscription and whether it is active.
func (s *PaymentService) SubscriptionStatus(ctx context.Context, id string) (*gateway.Subscription, error) {
	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *PaymentService) CancelSubscription(ctx context.Context, id, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "Cancelled by staff"
	}
	if err := s.Gateway.CancelSubscription(ctx, id, reason); err != nil {
		return err
	}
	s.Log.Info("subscription cancelled", "subscription", id)
	return nil
}

// unavailable keeps errors that already carry a taxonomy code and folds
// everything else into EXTERNAL_UNAVAILABLE.
func unavailable(op string, err error) error {
	if models.Code(err) != "INTERNAL" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrExternalUnavailable, op, err)
}
