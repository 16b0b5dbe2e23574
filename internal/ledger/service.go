// Package ledger records balance-affecting events and owns every transition of
// a transaction out of PROCESSING.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/database"
	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/wallet"
)

// Store is implemented by repository.TransactionRepo.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStage) (*models.Transaction, bool, error)
	SetBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, previous, current decimal.Decimal) error
	SetProviderReference(ctx context.Context, id uuid.UUID, ref string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByExternalID(ctx context.Context, externalID string, stage models.TransactionStage) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
	List(ctx context.Context, limit, offset int) ([]*models.Transaction, error)
	WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

// Entry describes a transaction to record. The caller has already moved the
// wallet; Previous and Current are the snapshots it observed.
type Entry struct {
	UserID     uuid.UUID
	ExternalID string
	Type       models.TransactionType
	Category   models.TransactionCategory
	Stage      models.TransactionStage
	Amount     decimal.Decimal
	Previous   decimal.Decimal
	Current    decimal.Decimal
	ContractID *uuid.UUID
}

type Service interface {
	Record(ctx context.Context, tx pgx.Tx, e Entry) (*models.Transaction, error)
	RefundBalance(ctx context.Context, id uuid.UUID) (bool, error)
	SettleCredit(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
	FindProcessing(ctx context.Context, externalID string) (*models.Transaction, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
	ListAll(ctx context.Context, limit, offset int) ([]*models.Transaction, error)
	AttachProviderReference(ctx context.Context, id uuid.UUID, ref string) error
	WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

type service struct {
	db     database.TxBeginner
	store  Store
	wallet wallet.Service
	log    *slog.Logger
}

func NewService(db database.TxBeginner, store Store, w wallet.Service, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, store: store, wallet: w, log: log}
}

var _ Service = (*service)(nil)

// Record persists e. It moves no money.
func (s *service) Record(ctx context.Context, tx pgx.Tx, e Entry) (*models.Transaction, error) {
	if !e.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: transaction amount must be positive", models.ErrValidation)
	}
	t := &models.Transaction{
		UserID:          e.UserID,
		ExternalID:      e.ExternalID,
		Type:            e.Type,
		Stage:           e.Stage,
		Category:        e.Category,
		Amount:          e.Amount,
		PreviousBalance: e.Previous,
		CurrentBalance:  e.Current,
		ContractID:      e.ContractID,
	}
	if !t.SnapshotConsistent() {
		return nil, fmt.Errorf("ledger: snapshot %s -> %s does not match %s %s", e.Previous, e.Current, e.Type, e.Amount)
	}
	if err := s.store.Create(ctx, tx, t); err != nil {
		return nil, err
	}
	metrics.LedgerRecordsTotal.WithLabelValues(string(t.Type), string(t.Category), string(t.Stage)).Inc()
	return t, nil
}

// RefundBalance returns a PROCESSING debit to the wallet and marks it FAILED.
// The stage flip and the credit commit together, so a second call finds no
// PROCESSING row and returns false without crediting.
func (s *service) RefundBalance(ctx context.Context, id uuid.UUID) (bool, error) {
	refunded := false
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, ok, err := s.store.Transition(ctx, tx, id, models.StageProcessing, models.StageFailed)
		if err != nil || !ok {
			return err
		}
		if t.Type != models.TransactionDebit {
			return fmt.Errorf("%w: only debits can be refunded", models.ErrValidation)
		}
		mv, err := s.wallet.FundBalance(ctx, tx, t.UserID, t.Amount)
		if err != nil {
			return err
		}
		if err := s.store.SetBalances(ctx, tx, t.ID, t.PreviousBalance, mv.Current); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	s.observe("refund", refunded, err)
	if err != nil {
		return false, err
	}
	if refunded {
		s.log.Info("transaction refunded", "transaction", id)
	}
	return refunded, nil
}

// SettleCredit credits a PROCESSING credit and marks it SUCCESSFUL in one step.
func (s *service) SettleCredit(ctx context.Context, id uuid.UUID) (bool, error) {
	settled := false
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		t, ok, err := s.store.Transition(ctx, tx, id, models.StageProcessing, models.StageSuccessful)
		if err != nil || !ok {
			return err
		}
		if t.Type != models.TransactionCredit {
			return fmt.Errorf("%w: only credits can be settled", models.ErrValidation)
		}
		mv, err := s.wallet.FundBalance(ctx, tx, t.UserID, t.Amount)
		if err != nil {
			return err
		}
		if err := s.store.SetBalances(ctx, tx, t.ID, mv.Previous, mv.Current); err != nil {
			return err
		}
		settled = true
		return nil
	})
	s.observe("settle_credit", settled, err)
	if err != nil {
		return false, err
	}
	return settled, nil
}

// MarkSucceeded confirms a PROCESSING row without touching the balance.
func (s *service) MarkSucceeded(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, "mark_succeeded", id, models.StageSuccessful)
}

// MarkFailed fails a PROCESSING row without touching the balance.
func (s *service) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, "mark_failed", id, models.StageFailed)
}

func (s *service) transition(ctx context.Context, op string, id uuid.UUID, to models.TransactionStage) (bool, error) {
	changed := false
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, ok, err := s.store.Transition(ctx, tx, id, models.StageProcessing, to)
		changed = ok
		return err
	})
	s.observe(op, changed, err)
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *service) observe(op string, changed bool, err error) {
	result := "applied"
	switch {
	case err != nil:
		result = "error"
	case !changed:
		result = "noop"
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(op, result).Inc()
}

func (s *service) FindProcessing(ctx context.Context, externalID string) (*models.Transaction, bool, error) {
	return found(s.store.FindByExternalID(ctx, externalID, models.StageProcessing))
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, bool, error) {
	return found(s.store.GetByID(ctx, id))
}

func found(t *models.Transaction, err error) (*models.Transaction, bool, error) {
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *service) ListAll(ctx context.Context, limit, offset int) ([]*models.Transaction, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *service) AttachProviderReference(ctx context.Context, id uuid.UUID, ref string) error {
	return s.store.SetProviderReference(ctx, id, ref)
}

func (s *service) WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return s.store.WithdrawnSince(ctx, userID, since)
}
