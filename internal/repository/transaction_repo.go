package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/models"
)

const transactionColumns = `id, user_id, transaction_id, transaction_type, transaction_stage, transaction_category,
	amount, previous_balance, current_balance, provider_reference, contract_id, created_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.ExternalID, &t.Type, &t.Stage, &t.Category,
		&t.Amount, &t.PreviousBalance, &t.CurrentBalance, &t.ProviderReference, &t.ContractID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Create inserts a ledger row inside the given transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, transaction_id, transaction_type, transaction_stage, transaction_category,
			amount, previous_balance, current_balance, provider_reference, contract_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.ExternalID, t.Type, t.Stage, t.Category,
		t.Amount, t.PreviousBalance, t.CurrentBalance, t.ProviderReference, t.ContractID).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// Transition moves a row from one stage to another. ok is false when the row
// was not in the expected stage, which is what makes replays harmless.
func (r *TransactionRepo) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStage) (*models.Transaction, bool, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE transactions SET transaction_stage = $3, updated_at = now()
		WHERE id = $1 AND transaction_stage = $2
		RETURNING `+transactionColumns,
		id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (r *TransactionRepo) SetBalances(ctx context.Context, tx pgx.Tx, id uuid.UUID, previous, current decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions SET previous_balance = $2, current_balance = $3, updated_at = now() WHERE id = $1
	`, id, previous, current)
	return err
}

func (r *TransactionRepo) SetProviderReference(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions SET provider_reference = $2, updated_at = now() WHERE id = $1
	`, id, ref)
	return err
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "transaction")
	}
	return t, nil
}

// FindByExternalID returns the oldest row with the given provider key and stage.
func (r *TransactionRepo) FindByExternalID(ctx context.Context, externalID string, stage models.TransactionStage) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE transaction_id = $1 AND transaction_stage = $2
		ORDER BY created_at ASC LIMIT 1
	`, externalID, stage))
	if err != nil {
		return nil, translate(err, "transaction")
	}
	return t, nil
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *TransactionRepo) List(ctx context.Context, limit, offset int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// PendingDebits sums the user's debits still awaiting provider confirmation.
func (r *TransactionRepo) PendingDebits(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE user_id = $1 AND transaction_type = 'DEBIT' AND transaction_stage = 'PROCESSING'
	`, userID).Scan(&total)
	return total, err
}

// WithdrawnSince sums non-failed withdrawals created at or after since.
func (r *TransactionRepo) WithdrawnSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE user_id = $1 AND transaction_category = 'WITHDRAWAL' AND transaction_stage <> 'FAILED'
		  AND created_at >= $2
	`, userID, since).Scan(&total)
	return total, err
}
