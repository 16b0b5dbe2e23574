// Package execution holds the River workers behind withdrawals and webhook
// reprocessing.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type PayoutArgs struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

func (PayoutArgs) Kind() string { return "wallet_payout" }

// InsertOpts keeps one live payout job per withdrawal.
func (PayoutArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 12,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// PayoutService sends the payout for a withdrawal. An error means the
// provider was unreachable and the job should be retried.
type PayoutService interface {
	ProcessPayout(ctx context.Context, transactionID uuid.UUID) error
}

type PayoutWorker struct {
	river.WorkerDefaults[PayoutArgs]
	payments PayoutService
}

func NewPayoutWorker(ps PayoutService) *PayoutWorker {
	return &PayoutWorker{payments: ps}
}

func (w *PayoutWorker) Work(ctx context.Context, job *river.Job[PayoutArgs]) error {
	if err := w.payments.ProcessPayout(ctx, job.Args.TransactionID); err != nil {
		return fmt.Errorf("payout %s (attempt %d): %w", job.Args.TransactionID, job.Attempt, err)
	}
	return nil
}

// Timeout bounds one attempt; the gateway applies its own per-call timeout.
func (w *PayoutWorker) Timeout(*river.Job[PayoutArgs]) time.Duration { return 2 * time.Minute }
