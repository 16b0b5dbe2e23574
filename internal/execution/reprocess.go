package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

type ReprocessWebhooksArgs struct{}

func (ReprocessWebhooksArgs) Kind() string { return "webhook_reprocess" }

// Reprocessor retries inbox events that never finished processing.
type Reprocessor interface {
	Reprocess(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

const reprocessBatch = 100

type ReprocessWorker struct {
	river.WorkerDefaults[ReprocessWebhooksArgs]
	reconciler Reprocessor
	olderThan  time.Duration
	log        *slog.Logger
}

func NewReprocessWorker(r Reprocessor, olderThan time.Duration, log *slog.Logger) *ReprocessWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReprocessWorker{reconciler: r, olderThan: olderThan, log: log}
}

func (w *ReprocessWorker) Work(ctx context.Context, job *river.Job[ReprocessWebhooksArgs]) error {
	n, err := w.reconciler.Reprocess(ctx, w.olderThan, reprocessBatch)
	if n > 0 {
		w.log.Info("webhook events reprocessed", "count", n)
	}
	return err
}

// ReprocessJob schedules the reprocess worker every interval.
func ReprocessJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReprocessWebhooksArgs{}, &river.InsertOpts{MaxAttempts: 1}
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
