package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/traces"
)

// EventStore is implemented by repository.WebhookRepo.
type EventStore interface {
	InsertEvent(ctx context.Context, e *models.WebhookEvent) (bool, error)
	GetEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, eventID, outcome string) error
	RecordEventFailure(ctx context.Context, eventID, message string) error
	ListEvents(ctx context.Context, limit, offset int) ([]*models.WebhookEvent, error)
	ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]*models.WebhookEvent, error)
}

// Ledger is the slice of ledger.Service the reconciler drives.
type Ledger interface {
	FindProcessing(ctx context.Context, externalID string) (*models.Transaction, bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) (bool, error)
	RefundBalance(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// SchemaValidator checks the raw envelope. services.Validator implements it.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

const envelopeSchema = "webhook_envelope"

type Reconciler struct {
	events EventStore
	ledger Ledger
	schema SchemaValidator
	now    func() time.Time
	log    *slog.Logger
}

func NewReconciler(events EventStore, l Ledger, schema SchemaValidator, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{events: events, ledger: l, schema: schema, now: time.Now, log: log}
}

// Ingest stores the delivery and then reconciles it. The returned error is
// non-nil only when the event could not be persisted. Processing failures are
// recorded on the event row and retried later by Reprocess.
func (r *Reconciler) Ingest(ctx context.Context, body []byte) (*models.WebhookEvent, error) {
	var env Envelope
	parseErr := json.Unmarshal(body, &env)

	invalid := parseErr != nil
	if !invalid && r.schema != nil {
		if err := r.schema.Validate(envelopeSchema, body); err != nil {
			invalid = true
			parseErr = err
		}
	}

	payload := json.RawMessage(body)
	if !json.Valid(body) {
		// jsonb needs a JSON value; keep the raw bytes as a string.
		payload, _ = json.Marshal(string(body))
	}
	e := &models.WebhookEvent{
		EventID:      env.ID,
		EventType:    env.EventType,
		ResourceType: env.ResourceType,
		Payload:      payload,
	}
	if e.EventID == "" {
		sum := sha256.Sum256(body)
		e.EventID = "sha256:" + hex.EncodeToString(sum[:])
	}

	inserted, err := r.events.InsertEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	if !inserted {
		existing, err := r.events.GetEventByEventID(ctx, e.EventID)
		if err != nil {
			return nil, fmt.Errorf("load webhook event: %w", err)
		}
		if existing.Processed() {
			metrics.WebhookEventsTotal.WithLabelValues(RecordDuplicate).Inc()
			r.log.Info("duplicate webhook ignored", "event_id", e.EventID, "outcome", existing.Outcome)
			return existing, nil
		}
		e = existing
	}

	if invalid {
		r.log.Warn("invalid webhook envelope", "event_id", e.EventID, "error", parseErr)
		r.finish(ctx, e, RecordInvalid)
		return e, nil
	}

	if _, err := r.process(ctx, e); err != nil {
		r.log.Error("webhook processing failed", "event_id", e.EventID, "event_type", e.EventType, "error", err)
	}
	return e, nil
}

// Process reconciles a stored event by provider event id. Already processed
// events are left alone.
func (r *Reconciler) Process(ctx context.Context, eventID string) (string, error) {
	e, err := r.events.GetEventByEventID(ctx, eventID)
	if err != nil {
		return "", err
	}
	if e.Processed() {
		return e.Outcome, nil
	}
	return r.process(ctx, e)
}

// Reprocess retries events that were received more than olderThan ago and
// never finished. It returns how many reached a terminal record.
func (r *Reconciler) Reprocess(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := r.events.ListUnprocessed(ctx, r.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, e := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := r.process(ctx, e); err != nil {
			r.log.Warn("webhook reprocessing failed", "event_id", e.EventID, "attempts", e.Attempts+1, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

func (r *Reconciler) process(ctx context.Context, e *models.WebhookEvent) (record string, err error) {
	ctx, span := traces.StartSpan(ctx, "webhooks.process", traces.EventType(e.EventType))
	defer func() { traces.End(span, err) }()

	record, err = r.reconcile(ctx, e)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		if ferr := r.events.RecordEventFailure(ctx, e.EventID, err.Error()); ferr != nil {
			r.log.Error("record webhook failure", "event_id", e.EventID, "error", ferr)
		}
		return "", err
	}
	r.finish(ctx, e, record)
	return record, nil
}

func (r *Reconciler) finish(ctx context.Context, e *models.WebhookEvent, record string) {
	metrics.WebhookEventsTotal.WithLabelValues(record).Inc()
	if err := r.events.MarkEventProcessed(ctx, e.EventID, record); err != nil {
		r.log.Error("mark webhook processed", "event_id", e.EventID, "error", err)
		return
	}
	now := r.now()
	e.ProcessedAt = &now
	e.Outcome = record
}

func (r *Reconciler) reconcile(ctx context.Context, e *models.WebhookEvent) (string, error) {
	var env Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return RecordInvalid, nil
	}
	target, ok := Extract(env.EventType, env.Resource)
	if !ok {
		r.log.Debug("webhook event type not reconciled", "event_id", e.EventID, "event_type", env.EventType)
		return RecordIgnored, nil
	}
	log := r.log.With("event_id", e.EventID, "event_type", env.EventType, "reference", target.Reference, "status", target.Status)
	if target.Reference == "" {
		log.Warn("webhook carries no transaction reference")
		return RecordNoop, nil
	}

	outcome := ClassifyTarget(target)
	switch outcome {
	case Unknown:
		log.Warn("unknown provider status; no action taken")
		return RecordUnknown, nil
	case Pending:
		return RecordPending, nil
	}

	txn, found, err := r.ledger.FindProcessing(ctx, target.Reference)
	if err != nil {
		return "", err
	}
	if !found {
		log.Warn("webhook matched no processing transaction", "error", models.ErrReconciliationNoop)
		return RecordNoop, nil
	}

	if outcome == Succeeded && txn.Type == models.TransactionCredit {
		// Funding is credited by CaptureFunding once the gateway confirms the
		// capture. A success event alone never moves money.
		log.Info("funding success awaits capture", "transaction", txn.ID)
		return RecordPending, nil
	}

	var changed bool
	switch {
	case outcome == Succeeded:
		changed, err = r.ledger.MarkSucceeded(ctx, txn.ID)
	case txn.Type == models.TransactionDebit:
		changed, err = r.ledger.RefundBalance(ctx, txn.ID)
	default:
		changed, err = r.ledger.MarkFailed(ctx, txn.ID)
	}
	if err != nil {
		return "", err
	}
	if !changed {
		log.Info("transaction settled concurrently", "transaction", txn.ID)
		return RecordNoop, nil
	}
	log.Info("transaction reconciled", "transaction", txn.ID, "outcome", outcome)
	if outcome == Succeeded {
		return RecordSettled, nil
	}
	return RecordFailed, nil
}

// Events lists stored deliveries, newest first.
func (r *Reconciler) Events(ctx context.Context, limit, offset int) ([]*models.WebhookEvent, error) {
	return r.events.ListEvents(ctx, limit, offset)
}

func (r *Reconciler) Event(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return r.events.GetEvent(ctx, id)
}
