package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/settlement/internal/models"
)

const webhookEventColumns = `id, event_id, event_type, resource_type, payload, received_at, processed_at, outcome, attempts, last_error`

// WebhookRepo is the provider-event inbox and the webhook registration store.
type WebhookRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookRepo(pool *pgxpool.Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

func scanWebhookEvent(row pgx.Row) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := row.Scan(&e.ID, &e.EventID, &e.EventType, &e.ResourceType, &e.Payload, &e.ReceivedAt, &e.ProcessedAt,
		&e.Outcome, &e.Attempts, &e.LastError)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertEvent stores the delivery keyed by provider event id. inserted is
// false when the id was already seen; the existing row is left untouched.
func (r *WebhookRepo) InsertEvent(ctx context.Context, e *models.WebhookEvent) (inserted bool, err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (id, event_id, event_type, resource_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING received_at
	`, e.ID, e.EventID, e.EventType, e.ResourceType, e.Payload).Scan(&e.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *WebhookRepo) GetEventByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	e, err := scanWebhookEvent(r.pool.QueryRow(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE event_id = $1`, eventID))
	if err != nil {
		return nil, translate(err, "webhook event")
	}
	return e, nil
}

func (r *WebhookRepo) GetEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	e, err := scanWebhookEvent(r.pool.QueryRow(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "webhook event")
	}
	return e, nil
}

func (r *WebhookRepo) MarkEventProcessed(ctx context.Context, eventID, outcome string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET processed_at = now(), outcome = $2, attempts = attempts + 1, last_error = ''
		WHERE event_id = $1
	`, eventID, outcome)
	return err
}

func (r *WebhookRepo) RecordEventFailure(ctx context.Context, eventID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET attempts = attempts + 1, last_error = $2 WHERE event_id = $1
	`, eventID, message)
	return err
}

func (r *WebhookRepo) ListEvents(ctx context.Context, limit, offset int) ([]*models.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events ORDER BY received_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWebhookEvents(rows)
}

// ListUnprocessed returns events received before the cutoff that never finished processing.
func (r *WebhookRepo) ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE processed_at IS NULL AND received_at < $1
		ORDER BY received_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return collectWebhookEvents(rows)
}

func collectWebhookEvents(rows pgx.Rows) ([]*models.WebhookEvent, error) {
	defer rows.Close()
	var list []*models.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *WebhookRepo) CreateRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO webhook_registrations (id, provider_webhook_id, url, event_types)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_webhook_id) DO UPDATE SET url = EXCLUDED.url, event_types = EXCLUDED.event_types
		RETURNING created_at
	`, reg.ID, reg.ProviderWebhookID, reg.URL, reg.EventTypes).Scan(&reg.CreatedAt)
}

func (r *WebhookRepo) DeleteRegistration(ctx context.Context, providerWebhookID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_registrations WHERE provider_webhook_id = $1`, providerWebhookID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *WebhookRepo) ListRegistrations(ctx context.Context) ([]*models.WebhookRegistration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_webhook_id, url, event_types, created_at FROM webhook_registrations ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WebhookRegistration
	for rows.Next() {
		var reg models.WebhookRegistration
		if err := rows.Scan(&reg.ID, &reg.ProviderWebhookID, &reg.URL, &reg.EventTypes, &reg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &reg)
	}
	return list, rows.Err()
}
