package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/logging"
	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/models"
)

const maxWebhookBody = 1 << 20

// RegistrationStore is implemented by repository.WebhookRepo.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, reg *models.WebhookRegistration) error
	DeleteRegistration(ctx context.Context, providerWebhookID string) (bool, error)
	ListRegistrations(ctx context.Context) ([]*models.WebhookRegistration, error)
}

// Provider manages webhook subscriptions at the payment provider.
type Provider interface {
	CreateWebhook(ctx context.Context, url string, eventTypes []string) (string, error)
	DeleteWebhook(ctx context.Context, id string) error
}

type Handler struct {
	reconciler *Reconciler
	verifier   Verifier
	regs       RegistrationStore
	provider   Provider
	log        *slog.Logger
}

func NewHandler(rec *Reconciler, v Verifier, regs RegistrationStore, p Provider, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reconciler: rec, verifier: v, regs: regs, provider: p, log: log}
}

// Register mounts the public ingest route and the staff routes.
func (h *Handler) Register(mux *http.ServeMux, ingest, staff func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/webhooks/paypal", ingest(http.HandlerFunc(h.Receive)))
	mux.Handle("GET /v1/webhooks/events", staff(http.HandlerFunc(h.ListEvents)))
	mux.Handle("GET /v1/webhooks/events/{id}", staff(http.HandlerFunc(h.GetEvent)))
	mux.Handle("GET /v1/webhooks", staff(http.HandlerFunc(h.ListRegistrations)))
	mux.Handle("POST /v1/webhooks", staff(http.HandlerFunc(h.CreateRegistration)))
	mux.Handle("DELETE /v1/webhooks/{id}", staff(http.HandlerFunc(h.DeleteRegistration)))
}

// Receive answers 200 for every delivery it managed to persist, whatever the
// reconciliation result, so the provider stops retrying.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	log := logging.L(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("%w: failed to read body", models.ErrValidation))
		return
	}

	if err := h.verifier.Verify(r.Context(), r.Header, body); err != nil {
		if errors.Is(err, ErrBadSignature) {
			metrics.WebhookSignatureRejections.Inc()
			log.Warn("webhook signature rejected", "remote", r.RemoteAddr)
			httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature", "code": "UNAUTHORIZED"})
			return
		}
		log.Error("webhook signature check failed", "error", err)
		httpx.WriteError(w, h.log, fmt.Errorf("%w: %v", models.ErrExternalUnavailable, err))
		return
	}

	e, err := h.reconciler.Ingest(r.Context(), body)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "received", "event_id": e.EventID})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Page(r, 50, 200)
	list, err := h.reconciler.Events(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.WebhookEvent{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("%w: id is not a valid id", models.ErrValidation))
		return
	}
	e, err := h.reconciler.Event(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, e)
}

type CreateRegistrationRequest struct {
	URL        string   `json:"url" validate:"required,url"`
	EventTypes []string `json:"event_types" validate:"dive,required"`
}

func (h *Handler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req CreateRegistrationRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if len(req.EventTypes) == 0 {
		req.EventTypes = []string{"*"}
	}
	providerID, err := h.provider.CreateWebhook(r.Context(), req.URL, req.EventTypes)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	reg := &models.WebhookRegistration{ProviderWebhookID: providerID, URL: req.URL, EventTypes: req.EventTypes}
	if err := h.regs.CreateRegistration(r.Context(), reg); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.log.Info("webhook registered", "provider_webhook_id", providerID, "url", req.URL)
	httpx.WriteJSON(w, http.StatusCreated, reg)
}

func (h *Handler) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("id")
	if err := h.provider.DeleteWebhook(r.Context(), providerID); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if _, err := h.regs.DeleteRegistration(r.Context(), providerID); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.regs.ListRegistrations(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.WebhookRegistration{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
