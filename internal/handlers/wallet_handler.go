package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/gateway"
	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/services"
)

// Payments is the slice of services.PaymentService the handler drives.
type Payments interface {
	CreateFunding(ctx context.Context, p models.Principal, amount decimal.Decimal) (*services.FundingOrder, error)
	CaptureFunding(ctx context.Context, p models.Principal, orderID string) (*models.Transaction, error)
	Withdraw(ctx context.Context, p models.Principal, amount decimal.Decimal) (*models.Transaction, error)
	SubscriptionStatus(ctx context.Context, id string) (*gateway.Subscription, error)
	CancelSubscription(ctx context.Context, id, reason string) error
}

// WalletReader resolves the caller's wallet.
type WalletReader interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, bool, error)
}

// SchemaValidator checks a raw body against a named JSON Schema.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

// WalletHandler serves /v1/wallet and /v1/subscriptions.
type WalletHandler struct {
	Wallets   WalletReader
	Payments  Payments
	Validator SchemaValidator
	Logger    *slog.Logger
}

// Register mounts the wallet routes. limits guards the withdrawal route.
func (h *WalletHandler) Register(mux *http.ServeMux, auth, staff, limits func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/wallet", auth(http.HandlerFunc(h.GetWallet)))
	mux.Handle("POST /v1/wallet/funding", auth(http.HandlerFunc(h.CreateFunding)))
	mux.Handle("POST /v1/wallet/funding/capture", auth(http.HandlerFunc(h.CaptureFunding)))
	mux.Handle("POST /v1/wallet/withdraw", auth(limits(http.HandlerFunc(h.Withdraw))))
	mux.Handle("GET /v1/subscriptions/{id}/status", staff(http.HandlerFunc(h.SubscriptionStatus)))
	mux.Handle("POST /v1/subscriptions/{id}/cancel", staff(http.HandlerFunc(h.CancelSubscription)))
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type captureRequest struct {
	OrderID string `json:"order_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type subscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	PlanID string `json:"plan_id,omitempty"`
	Active bool   `json:"active"`
}

// decodeSchema validates the raw body against schema, then decodes it into dst.
func (h *WalletHandler) decodeSchema(r *http.Request, schema string, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read body", models.ErrValidation)
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", models.ErrValidation, err)
	}
	return nil
}

// --- GET /v1/wallet ---

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	wallet, found, err := h.Wallets.GetWallet(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	if !found {
		httpx.WriteError(w, h.Logger, fmt.Errorf("wallet: %w", models.ErrNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wallet)
}

// --- POST /v1/wallet/funding ---

func (h *WalletHandler) CreateFunding(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req amountRequest
	if err := h.decodeSchema(r, services.SchemaFundingRequest, &req); err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	order, err := h.Payments.CreateFunding(r.Context(), p, req.Amount)
	if err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, order)
}

// --- POST /v1/wallet/funding/capture ---

func (h *WalletHandler) CaptureFunding(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req captureRequest
	if err := h.decodeSchema(r, services.SchemaCaptureRequest, &req); err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	txn, err := h.Payments.CaptureFunding(r.Context(), p, req.OrderID)
	if err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, txn)
}

// --- POST /v1/wallet/withdraw ---
// Limits run first (middleware), then the debit and the payout job commit
// together; the provider call happens in the worker.

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req amountRequest
	if err := h.decodeSchema(r, services.SchemaWithdrawRequest, &req); err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	txn, err := h.Payments.Withdraw(r.Context(), p, req.Amount)
	if err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, txn)
}

// --- GET /v1/subscriptions/{id}/status ---

func (h *WalletHandler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Payments.SubscriptionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subscriptionResponse{ID: sub.ID, Status: sub.Status, PlanID: sub.PlanID, Active: sub.Active()})
}

// --- POST /v1/subscriptions/{id}/cancel ---

func (h *WalletHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.WriteError(w, h.Logger, err)
			return
		}
	}
	if err := h.Payments.CancelSubscription(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		httpx.WriteError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
