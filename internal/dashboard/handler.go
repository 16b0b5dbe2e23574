// Package dashboard serves the account overview and transaction history.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/models"
)

type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Wallets interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, bool, error)
}

// History is the read side of ledger.Service.
type History interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
	ListAll(ctx context.Context, limit, offset int) ([]*models.Transaction, error)
}

type Handler struct {
	users   Users
	wallets Wallets
	history History
	log     *slog.Logger
}

func NewHandler(users Users, wallets Wallets, history History, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, wallets: wallets, history: history, log: log}
}

func (h *Handler) Register(mux *http.ServeMux, auth, staff func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/account/me", auth(http.HandlerFunc(h.GetMe)))
	mux.Handle("GET /v1/transactions", auth(http.HandlerFunc(h.ListTransactions)))
	mux.Handle("GET /v1/transactions/{id}", auth(http.HandlerFunc(h.GetTransaction)))
	mux.Handle("GET /v1/admin/transactions", staff(http.HandlerFunc(h.ListAllTransactions)))
}

type meResponse struct {
	ID            uuid.UUID       `json:"id"`
	Email         string          `json:"email"`
	DisplayName   string          `json:"display_name"`
	UserType      models.UserType `json:"user_type"`
	IsStaff       bool            `json:"is_staff"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// GET /v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	resp := meResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		UserType:    u.UserType,
		IsStaff:     u.IsStaff,
		CreatedAt:   u.CreatedAt,
	}
	wallet, found, err := h.wallets.GetWallet(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if found {
		resp.Balance = wallet.Balance
		resp.LedgerBalance = wallet.LedgerBalance
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// GET /v1/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	limit, _ := httpx.Page(r, 50, 500)
	list, err := h.history.ListForUser(r.Context(), p.UserID, limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	writeList(w, list)
}

// GET /v1/transactions/{id}
// Staff can read any transaction; everyone else only their own. A foreign id
// looks exactly like a missing one.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, h.log, fmt.Errorf("%w: id is not a valid id", models.ErrValidation))
		return
	}
	txn, found, err := h.history.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if !found || (txn.UserID != p.UserID && !p.IsStaff) {
		httpx.WriteError(w, h.log, fmt.Errorf("transaction: %w", models.ErrNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, txn)
}

// GET /v1/admin/transactions
func (h *Handler) ListAllTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Page(r, 50, 500)
	list, err := h.history.ListAll(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	writeList(w, list)
}

func writeList(w http.ResponseWriter, list []*models.Transaction) {
	if list == nil {
		list = []*models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
