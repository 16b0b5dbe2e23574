package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/settlement/internal/auth"
	"github.com/inaiurai/settlement/internal/config"
	"github.com/inaiurai/settlement/internal/dashboard"
	"github.com/inaiurai/settlement/internal/handlers"
	"github.com/inaiurai/settlement/internal/jobs"
	"github.com/inaiurai/settlement/internal/ledger"
	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/router"
	"github.com/inaiurai/settlement/internal/services"
	"github.com/inaiurai/settlement/internal/wallet"
	"github.com/inaiurai/settlement/internal/webhooks"
)

// app holds the services the HTTP layer is built from.
type app struct {
	auth       auth.Service
	wallet     wallet.Service
	ledger     ledger.Service
	jobs       jobs.Service
	payments   *services.PaymentService
	users      dashboard.Users
	validator  *services.Validator
	reconciler *webhooks.Reconciler
	verifier   webhooks.Verifier
	webhooks   webhooks.RegistrationStore
	provider   webhooks.Provider
}

// newAPIHandler wires every route group.
// Withdrawals run Auth -> WithdrawalLimits -> handler; provider deliveries
// run RateLimit -> signature check -> handler.
func newAPIHandler(cfg *config.Config, pool *pgxpool.Pool, a app, logger *slog.Logger) http.Handler {
	wh := &handlers.WalletHandler{
		Wallets:   a.wallet,
		Payments:  a.payments,
		Validator: a.validator,
		Logger:    logger,
	}

	return router.New(router.Handlers{
		Auth:      auth.NewHandler(a.auth, logger),
		Wallet:    wh,
		Jobs:      jobs.NewHandler(a.jobs, logger),
		Dashboard: dashboard.NewHandler(a.users, a.wallet, a.ledger, logger),
		Webhooks:  webhooks.NewHandler(a.reconciler, a.verifier, a.webhooks, a.provider, logger),
	}, router.Options{
		Logger:           logger,
		Authenticate:     middleware.Authenticate(a.auth),
		WithdrawalLimits: middleware.WithdrawalLimits(a.ledger, cfg.MaxWithdrawalAmount, cfg.DailyWithdrawalLimit),
		WebhookIngest:    middleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst),
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		Ping:             pool.Ping,
	})
}
