// Package router assembles the /v1 API, health and metrics endpoints behind
// the shared middleware chain.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/inaiurai/settlement/internal/auth"
	"github.com/inaiurai/settlement/internal/dashboard"
	"github.com/inaiurai/settlement/internal/handlers"
	"github.com/inaiurai/settlement/internal/httpx"
	"github.com/inaiurai/settlement/internal/jobs"
	"github.com/inaiurai/settlement/internal/middleware"
	"github.com/inaiurai/settlement/internal/webhooks"
)

type Middleware = func(http.Handler) http.Handler

// Handlers are the route groups mounted on the mux. A nil group is skipped.
type Handlers struct {
	Auth      *auth.Handler
	Wallet    *handlers.WalletHandler
	Jobs      *jobs.Handler
	Dashboard *dashboard.Handler
	Webhooks  *webhooks.Handler
}

type Options struct {
	Logger *slog.Logger
	// Authenticate resolves the caller from the bearer token. Required.
	Authenticate Middleware
	// WithdrawalLimits guards POST /v1/wallet/withdraw.
	WithdrawalLimits Middleware
	// WebhookIngest guards the public provider delivery route.
	WebhookIngest  Middleware
	AllowedOrigins []string
	// Ping reports database health for /healthz.
	Ping func(ctx context.Context) error
}

// New returns the fully wrapped API handler.
func New(h Handlers, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	identity := func(next http.Handler) http.Handler { return next }
	if opts.WithdrawalLimits == nil {
		opts.WithdrawalLimits = identity
	}
	if opts.WebhookIngest == nil {
		opts.WebhookIngest = identity
	}
	authn := opts.Authenticate
	staff := func(next http.Handler) http.Handler { return authn(middleware.RequireStaff(next)) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health(opts.Ping))
	mux.Handle("GET /metrics", promhttp.Handler())

	if h.Auth != nil {
		h.Auth.Register(mux)
	}
	if h.Wallet != nil {
		h.Wallet.Register(mux, authn, staff, opts.WithdrawalLimits)
	}
	if h.Jobs != nil {
		h.Jobs.Register(mux, authn)
	}
	if h.Dashboard != nil {
		h.Dashboard.Register(mux, authn, staff)
	}
	if h.Webhooks != nil {
		h.Webhooks.Register(mux, opts.WebhookIngest, staff)
	}

	var handler http.Handler = middleware.HTTPMetrics(mux)
	handler = middleware.Recover(handler)
	handler = middleware.RequestID(opts.Logger)(handler)

	return cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(handler)
}

func health(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
