package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/inaiurai/settlement/internal/auth"
	"github.com/inaiurai/settlement/internal/config"
	"github.com/inaiurai/settlement/internal/database"
	"github.com/inaiurai/settlement/internal/execution"
	"github.com/inaiurai/settlement/internal/gateway"
	"github.com/inaiurai/settlement/internal/jobs"
	"github.com/inaiurai/settlement/internal/ledger"
	"github.com/inaiurai/settlement/internal/logging"
	"github.com/inaiurai/settlement/internal/metrics"
	"github.com/inaiurai/settlement/internal/repository"
	"github.com/inaiurai/settlement/internal/services"
	"github.com/inaiurai/settlement/internal/traces"
	"github.com/inaiurai/settlement/internal/wallet"
	"github.com/inaiurai/settlement/internal/webhooks"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, version, logger)
	if err != nil {
		slog.Error("Failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL")

	if err := database.MigrateUp(cfg.DatabaseURL, logger); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	go metrics.StartPoolStatsCollector(ctx, pool, 15*time.Second)

	// Repositories
	userRepo := auth.NewRepository(pool)
	walletRepo := repository.NewWalletRepo(pool)
	txnRepo := repository.NewTransactionRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	webhookRepo := repository.NewWebhookRepo(pool)

	// Core services
	walletSvc := wallet.NewService(walletRepo, txnRepo)
	ledgerSvc := ledger.NewService(pool, txnRepo, walletSvc, logger)
	authSvc := auth.NewService(pool, userRepo, walletSvc, cfg.JWTSecret, logger)
	jobsSvc := jobs.NewService(pool, jobRepo, userRepo, walletSvc, ledgerSvc, logger)

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	paypal := gateway.NewPayPal(gateway.PayPalConfig{
		BaseURL:  cfg.PayPalURL,
		ClientID: cfg.PayPalClientID,
		Secret:   cfg.PayPalSecretKey,
		Currency: cfg.PayPalCurrency,
		Timeout:  cfg.GatewayTimeout,
	}, logger)
	payments := services.NewPaymentService(pool, walletSvc, ledgerSvc, userRepo, paypal, cfg.PayPalPayoutPercentFee, logger)
	payments.DailyLimit = cfg.DailyWithdrawalLimit

	// Payouts: the insert func is set after the River client exists (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn services.EnqueuePayout
	payments.Enqueue = func(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, transactionID)
	}

	verifier, err := webhooks.NewVerifier(cfg.WebhookVerifyMode, cfg.WebhookSecret, cfg.PayPalWebhookID, paypal, logger)
	if err != nil {
		slog.Error("Invalid webhook verification settings", "error", err)
		os.Exit(1)
	}
	reconciler := webhooks.NewReconciler(webhookRepo, ledgerSvc, validator, logger)

	// Workers
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewPayoutWorker(payments))
	river.AddWorker(workers, execution.NewReprocessWorker(reconciler, cfg.WebhookReprocessInterval, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{execution.ReprocessJob(cfg.WebhookReprocessInterval)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) error {
		_, err := riverClient.InsertTx(ctx, tx, execution.PayoutArgs{TransactionID: transactionID}, nil)
		return err
	}
	insertMu.Unlock()

	handler := newAPIHandler(cfg, pool, app{
		auth:       authSvc,
		wallet:     walletSvc,
		ledger:     ledgerSvc,
		jobs:       jobsSvc,
		payments:   payments,
		users:      userRepo,
		validator:  validator,
		reconciler: reconciler,
		verifier:   verifier,
		webhooks:   webhookRepo,
		provider:   paypal,
	}, logger)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}
