// Package main is the entry point of the paper trading ledger engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/alert"
	"github.com/your-org/paper-ledger/internal/config"
	"github.com/your-org/paper-ledger/internal/datastore"
	"github.com/your-org/paper-ledger/internal/executor"
	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/http/handler"
	"github.com/your-org/paper-ledger/internal/ledger"
	"github.com/your-org/paper-ledger/internal/metrics"
	"github.com/your-org/paper-ledger/internal/position"
	"github.com/your-org/paper-ledger/internal/pricefeed"
	"github.com/your-org/paper-ledger/internal/snapshot"
	"github.com/your-org/paper-ledger/internal/trading"
	"github.com/your-org/paper-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	runMigrations := flag.Bool("migrate", true, "Apply pending schema migrations on startup")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
		}
	}()

	log.Info("paper trading ledger engine starting",
		zap.String("configPath", *configPath),
		zap.String("account", cfg.Account.ID),
	)

	// --- Storage ---
	var (
		store       history.Store
		accountRepo ledger.Repository
		sink        snapshot.Sink
	)
	if cfg.Database.Enabled() {
		if *runMigrations {
			if err := datastore.Migrate(cfg.Database.URL()); err != nil {
				log.Fatal("migration failed", zap.Error(err))
			}
			log.Info("schema migrations applied")
		}

		pool, err := datastore.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()

		store = history.NewPostgresStore(pool)
		accountRepo = ledger.NewPostgresRepository(pool)
		sink = snapshot.NewWriter(pool, accountRepo, cfg.Snapshot, log)
		log.Info("postgres storage initialized")
	} else {
		store = history.NewMemoryStore()
		accountRepo = ledger.NewInMemRepository()
		sink = snapshot.NewWriter(nil, accountRepo, cfg.Snapshot, log)
		log.Info("running on in-memory storage, state will not survive restarts")
	}
	defer sink.Close()

	// --- Engine ---
	positions := position.NewManager(log)
	exec := executor.New(positions, store, sink, executor.Config{
		AppendRetries:   cfg.Executor.AppendRetries,
		EventBufferSize: cfg.Executor.EventBufferSize,
	}, log)
	aggregator := metrics.NewAggregator(store)

	seedAccount(ctx, exec, accountRepo, cfg, log)

	// --- Alerting ---
	var notifier alert.Notifier = alert.NewNoOpNotifier()
	if cfg.Alert.Enabled() {
		n, err := alert.NewWebhookNotifier(cfg.Alert.WebhookURL,
			time.Duration(cfg.Alert.BufferIntervalSeconds)*time.Second, log)
		if err != nil {
			log.Fatal("failed to start alert notifier", zap.Error(err))
		}
		notifier = n
		log.Info("webhook alerting enabled")
	}
	defer notifier.Close()

	// The event stream doubles as the audit log and the alert source.
	go func() {
		for ev := range exec.Events() {
			log.Info("trade event",
				zap.String("type", string(ev.Type)),
				zap.String("accountID", ev.AccountID),
				zap.String("tradeID", ev.TradeID),
				zap.String("symbol", ev.Symbol),
			)
			if ev.Type == executor.EventPositionClosed && ev.Reason != trading.CloseManual {
				if err := notifier.Send(alert.FormatCloseEvent(ev)); err != nil {
					log.Warn("failed to queue alert", zap.Error(err))
				}
			}
		}
	}()

	// --- Price feed ---
	quotes := pricefeed.NewStaticFeed()
	if cfg.PriceFeed.URL != "" {
		feed := pricefeed.NewWebSocketFeed(cfg.PriceFeed.URL, quotes, func(tick trading.Tick) {
			exec.OnTick(ctx, tick)
		}, log)
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("price feed stopped", zap.Error(err))
			}
		}()
	}

	// --- HTTP server ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handler.HealthCheckHandler)
	handler.NewTradeHandler(exec).RegisterRoutes(r)
	handler.NewAccountHandler(exec, store, aggregator).RegisterRoutes(r)

	server := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()
	log.Info("paper trading ledger engine shut down gracefully")
}

// seedAccount restores every persisted account from the repository, then
// creates the configured account with the seed balance if it is not among
// them.
func seedAccount(ctx context.Context, exec *executor.Executor, repo ledger.Repository, cfg *config.Config, log *zap.Logger) {
	snapshots, err := repo.List(ctx)
	if err != nil {
		log.Fatal("failed to list account snapshots", zap.Error(err))
	}

	seeded := false
	for _, snap := range snapshots {
		exec.RestoreAccount(snap)
		log.Info("account restored from snapshot",
			zap.String("accountID", snap.AccountID),
			zap.String("balance", snap.Balance.String()),
		)
		if snap.AccountID == cfg.Account.ID {
			seeded = true
		}
	}
	if seeded {
		return
	}

	if err := exec.CreateAccount(cfg.Account.ID, cfg.Account.SeedBalance.Decimal); err != nil {
		log.Fatal("failed to create account", zap.Error(err))
	}
	log.Info("account created",
		zap.String("accountID", cfg.Account.ID),
		zap.String("seedBalance", cfg.Account.SeedBalance.String()),
	)
}
