package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/api"
	"github.com/gyaneshwarpardhi/donationledger/internal/apply"
	"github.com/gyaneshwarpardhi/donationledger/internal/auth"
	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/engine"
	"github.com/gyaneshwarpardhi/donationledger/internal/health"
	"github.com/gyaneshwarpardhi/donationledger/internal/invalidate"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/normalize"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/donations.yaml", "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional dotenv file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config & secrets ────────────────────────────────────────────────
	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	secrets, err := config.SecretsFromEnv()
	if err != nil {
		slog.Error("invalid environment", "err", err)
		os.Exit(1)
	}
	if err := secrets.Check(cfg); err != nil {
		slog.Error("missing secrets", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ─────────────────────────────────────────────────────────────────
	store, err := ledger.Open(ctx, cfg.Store, secrets.DatabaseURL, logger)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	if pg, ok := store.(*ledger.Postgres); ok {
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
	}

	// ── Normalizer & rules ───────────────────────────────────────────────────
	var subs normalize.SubscriptionSource
	if secrets.StripeSecretKey != "" {
		subs = normalize.NewStripeSubscriptions(secrets.StripeSecretKey)
	} else {
		slog.Warn("STRIPE_SECRET_KEY unset: invoices rely on embedded metadata only")
	}
	rules, err := engine.BuildRules(cfg)
	if err != nil {
		slog.Error("failed to build rules", "err", err)
		os.Exit(1)
	}
	slog.Info("rules built",
		"savings_percent", rules.SavingsPercent,
		"fee_percent", rules.FeePercent,
		"companies", rules.Companies.Len())

	// ── Invalidation ──────────────────────────────────────────────────────────
	pages := invalidate.NewPageCache(cfg.Invalidation.PageCacheSize, config.Ms(cfg.Invalidation.PageCacheTTLMs))
	notifiers := invalidate.Multi{pages}
	if u := cfg.Invalidation.RevalidateURL; u != "" {
		rv := invalidate.NewRevalidator(u, secrets.RevalidateSecret, config.Ms(cfg.Invalidation.TimeoutMs))
		notifiers = append(notifiers, invalidate.NewRetrying(rv, nil))
		slog.Info("revalidation hook enabled", "url", u)
	}
	dispatch := engine.NewDispatcher(ctx, notifiers, engine.DispatcherConf{
		Workers:    cfg.Invalidation.Workers,
		QueueDepth: cfg.Invalidation.QueueDepth,
		Timeout:    config.Ms(cfg.Invalidation.TimeoutMs),
	}, logger)

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(store, normalize.New(subs, logger), apply.New(store, logger), dispatch, rules, cfg.Engine, logger)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.AppConfig) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		newRules, err := engine.BuildRules(newCfg)
		if err != nil {
			slog.Warn("hot-reload skipped: rules build failed", "err", err)
			return
		}
		eng.SwapRules(newRules)
		slog.Info("rules hot-reloaded",
			"savings_percent", newRules.SavingsPercent,
			"fee_percent", newRules.FeePercent,
			"companies", newRules.Companies.Len())
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Admin sessions & health ──────────────────────────────────────────────
	static, err := auth.NewStaticTokens(secrets.AdminTokens)
	if err != nil {
		slog.Error("invalid ADMIN_TOKENS", "err", err)
		os.Exit(1)
	}
	sessions := auth.Chain{static}
	if secrets.AdminJWTSecret != "" {
		jwtSessions, err := auth.NewJWTSessions(secrets.AdminJWTSecret)
		if err != nil {
			slog.Error("invalid ADMIN_JWT_SECRET", "err", err)
			os.Exit(1)
		}
		sessions = append(sessions, jwtSessions)
	}
	if len(secrets.AdminTokens) == 0 && secrets.AdminJWTSecret == "" {
		slog.Warn("ADMIN_TOKENS and ADMIN_JWT_SECRET unset: admin reports are unreachable")
	}
	probe := health.NewProbe(store, eng, health.Thresholds{
		StaleAfter:       config.Ms(cfg.Health.StaleAfterMs),
		FailedDegradedAt: cfg.Health.FailedDegradedAt,
		FailedDownAt:     cfg.Health.FailedDownAt,
		QueueDegradedAt:  cfg.Health.QueueDegradedAt,
		Timeout:          config.Ms(cfg.Health.CheckTimeoutMs),
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Engine:        eng,
		Store:         store,
		Probe:         probe,
		Sessions:      sessions,
		Pages:         pages,
		Loader:        loader,
		WebhookSecret: secrets.StripeWebhookSecret,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  config.Ms(cfg.Server.ReadTimeoutMs),
		WriteTimeout: config.Ms(cfg.Server.WriteTimeoutMs),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown() // deliver queued invalidations
	cancel()
	slog.Info("goodbye")
}
