package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"datalens/internal/analytics"
	"datalens/internal/config"
	"datalens/internal/db"
	"datalens/internal/forecast"
	"datalens/internal/http/handlers"
	appmw "datalens/internal/http/middleware"
	"datalens/internal/ingest"
	"datalens/internal/metrics"
	"datalens/internal/reconcile"
	"datalens/internal/source"
	"datalens/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("datalens stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := db.EnsureBootstrapAdmin(ctx, gdb, cfg); err != nil {
		return err
	}

	nonces, err := appmw.NewNonces(cfg.NonceSecret, 12*time.Hour)
	if err != nil {
		return err
	}

	loc := cfg.Location()
	reg := metrics.New()

	events := db.NewEventStore(gdb)
	orders := db.NewOrderMirror(gdb)
	views := db.NewViewCounter(gdb)
	options := db.NewOptions(gdb)

	tr := tracker.New(events, orders, views, options, reg, logger)

	var (
		names analytics.ProductNamer
		rec   *reconcile.Reconciler
	)
	if cfg.SyncEnabled() {
		woo := source.NewWoo(source.WooConfig{
			BaseURL:        cfg.SourceURL,
			ConsumerKey:    cfg.SourceConsumerKey,
			ConsumerSecret: cfg.SourceConsumerSecret,
			PageSize:       cfg.SourcePageSize,
			Timeout:        cfg.SourceTimeout,
		}, logger)
		names = woo
		rec = reconcile.New(woo, orders, events, options, reg, cfg.AutoSyncInterval, logger)

		worker, err := reconcile.NewWorker(rec, cfg.AutoSyncSchedule, logger)
		if err != nil {
			return err
		}
		worker.Start()
		defer func() { <-worker.Stop().Done() }()
	} else {
		logger.Info("order sync disabled, APP_SOURCE_URL is not set")
	}

	summaries := analytics.NewEngine(orders, views, events, names, loc, logger)
	forecasts := forecast.NewEngine(orders, views, names, loc, logger)

	if cfg.KafkaEnabled() {
		consumer := ingest.NewConsumer(ingest.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup), tr, logger)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("store event consumer stopped", "error", err)
			}
		}()
		defer func() {
			<-done
			if err := consumer.Close(); err != nil {
				logger.Warn("closing kafka reader failed", "error", err)
			}
		}()
	}

	limiter := appmw.NewRateLimiter(cfg.TrackRateLimit, cfg.TrackRateBurst)
	auth := appmw.BasicAuth(gdb, logger)
	admin := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return auth(appmw.RequireManageStore(h))
	}
	adminWrite := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return admin(appmw.RequireNonce(nonces)(h))
	}

	r := router.New()

	r.GET("/healthz", handlers.Healthz)
	r.GET("/metrics", auth(handlers.Metrics(reg, logger)))

	r.POST("/v1/track/event", limiter.Middleware(handlers.TrackEvent(tr)))
	r.POST("/v1/track/product-view", limiter.Middleware(handlers.TrackProductView(tr)))

	r.GET("/v1/analytics/summary", auth(handlers.Summary(summaries, loc)))
	r.GET("/v1/analytics/forecast", auth(handlers.Forecast(forecasts, options)))

	r.GET("/v1/settings", auth(handlers.Settings(gdb, options, logger)))
	r.POST("/v1/settings", adminWrite(handlers.UpdateSettings(gdb, options, logger)))

	r.GET("/v1/sync/nonce", admin(handlers.SyncNonce(nonces)))
	r.POST("/v1/sync/all", adminWrite(handlers.SyncAll(rec, logger)))
	r.POST("/v1/sync/new", adminWrite(handlers.SyncNew(rec, logger)))

	server := &fasthttp.Server{
		Name:        "datalens",
		Handler:     handlers.RequestLogger(logger, reg)(r.Handler),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("datalens listening", "addr", cfg.ListenAddr)
		errc <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}
