package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianrx/fulfillment/internal/alert"
	"github.com/meridianrx/fulfillment/internal/api"
	"github.com/meridianrx/fulfillment/internal/config"
	"github.com/meridianrx/fulfillment/internal/inventory"
	"github.com/meridianrx/fulfillment/internal/lane"
	"github.com/meridianrx/fulfillment/internal/monitor"
	"github.com/meridianrx/fulfillment/internal/payment"
	"github.com/meridianrx/fulfillment/internal/prescription"
	"github.com/meridianrx/fulfillment/internal/projection"
	"github.com/meridianrx/fulfillment/internal/ratelimit"
	"github.com/meridianrx/fulfillment/internal/registry"
	"github.com/meridianrx/fulfillment/internal/replay"
	"github.com/meridianrx/fulfillment/internal/saga/fulfillment"
	"github.com/meridianrx/fulfillment/internal/saga/renewal"
	"github.com/meridianrx/fulfillment/internal/shipment"
	"github.com/meridianrx/fulfillment/internal/store"
	"github.com/meridianrx/fulfillment/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, "fulfillment", cfg.TraceStdout)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	pgStore.SetMonitor(monitor.New(logger))

	// Event type registry and live projection bus.
	reg, err := registry.Default()
	if err != nil {
		logger.Error("invalid event registry", "error", err)
		os.Exit(1)
	}

	bus := projection.NewBus()
	orderStatus := projection.NewOrderStatus(pgStore, logger)
	bus.Subscribe(orderStatus.EventTypes(), orderStatus)
	billing := projection.NewSubscriptionBilling(pgStore, logger)
	bus.Subscribe(billing.EventTypes(), billing)

	replayEngine := replay.NewEngine(pgStore, reg, bus, logger)

	// Redis lanes.
	queue := lane.NewQueue(redisStore.Client(), logger)

	// Fulfillment saga.
	inventorySvc := inventory.NewService(pgStore, logger)
	shipmentSvc := shipment.NewService(pgStore, logger)
	prescriptionSvc := prescription.NewService(logger)
	coordinator := fulfillment.NewCoordinator(
		pgStore, pgStore, bus, reg, inventorySvc, shipmentSvc, prescriptionSvc, logger)

	fulfillmentPool := lane.NewPool(cfg.NumWorkers, coordinator, logger)
	fulfillmentDispatcher := lane.NewDispatcher(redisStore.Client(), lane.Fulfillment, fulfillmentPool, logger)

	relay := fulfillment.NewRelay(pgStore, queue, logger)
	watchdog := fulfillment.NewWatchdog(pgStore, queue, cfg.StepTimeout, logger)

	// Renewal saga.
	var channels []alert.Channel
	if len(cfg.AlertEmailRecipients) > 0 {
		channels = append(channels, alert.NewEmail(cfg.AlertEmailRecipients, logger))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.PagerDutyRoutingKey != "" {
		channels = append(channels, alert.NewPagerDuty(cfg.PagerDutyRoutingKey))
	}
	alerts := alert.NewFanout(logger, channels...)

	limiter := ratelimit.New(redisStore.Client(), logger)
	charger := payment.NewService(logger)
	renewalSaga, err := renewal.New(cfg.Renewal(), redisStore.Client(), limiter,
		charger, pgStore, pgStore, bus, reg, queue, alerts, logger)
	if err != nil {
		logger.Error("invalid renewal configuration", "error", err)
		os.Exit(1)
	}

	renewalPool := lane.NewPool(cfg.NumWorkers, renewalSaga, logger)
	renewalDispatcher := lane.NewDispatcher(redisStore.Client(), lane.Renewal, renewalPool, logger)

	// Background loops share one cancellable context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fulfillmentPool.Start(runCtx)
	renewalPool.Start(runCtx)
	go fulfillmentDispatcher.Start(runCtx)
	go renewalDispatcher.Start(runCtx)
	go relay.Start(runCtx)
	go watchdog.Start(runCtx)

	router := api.NewRouter(api.Deps{
		Events:      pgStore,
		Replay:      api.NewReplayHandler(replayEngine),
		Coordinator: coordinator,
		Sagas:       pgStore,
		Status:      pgStore,
		Queue:       queue,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	fulfillmentPool.Stop()
	renewalPool.Stop()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
