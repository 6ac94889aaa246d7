package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tenantbilling-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/api/routes"
	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider/providers"
	ingestion "github.com/angelmondragon/tenantbilling-backend/internal/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
	"github.com/angelmondragon/tenantbilling-backend/pkg/migrate"
	"github.com/angelmondragon/tenantbilling-backend/pkg/pubsub"
	"github.com/angelmondragon/tenantbilling-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := psClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	adapter, err := providers.FromConfig(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to create billing adapter", err)
		os.Exit(1)
	}

	guard, err := ingestion.NewInFlightGuard(redisClient, cfg.Webhooks.InFlightTTL)
	if err != nil {
		logg.Error(ctx, "failed to create in-flight guard", err)
		os.Exit(1)
	}
	publisher := psClient.WebhookPublisher()
	defer func() {
		if publisher != nil {
			publisher.Stop()
		}
	}()
	enqueuer, err := ingestion.NewPubSubEnqueuer(publisher)
	if err != nil {
		logg.Error(ctx, "failed to create webhook enqueuer", err)
		os.Exit(1)
	}

	webhookService, err := ingestion.NewService(ingestion.ServiceParams{
		Adapter:  adapter,
		Ledger:   ingestion.NewLedger(dbClient.DB()),
		Guard:    guard,
		Enqueuer: enqueuer,
		Metrics:  metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"provider": string(adapter.Name()),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Env:          cfg.App.Env,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			PubSub:       psClient,
			Webhooks:     []webhooks.Ingester{webhookService},
			MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		return
	}
	logg.Info(ctx, "api server shut down gracefully")
}
