package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider/providers"
	"github.com/angelmondragon/tenantbilling-backend/internal/graceperiod"
	"github.com/angelmondragon/tenantbilling-backend/internal/plans"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/internal/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
	"github.com/angelmondragon/tenantbilling-backend/pkg/migrate"
	"github.com/angelmondragon/tenantbilling-backend/pkg/pubsub"
	"github.com/angelmondragon/tenantbilling-backend/pkg/redis"
)

const readinessTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := psClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	adapter, err := providers.FromConfig(ctx, cfg, logg)
	requireResource(ctx, logg, "billing adapter", err)

	conn := dbClient.DB()
	manager, err := subscriptions.NewManager(subscriptions.ManagerParams{
		Repo:   subscriptions.NewRepository(conn),
		Events: subscriptions.NewEventRepository(conn),
		DB:     dbClient,
		Grace:  graceperiod.NewCalculator(cfg.Grace.Days, nil),
		Logger: logg,
	})
	requireResource(ctx, logg, "subscription manager", err)

	processor, err := webhooks.NewProcessor(webhooks.ProcessorParams{
		Adapter:       adapter,
		DB:            dbClient,
		Ledger:        webhooks.NewLedger(conn),
		Manager:       manager,
		Plans:         plans.NewCachedRepository(plans.NewRepository(conn), cfg.Limits.PlanCacheSize, cfg.Limits.PlanCacheTTL),
		DefaultPlanID: cfg.Billing.DefaultPlanID,
		Metrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
	})
	requireResource(ctx, logg, "webhook processor", err)

	guard, err := webhooks.NewInFlightGuard(redisClient, cfg.Webhooks.InFlightTTL)
	requireResource(ctx, logg, "in-flight guard", err)

	consumer, err := webhooks.NewConsumer(psClient.WebhookSubscription(), processor, guard, logg)
	requireResource(ctx, logg, "webhook consumer", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"provider":    string(adapter.Name()),
	})

	readyCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	err = readiness(readyCtx, dbClient, redisClient, psClient)
	cancel()
	requireResource(ctx, logg, "readiness", err)

	logg.Info(ctx, "starting webhook worker")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "webhook worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "webhook worker shutting down gracefully")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func readiness(ctx context.Context, deps ...pinger) error {
	for _, dep := range deps {
		if err := dep.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to bootstrap "+name, err)
	os.Exit(1)
}
