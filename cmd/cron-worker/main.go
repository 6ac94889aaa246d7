package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/internal/cron"
	"github.com/angelmondragon/tenantbilling-backend/internal/graceperiod"
	"github.com/angelmondragon/tenantbilling-backend/internal/notifications"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/internal/tenants"
	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
	"github.com/angelmondragon/tenantbilling-backend/pkg/migrate"
	"github.com/angelmondragon/tenantbilling-backend/pkg/redis"
)

const lockKeyFormat = "tb:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Schedule:   cfg.Cron.Schedule,
		RunOnStart: true,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	calculator := graceperiod.NewCalculator(cfg.Grace.Days, nil)
	subs := subscriptions.NewRepository(conn)
	manager, err := subscriptions.NewManager(subscriptions.ManagerParams{
		Repo:   subs,
		Events: subscriptions.NewEventRepository(conn),
		DB:     dbClient,
		Grace:  calculator,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	notificationRepo := notifications.NewRepository(conn)
	notifier, err := notifications.NewNotifier(notificationRepo)
	if err != nil {
		return nil, err
	}
	grace, err := graceperiod.NewService(graceperiod.ServiceParams{
		Calculator:       calculator,
		NotificationDays: cfg.Grace.NotificationDays,
		Manager:          manager,
		Subscriptions:    subs,
		Tenants:          tenants.NewRepository(conn),
		NotifierFor:      func(tx *gorm.DB) graceperiod.Notifier { return notifier.WithTx(tx) },
		DB:               dbClient,
		Logger:           logg,
	})
	if err != nil {
		return nil, err
	}

	notificationJob, err := cron.NewGraceNotificationJob(grace, logg)
	if err != nil {
		return nil, err
	}
	expirationJob, err := cron.NewGraceExpirationJob(grace, logg)
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewNotificationRetentionJob(cron.NotificationRetentionJobParams{
		Logger:        logg,
		Repository:    notificationRepo,
		RetentionDays: cfg.Cron.NotificationRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	// Registry order is run order; notices go out before expiration.
	return cron.NewRegistry(notificationJob, expirationJob, retentionJob)
}
