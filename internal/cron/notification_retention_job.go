package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const (
	NotificationRetentionJobName = "notification-retention"
	defaultRetentionDays         = 30
)

type readNotificationPruner interface {
	DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type NotificationRetentionJobParams struct {
	Logger     *logger.Logger
	Repository readNotificationPruner
	// RetentionDays defaults to 30.
	RetentionDays int
	Clock         func() time.Time
}

// NewNotificationRetentionJob prunes read billing notifications past the retention window.
func NewNotificationRetentionJob(params NotificationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &notificationRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       clock,
	}, nil
}

type notificationRetentionJob struct {
	logg      *logger.Logger
	repo      readNotificationPruner
	retention int
	now       func() time.Time
}

func (j *notificationRetentionJob) Name() string { return NotificationRetentionJobName }

func (j *notificationRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	deleted, err := j.repo.DeleteReadOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notification retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "notification.retention_complete")
	return nil
}
