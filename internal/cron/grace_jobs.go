package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tenantbilling-backend/internal/graceperiod"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const (
	GraceNotificationJobName = "grace-period-notifications"
	GraceExpirationJobName   = "grace-period-expiration"
)

type graceSweeper interface {
	RunNotificationSweep(ctx context.Context) (graceperiod.SweepReport, error)
	RunExpirationSweep(ctx context.Context) (graceperiod.SweepReport, error)
}

type graceJob struct {
	name  string
	sweep func(ctx context.Context) (graceperiod.SweepReport, error)
	logg  *logger.Logger
}

// NewGraceNotificationJob sends the grace-period reminders that are due.
func NewGraceNotificationJob(sweeper graceSweeper, logg *logger.Logger) (Job, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("grace sweeper required")
	}
	return newGraceJob(GraceNotificationJobName, sweeper.RunNotificationSweep, logg)
}

// NewGraceExpirationJob expires canceled subscriptions whose grace window has elapsed.
func NewGraceExpirationJob(sweeper graceSweeper, logg *logger.Logger) (Job, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("grace sweeper required")
	}
	return newGraceJob(GraceExpirationJobName, sweeper.RunExpirationSweep, logg)
}

func newGraceJob(name string, sweep func(context.Context) (graceperiod.SweepReport, error), logg *logger.Logger) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &graceJob{name: name, sweep: sweep, logg: logg}, nil
}

func (j *graceJob) Name() string { return j.name }

func (j *graceJob) Run(ctx context.Context) error {
	report, err := j.sweep(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": report.Processed,
		"applied":   report.Applied,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(logCtx, "grace.sweep_complete")
	return nil
}
