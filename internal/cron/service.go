// Package cron runs the periodic billing jobs on a robfig cron schedule, one instance per cycle.
package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
)

const defaultSchedule = "@every 1h"

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Schedule is a standard cron expression or descriptor such as "@every 1h".
	Schedule string
	// RunOnStart triggers one cycle before the first scheduled tick.
	RunOnStart bool
}

// Service executes registered jobs each time the schedule fires.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	schedule   robfig.Schedule
	expr       string
	runOnStart bool
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	expr := params.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := robfig.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", expr, err)
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		schedule:   schedule,
		expr:       expr,
		runOnStart: params.RunOnStart,
	}, nil
}

// Run schedules cycles until the context is canceled, then waits for a running cycle to finish.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler := robfig.New(robfig.WithLocation(time.UTC), robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)))
	scheduler.Schedule(s.schedule, robfig.FuncJob(func() {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
	}))

	if s.runOnStart {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
	}
	scheduler.Start()
	s.logg.Info(s.logg.WithField(ctx, "schedule", s.expr), "cron.started")

	<-ctx.Done()
	<-scheduler.Stop().Done()
	s.logg.Info(ctx, "cron.stopped")
	return ctx.Err()
}

func (s *Service) runCycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron.cycle_skipped")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", relErr)
		}
	}()

	s.logg.Info(ctx, "cron.cycle_start")
	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	s.logg.Info(ctx, "cron.cycle_complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron.job_failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "cron.job_completed")
	s.metrics.IncSuccess(job.Name())
}
