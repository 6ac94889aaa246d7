package graceperiod

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/internal/notifications"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/internal/tenants"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const sweepBatchSize = 1000

// Notifier delivers one grace-period reminder.
type Notifier interface {
	NotifyGracePeriod(ctx context.Context, notice notifications.GraceNotice) (*models.Notification, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the grace-period service.
type ServiceParams struct {
	Calculator       *Calculator
	NotificationDays []int
	Manager          *subscriptions.Manager
	Subscriptions    subscriptions.Repository
	Tenants          tenants.Repository
	// NotifierFor returns a notifier bound to tx.
	NotifierFor func(tx *gorm.DB) Notifier
	DB          txRunner
	Logger      *logger.Logger
	// BatchSize is the page size sweeps read canceled rows with. Defaults to 1000.
	BatchSize int
}

// Service drives grace-period notifications, extensions and expiration.
type Service struct {
	calc     *Calculator
	days     []int
	manager  *subscriptions.Manager
	subs     subscriptions.Repository
	tenants  tenants.Repository
	notifier func(tx *gorm.DB) Notifier
	db       txRunner
	logg     *logger.Logger
	batch    int
}

// NewService validates dependencies and returns a grace-period service.
func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Calculator == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "grace calculator required")
	case p.Manager == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription manager required")
	case p.Subscriptions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	case p.Tenants == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tenant repository required")
	case p.NotifierFor == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	case p.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	days := append([]int(nil), p.NotificationDays...)
	sort.Ints(days)
	batch := p.BatchSize
	if batch <= 0 {
		batch = sweepBatchSize
	}
	return &Service{
		calc:     p.Calculator,
		days:     days,
		manager:  p.Manager,
		subs:     p.Subscriptions,
		tenants:  p.Tenants,
		notifier: p.NotifierFor,
		db:       p.DB,
		logg:     p.Logger,
		batch:    batch,
	}, nil
}

// IsWithinGracePeriod reports whether sub is canceled and still inside its effective grace window.
func (s *Service) IsWithinGracePeriod(sub *models.Subscription) bool {
	return s.calc.IsWithinGracePeriod(sub)
}

// Elapsed reports whether sub's grace window has run out.
func (s *Service) Elapsed(sub *models.Subscription) bool {
	return s.calc.Elapsed(sub)
}

// CalculateGracePeriodEndDate returns ends_at plus the configured grace window.
func (s *Service) CalculateGracePeriodEndDate(sub *models.Subscription) (time.Time, error) {
	return s.calc.CalculateGracePeriodEndDate(sub)
}

// EffectiveGracePeriodEnd returns the grace end including extensions.
func (s *Service) EffectiveGracePeriodEnd(sub *models.Subscription) (time.Time, error) {
	return s.calc.EffectiveGracePeriodEnd(sub)
}

// NotificationDue pairs a subscription with the grace day it should be reminded about.
type NotificationDue struct {
	Subscription *models.Subscription
	Day          int
}

// eachCanceled pages through every canceled subscription in id order.
func (s *Service) eachCanceled(ctx context.Context, fn func(sub *models.Subscription)) error {
	after := uuid.Nil
	for {
		page, err := s.subs.ListByStatus(ctx, enums.SubscriptionStatusCanceled, after, s.batch)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list canceled subscriptions")
		}
		for i := range page {
			fn(&page[i])
		}
		if len(page) < s.batch {
			return nil
		}
		after = page[len(page)-1].ID
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// SubscriptionsNeedingNotifications returns the reminders due right now and not yet sent.
func (s *Service) SubscriptionsNeedingNotifications(ctx context.Context) ([]NotificationDue, error) {
	var due []NotificationDue
	err := s.eachCanceled(ctx, func(sub *models.Subscription) {
		if !s.calc.IsWithinGracePeriod(sub) {
			return
		}
		elapsed := s.calc.ElapsedDays(sub)
		for _, d := range s.days {
			if d == elapsed && !sub.Metadata.NotificationSent(d) {
				due = append(due, NotificationDue{Subscription: sub, Day: d})
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// SendGracePeriodNotification sends the reminder for day, records the event and marks the day sent,
// all in one transaction. The sent set and grace window are checked on the locked row, so a
// stale sub never causes a second send. It reports false without an error when there is nothing
// to send.
func (s *Service) SendGracePeriodNotification(ctx context.Context, sub *models.Subscription, day int) (bool, error) {
	if sub == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":       sub.TenantID.String(),
		"subscription_id": sub.ID.String(),
		"day":             day,
	})
	tenant, err := s.tenants.FindByID(ctx, sub.TenantID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant")
	}
	if tenant == nil {
		s.logg.Warn(logCtx, "grace.notification.skipped_tenant_missing")
		return false, nil
	}

	var sent bool
	skipped := ""
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		sent, err = s.manager.WithTx(tx).UpdateMetadata(ctx, sub, enums.SubscriptionEventGracePeriodNotification,
			func(current *models.Subscription, md *models.SubscriptionMetadata) (map[string]any, error) {
				if !s.calc.IsWithinGracePeriod(current) {
					skipped = "grace.notification.skipped_not_in_grace"
					return nil, subscriptions.ErrMetadataUnchanged
				}
				if md.NotificationSent(day) {
					skipped = "grace.notification.already_sent"
					return nil, subscriptions.ErrMetadataUnchanged
				}
				end, err := s.calc.EffectiveGracePeriodEnd(current)
				if err != nil {
					return nil, err
				}
				notice := notifications.GraceNotice{
					Tenant:         tenant,
					Subscription:   current,
					Day:            day,
					GracePeriodEnd: end,
					DaysRemaining:  s.calc.DaysRemaining(end),
				}
				if _, err := s.notifier(tx).NotifyGracePeriod(ctx, notice); err != nil {
					return nil, err
				}
				md.MarkNotificationSent(day)
				return map[string]any{"day": day, "grace_period_end": end}, nil
			})
		return err
	})
	if err != nil {
		return false, err
	}
	if !sent {
		s.logg.Info(logCtx, skipped)
		return false, nil
	}
	s.logg.Info(logCtx, "grace.notification.sent")
	return true, nil
}

// ExtendGracePeriod records extraDays more of grace for a canceled subscription and returns the new
// effective end. Extensions stack on the stored row. ends_at itself is never moved.
func (s *Service) ExtendGracePeriod(ctx context.Context, sub *models.Subscription, extraDays int, reason string) (time.Time, error) {
	if sub == nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	if extraDays <= 0 {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "extra days must be positive").
			WithDetails(map[string]any{"extra_days": extraDays})
	}
	if err := extendable(sub); err != nil {
		return time.Time{}, err
	}

	var newEnd time.Time
	ext := models.GracePeriodExtension{Days: extraDays, Reason: reason, At: s.calc.Now()}
	_, err := s.manager.UpdateMetadata(ctx, sub, enums.SubscriptionEventGracePeriodExtended,
		func(current *models.Subscription, md *models.SubscriptionMetadata) (map[string]any, error) {
			if err := extendable(current); err != nil {
				return nil, err
			}
			end, err := s.calc.EffectiveGracePeriodEnd(current)
			if err != nil {
				return nil, err
			}
			newEnd = end.AddDate(0, 0, extraDays)
			md.AddExtension(ext)
			return map[string]any{"days": extraDays, "reason": reason, "grace_period_end": newEnd}, nil
		})
	if err != nil {
		return time.Time{}, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID.String(),
		"extra_days":      extraDays,
	}), "grace.extended")
	return newEnd, nil
}

func extendable(sub *models.Subscription) error {
	if sub.Status != enums.SubscriptionStatusCanceled {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "grace period can only be extended for canceled subscriptions").
			WithDetails(map[string]any{"operation": "extend_grace_period", "from": string(sub.Status)})
	}
	if sub.EndsAt == nil {
		return pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "subscription ends_at is not set").
			WithDetails(map[string]any{"field": "ends_at"})
	}
	return nil
}

// Status summarizes a subscription's grace window.
type Status struct {
	InGracePeriod  bool       `json:"in_grace_period"`
	GracePeriodEnd *time.Time `json:"grace_period_end"`
	DaysRemaining  int        `json:"days_remaining"`
	WarningsSent   []int      `json:"warnings_sent"`
	Error          string     `json:"error,omitempty"`
}

// GracePeriodStatus never fails; computation problems are reported in Status.Error.
func (s *Service) GracePeriodStatus(sub *models.Subscription) Status {
	if sub == nil {
		return Status{WarningsSent: []int{}, Error: "subscription required"}
	}
	warnings := append([]int{}, sub.Metadata.GraceNotificationsSent...)
	end, err := s.calc.EffectiveGracePeriodEnd(sub)
	if err != nil {
		return Status{WarningsSent: warnings, Error: err.Error()}
	}
	in := s.calc.IsWithinGracePeriod(sub)
	status := Status{InGracePeriod: in, GracePeriodEnd: &end, WarningsSent: warnings}
	if in {
		status.DaysRemaining = s.calc.DaysRemaining(end)
	}
	return status
}

// SubscriptionsWithExpiredGracePeriod returns canceled subscriptions whose effective grace end has passed.
func (s *Service) SubscriptionsWithExpiredGracePeriod(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.eachCanceled(ctx, func(sub *models.Subscription) {
		if s.calc.Elapsed(sub) {
			out = append(out, *sub)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Processed int
	Applied   int
	Skipped   int
	Failed    int
}

// RunExpirationSweep expires every subscription whose grace window has elapsed.
func (s *Service) RunExpirationSweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	candidates, err := s.SubscriptionsWithExpiredGracePeriod(ctx)
	if err != nil {
		return report, err
	}
	var errs error
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		sub := &candidates[i]
		report.Processed++
		expired, err := s.manager.ProcessGracePeriod(ctx, sub)
		switch {
		case err != nil:
			report.Failed++
			errs = multierr.Append(errs, err)
			s.logg.Error(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "grace.expire.failed", err)
		case expired == nil:
			report.Skipped++
		default:
			report.Applied++
		}
	}
	return report, errs
}

// RunNotificationSweep sends every reminder currently due.
func (s *Service) RunNotificationSweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	due, err := s.SubscriptionsNeedingNotifications(ctx)
	if err != nil {
		return report, err
	}
	var errs error
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		report.Processed++
		sent, err := s.SendGracePeriodNotification(ctx, item.Subscription, item.Day)
		switch {
		case err != nil:
			report.Failed++
			errs = multierr.Append(errs, err)
			s.logg.Error(s.logg.WithSubscriptionID(ctx, item.Subscription.ID.String()), "grace.notification.failed", err)
		case sent:
			report.Applied++
		default:
			report.Skipped++
		}
	}
	return report, errs
}
