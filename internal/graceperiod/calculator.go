// Package graceperiod tracks the window between cancellation and hard expiration.
package graceperiod

import (
	"math"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

const (
	// DefaultGraceDays is the grace window length when none is configured.
	DefaultGraceDays = 7
	day              = 24 * time.Hour
)

// Calculator derives grace-window dates from a subscription. It holds no state besides its settings.
type Calculator struct {
	graceDays int
	now       func() time.Time
}

// NewCalculator returns a calculator for a grace window of graceDays. A nil clock uses time.Now.
func NewCalculator(graceDays int, clock func() time.Time) *Calculator {
	if graceDays < 0 {
		graceDays = DefaultGraceDays
	}
	if clock == nil {
		clock = time.Now
	}
	return &Calculator{graceDays: graceDays, now: clock}
}

// GraceDays returns the configured window length.
func (c *Calculator) GraceDays() int {
	return c.graceDays
}

// Now returns the calculator clock in UTC.
func (c *Calculator) Now() time.Time {
	return c.now().UTC()
}

// CalculateGracePeriodEndDate returns ends_at plus the grace window, ignoring extensions.
func (c *Calculator) CalculateGracePeriodEndDate(sub *models.Subscription) (time.Time, error) {
	if sub == nil || sub.EndsAt == nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "subscription ends_at is not set").
			WithDetails(map[string]any{"field": "ends_at"})
	}
	return sub.EndsAt.UTC().AddDate(0, 0, c.graceDays), nil
}

// EffectiveGracePeriodEnd returns the grace end including every recorded extension.
func (c *Calculator) EffectiveGracePeriodEnd(sub *models.Subscription) (time.Time, error) {
	end, err := c.CalculateGracePeriodEndDate(sub)
	if err != nil {
		return time.Time{}, err
	}
	return end.AddDate(0, 0, sub.Metadata.ExtensionDays()), nil
}

// IsWithinGracePeriod reports whether sub is canceled and now is at or before its effective grace end.
func (c *Calculator) IsWithinGracePeriod(sub *models.Subscription) bool {
	if sub == nil || sub.Status != enums.SubscriptionStatusCanceled {
		return false
	}
	end, err := c.EffectiveGracePeriodEnd(sub)
	if err != nil {
		return false
	}
	return !c.Now().After(end)
}

// Elapsed reports whether sub is canceled and its effective grace end has passed.
func (c *Calculator) Elapsed(sub *models.Subscription) bool {
	if sub == nil || sub.Status != enums.SubscriptionStatusCanceled {
		return false
	}
	end, err := c.EffectiveGracePeriodEnd(sub)
	if err != nil {
		return false
	}
	return c.Now().After(end)
}

// ElapsedDays numbers the grace day now falls in: day 1 is the first 24h after ends_at.
// It is 0 before ends_at or when ends_at is unset.
func (c *Calculator) ElapsedDays(sub *models.Subscription) int {
	if sub == nil || sub.EndsAt == nil {
		return 0
	}
	since := c.Now().Sub(sub.EndsAt.UTC())
	if since < 0 {
		return 0
	}
	return int(since/day) + 1
}

// DaysRemaining rounds the time left until end up to whole days, never below zero.
func (c *Calculator) DaysRemaining(end time.Time) int {
	left := end.Sub(c.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}
