package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// Subscription tracks the billing lifecycle of a single tenant.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID               uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index"`
	PlanID                 string                   `gorm:"column:plan_id;not null"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'none'"`
	Provider               enums.BillingProvider    `gorm:"column:provider;type:billing_provider;not null"`
	BillingPeriodStart     *time.Time               `gorm:"column:billing_period_start"`
	BillingPeriodEnd       *time.Time               `gorm:"column:billing_period_end"`
	TrialEndsAt            *time.Time               `gorm:"column:trial_ends_at"`
	EndsAt                 *time.Time               `gorm:"column:ends_at"`
	CancelledAt            *time.Time               `gorm:"column:cancelled_at"`
	ExternalCustomerID     string                   `gorm:"column:external_customer_id"`
	ExternalSubscriptionID string                   `gorm:"column:external_subscription_id;index"`
	Metadata               SubscriptionMetadata     `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not.
func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsLive reports whether the row counts toward the one-live-subscription-per-tenant rule.
func (s *Subscription) IsLive() bool {
	return s != nil && s.Status != enums.SubscriptionStatusExpired
}
