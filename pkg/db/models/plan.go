package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// Plan describes the limits and features a subscription grants.
type Plan struct {
	ID              string                `gorm:"column:id;primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	MaxUsers        int                   `gorm:"column:max_users;not null"`
	MaxWorkspaces   int                   `gorm:"column:max_workspaces;not null"`
	MaxBoards       int                   `gorm:"column:max_boards;not null"`
	MaxStorageMB    int                   `gorm:"column:max_storage_mb;not null"`
	Features        pq.StringArray        `gorm:"column:features;type:text[]"`
	Price           decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	Currency        string                `gorm:"column:currency;not null"`
	BillingInterval enums.BillingInterval `gorm:"column:billing_interval;type:billing_interval;not null"`
	TrialDays       int                   `gorm:"column:trial_days;not null;default:0"`
	ExternalPriceID string                `gorm:"column:external_price_id"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// HasFeature reports whether the plan grants the named feature.
func (p *Plan) HasFeature(feature string) bool {
	if p == nil {
		return false
	}
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
