package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// ProcessedWebhookEvent is the idempotency ledger entry for a provider event.
type ProcessedWebhookEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Provider        enums.BillingProvider `gorm:"column:provider;type:billing_provider;not null;uniqueIndex:ux_processed_webhook_events_provider_event"`
	ExternalEventID string                `gorm:"column:external_event_id;not null;uniqueIndex:ux_processed_webhook_events_provider_event"`
	EventType       string                `gorm:"column:event_type;not null"`
	ProcessedAt     time.Time             `gorm:"column:processed_at;not null"`
}

func (e *ProcessedWebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	return nil
}
