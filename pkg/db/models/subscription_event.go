package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// SubscriptionEvent is an append-only audit record of a subscription change.
type SubscriptionEvent struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID  uuid.UUID                   `gorm:"column:subscription_id;type:uuid;not null;index"`
	Type            enums.SubscriptionEventType `gorm:"column:type;type:subscription_event_type;not null"`
	Data            json.RawMessage             `gorm:"column:data;type:jsonb"`
	ExternalEventID *string                     `gorm:"column:external_event_id"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (e *SubscriptionEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
