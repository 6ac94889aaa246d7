package webhooks

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

const ledgerConstraint = "ux_processed_webhook_events_provider_event"

// Ledger is the durable record of processed provider events.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{db: conn}
}

func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx}
}

// Exists reports whether (provider, eventID) was already processed.
func (l *Ledger) Exists(ctx context.Context, provider enums.BillingProvider, eventID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND external_event_id = ?", provider, eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert records the event. It returns false, nil when the row already exists.
func (l *Ledger) Insert(ctx context.Context, provider enums.BillingProvider, eventID, eventType string) (bool, error) {
	row := &models.ProcessedWebhookEvent{
		Provider:        provider,
		ExternalEventID: eventID,
		EventType:       eventType,
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, ledgerConstraint) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
