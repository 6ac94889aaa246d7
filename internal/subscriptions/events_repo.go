package subscriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// EventRepository is the append-only store for subscription audit events.
type EventRepository interface {
	WithTx(tx *gorm.DB) EventRepository
	Append(ctx context.Context, event *models.SubscriptionEvent) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error)
	CountByType(ctx context.Context, subscriptionID uuid.UUID, eventType enums.SubscriptionEventType) (int64, error)
	ExistsExternalEvent(ctx context.Context, subscriptionID uuid.UUID, externalEventID string) (bool, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns an event repository bound to the provided database.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) WithTx(tx *gorm.DB) EventRepository {
	if tx == nil {
		return r
	}
	return &eventRepository{db: tx}
}

func (r *eventRepository) Append(ctx context.Context, event *models.SubscriptionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListBySubscription returns events oldest first.
func (r *eventRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionEvent, error) {
	var events []models.SubscriptionEvent
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepository) CountByType(ctx context.Context, subscriptionID uuid.UUID, eventType enums.SubscriptionEventType) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.SubscriptionEvent{}).
		Where("subscription_id = ? AND type = ?", subscriptionID, eventType).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *eventRepository) ExistsExternalEvent(ctx context.Context, subscriptionID uuid.UUID, externalEventID string) (bool, error) {
	if externalEventID == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.SubscriptionEvent{}).
		Where("subscription_id = ? AND external_event_id = ?", subscriptionID, externalEventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
