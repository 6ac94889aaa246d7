package subscriptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

const defaultListLimit = 500

// ErrStaleStatus is returned by Update when the stored status no longer matches the expected one.
var ErrStaleStatus = errors.New("subscription status changed concurrently")

// Repository persists subscriptions. Rows are never deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription, expected enums.SubscriptionStatus) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByExternalSubscriptionID(ctx context.Context, provider enums.BillingProvider, externalID string) (*models.Subscription, error)
	FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	FindLatestByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	ListByStatus(ctx context.Context, status enums.SubscriptionStatus, after uuid.UUID, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// Update writes every column of sub, guarded by a compare-and-set on the expected status.
func (r *repository) Update(ctx context.Context, sub *models.Subscription, expected enums.SubscriptionStatus) error {
	res := r.db.WithContext(ctx).
		Model(sub).
		Where("status = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindByIDForUpdate loads the row under SELECT ... FOR UPDATE. It must run inside a transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByExternalSubscriptionID(ctx context.Context, provider enums.BillingProvider, externalID string) (*models.Subscription, error) {
	if externalID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_subscription_id = ?", provider, externalID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindActiveByTenant returns the tenant's single live (non-expired) subscription, or nil.
func (r *repository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status <> ?", tenantID, enums.SubscriptionStatusExpired).
		Order("created_at DESC").
		Limit(2).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		return &subs[0], nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tenant has more than one live subscription").
			WithDetails(map[string]any{"tenant_id": tenantID.String()})
	}
}

// FindLatestByTenant returns the most recently created subscription in any status.
func (r *repository) FindLatestByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListByStatus returns one page of rows in the given status ordered by id. Pass the last id of the
// previous page as after, or uuid.Nil for the first page.
func (r *repository) ListByStatus(ctx context.Context, status enums.SubscriptionStatus, after uuid.UUID, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var subs []models.Subscription
	if err := query.Order("id ASC").Limit(limit).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
