package limits

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// UsageReader counts what a tenant currently consumes. The tables belong to other services.
type UsageReader interface {
	CountActiveUsers(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountWorkspaces(ctx context.Context, tenantID uuid.UUID) (int64, error)
	CountBoards(ctx context.Context, tenantID uuid.UUID) (int64, error)
	StorageBytes(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

type usageReader struct {
	db *gorm.DB
}

// NewUsageReader reads usage from the collaborator tables.
func NewUsageReader(db *gorm.DB) UsageReader {
	return &usageReader{db: db}
}

func (r *usageReader) CountActiveUsers(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TenantMembership{}).
		Where("tenant_id = ? AND status = ?", tenantID, enums.MembershipStatusActive).
		Count(&count).Error
	return count, err
}

func (r *usageReader) CountWorkspaces(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countRows(ctx, &models.Workspace{}, tenantID)
}

func (r *usageReader) CountBoards(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return r.countRows(ctx, &models.Board{}, tenantID)
}

func (r *usageReader) StorageBytes(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Attachment{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Where("tenant_id = ?", tenantID).
		Scan(&total).Error
	return total, err
}

func (r *usageReader) countRows(ctx context.Context, model any, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(model).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}
