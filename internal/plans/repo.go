// Package plans loads plan definitions and caches them for limit checks.
package plans

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
)

// Repository reads plans.
type Repository interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindByID returns nil when the plan does not exist.
func (r *repository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
