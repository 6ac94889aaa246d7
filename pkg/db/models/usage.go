package models

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// The following read models map collaborator-owned tables used for usage counting.

// TenantMembership links a user to a tenant.
type TenantMembership struct {
	ID       uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID              `gorm:"column:tenant_id;type:uuid;not null"`
	UserID   uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	Status   enums.MembershipStatus `gorm:"column:status;type:membership_status;not null"`
}

type Workspace struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
}

type Board struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
}

// Attachment carries only the columns needed to sum storage.
type Attachment struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;not null"`
	SizeBytes int64     `gorm:"column:size_bytes;not null"`
}
