package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// MembershipGrant is a user's purchased membership term. At most one grant
// per user may be active at a time.
type MembershipGrant struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	PackageID     uuid.UUID              `gorm:"column:package_id;type:uuid;not null"`
	TransactionID uuid.UUID              `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:uq_membership_grant_txn"`
	Status        enums.MembershipStatus `gorm:"column:status;type:membership_status_enum;not null;default:'active'"`
	StartsAt      time.Time              `gorm:"column:starts_at;not null"`
	EndsAt        time.Time              `gorm:"column:ends_at;not null"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
