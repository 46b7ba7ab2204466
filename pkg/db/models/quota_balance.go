package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// QuotaBalance holds a user's consumable allowance for one benefit type.
// Used never exceeds Granted; consumption is an atomic conditional update.
type QuotaBalance struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID         `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_quota_user_benefit_source"`
	Benefit   enums.BenefitType `gorm:"column:benefit;type:benefit_type_enum;not null;uniqueIndex:uq_quota_user_benefit_source"`
	SourceKey string            `gorm:"column:source_key;not null;uniqueIndex:uq_quota_user_benefit_source"`
	Granted   int               `gorm:"column:granted;not null"`
	Used      int               `gorm:"column:used;not null;default:0"`
	Status    enums.QuotaStatus `gorm:"column:status;type:quota_status_enum;not null;default:'active'"`
	ExpiresAt time.Time         `gorm:"column:expires_at;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Remaining reports the unconsumed portion of the grant.
func (q QuotaBalance) Remaining() int {
	return q.Granted - q.Used
}
