package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Listing is the slice of a rental post the payment core needs: ownership,
// tier, and paid visibility windows.
type Listing struct {
	ID          uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID     `gorm:"column:user_id;type:uuid;not null;index"`
	Title       string        `gorm:"column:title;not null"`
	VipType     enums.VipType `gorm:"column:vip_type;type:vip_type_enum;not null;default:'normal'"`
	PostedAt    *time.Time    `gorm:"column:posted_at"`
	PostedUntil *time.Time    `gorm:"column:posted_until"`
	PushedAt    *time.Time    `gorm:"column:pushed_at"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// ListingActivation records a paid visibility effect applied to a listing.
// The unique transaction id keeps a replayed settlement from applying the
// same extension or push twice.
type ListingActivation struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID     uuid.UUID                `gorm:"column:listing_id;type:uuid;not null;index"`
	UserID        uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	TransactionID uuid.UUID                `gorm:"column:transaction_id;type:uuid;uniqueIndex:uq_listing_activation_txn"`
	Purpose       enums.TransactionPurpose `gorm:"column:purpose;type:transaction_purpose_enum;not null"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
}

// ListingBoost is a paid visibility boost window applied to a listing.
type ListingBoost struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID     uuid.UUID  `gorm:"column:listing_id;type:uuid;not null;index"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	TransactionID *uuid.UUID `gorm:"column:transaction_id;type:uuid;uniqueIndex:uq_listing_boost_txn"`
	StartsAt      time.Time  `gorm:"column:starts_at;not null"`
	EndsAt        time.Time  `gorm:"column:ends_at;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}
