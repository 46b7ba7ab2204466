package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// MembershipPackage is a sellable membership tier with a bundle of benefits.
type MembershipPackage struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string                     `gorm:"column:name;not null"`
	Level          enums.PackageLevel         `gorm:"column:level;type:package_level_enum;not null"`
	DurationMonths int                        `gorm:"column:duration_months;not null"`
	Price          decimal.Decimal            `gorm:"column:price;type:numeric(18,2);not null"`
	Active         bool                       `gorm:"column:active;not null;default:true"`
	Benefits       []MembershipPackageBenefit `gorm:"foreignKey:PackageID"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

// MembershipPackageBenefit defines one monthly allowance included in a package.
type MembershipPackageBenefit struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PackageID        uuid.UUID         `gorm:"column:package_id;type:uuid;not null"`
	Benefit          enums.BenefitType `gorm:"column:benefit;type:benefit_type_enum;not null"`
	QuantityPerMonth int               `gorm:"column:quantity_per_month;not null"`
}

func (MembershipPackageBenefit) TableName() string {
	return "membership_package_benefits"
}
