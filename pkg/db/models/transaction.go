package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Transaction tracks a payment attempt from initiation through settlement.
// Status transitions are guarded by conditional updates so that concurrent
// provider callbacks cannot double-settle the same row.
type Transaction struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	Purpose         enums.TransactionPurpose `gorm:"column:purpose;type:transaction_purpose_enum;not null"`
	Status          enums.TransactionStatus  `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`
	Provider        enums.PaymentProvider    `gorm:"column:provider;type:payment_provider_enum;not null"`
	Amount          decimal.Decimal          `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency        string                   `gorm:"column:currency;type:varchar(3);not null;default:'VND'"`
	ReferenceID     *uuid.UUID               `gorm:"column:reference_id;type:uuid"`
	PackageID       *uuid.UUID               `gorm:"column:package_id;type:uuid"`
	ProviderRef     *string                  `gorm:"column:provider_ref"`
	ProviderTxnID   *string                  `gorm:"column:provider_txn_id"`
	ProviderCode    *string                  `gorm:"column:provider_code"`
	FailureReason   *string                  `gorm:"column:failure_reason"`
	PricingSnapshot json.RawMessage          `gorm:"column:pricing_snapshot;type:jsonb"`
	ExpiresAt       time.Time                `gorm:"column:expires_at;not null"`
	CompletedAt     *time.Time               `gorm:"column:completed_at"`
	RefundedAt      *time.Time               `gorm:"column:refunded_at"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
