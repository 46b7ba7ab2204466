package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// ProviderEvent is an append-only audit row for every callback received from
// a payment provider, stored before any state transition is attempted.
type ProviderEvent struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID             `gorm:"column:transaction_id;type:uuid;not null;index"`
	Provider      enums.PaymentProvider `gorm:"column:provider;type:payment_provider_enum;not null"`
	ProviderCode  string                `gorm:"column:provider_code;not null"`
	ProviderRef   *string               `gorm:"column:provider_ref"`
	Outcome       string                `gorm:"column:outcome;not null"`
	Payload       json.RawMessage       `gorm:"column:payload;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
