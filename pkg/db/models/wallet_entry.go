package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// WalletEntry records one wallet movement with the balance before and after,
// so the ledger can be replayed and audited without recomputing.
type WalletEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID      uuid.UUID             `gorm:"column:wallet_id;type:uuid;not null;index"`
	TransactionID *uuid.UUID            `gorm:"column:transaction_id;type:uuid;uniqueIndex:uq_wallet_entry_txn"`
	Type          enums.WalletEntryType `gorm:"column:type;type:wallet_entry_type_enum;not null"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(18,2);not null"`
	BalanceBefore decimal.Decimal       `gorm:"column:balance_before;type:numeric(18,2);not null"`
	BalanceAfter  decimal.Decimal       `gorm:"column:balance_after;type:numeric(18,2);not null"`
	Description   string                `gorm:"column:description"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
