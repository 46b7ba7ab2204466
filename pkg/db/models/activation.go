package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Activation is the durable record that a completed transaction's benefits
// must be applied. The unique transaction id makes settlement exactly-once:
// the row is inserted in the same database transaction that wins the
// pending-to-completed update, and the worker drains it asynchronously.
type Activation struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID                `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:uq_activation_txn"`
	UserID        uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	Purpose       enums.TransactionPurpose `gorm:"column:purpose;type:transaction_purpose_enum;not null"`
	Status        enums.ActivationStatus   `gorm:"column:status;type:activation_status_enum;not null;default:'pending'"`
	AttemptCount  int                      `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt time.Time                `gorm:"column:next_attempt_at;not null"`
	LastError     *string                  `gorm:"column:last_error"`
	CompletedAt   *time.Time               `gorm:"column:completed_at"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
