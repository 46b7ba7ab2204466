package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Repository manages activation rows through the settlement lifecycle.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Activation, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ReclaimStale(ctx context.Context, now time.Time, lease time.Duration) (int64, error)
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Activation, error)
	MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, attempt int, nextAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uuid.UUID, attempt int, lastErr string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an activation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Activation, error) {
	if limit <= 0 {
		limit = 50
	}
	var due []models.Activation
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", enums.ActivationStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// Claim flips one activation from pending to processing. Competing workers
// race here and the row count tells each whether it owns the attempt. The
// claim time starts the lease that ReclaimStale measures against.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Activation{}).
		Where("id = ? AND status = ?", id, enums.ActivationStatusPending).
		UpdateColumns(map[string]any{
			"status":        enums.ActivationStatusProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReclaimStale returns processing rows whose claim outlived its lease to the
// pending pool. A worker that died between claiming and recording an outcome
// leaves such a row behind; without the sweep its benefit would never be
// delivered.
func (r *repository) ReclaimStale(ctx context.Context, now time.Time, lease time.Duration) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Activation{}).
		Where("status = ? AND updated_at <= ?", enums.ActivationStatusProcessing, now.Add(-lease)).
		UpdateColumns(map[string]any{
			"status":          enums.ActivationStatusPending,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	return result.RowsAffected, result.Error
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Activation, error) {
	var activation models.Activation
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&activation).Error
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

func (r *repository) MarkDone(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Activation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":       enums.ActivationStatusDone,
			"completed_at": at,
			"last_error":   nil,
			"updated_at":   at,
		}).Error
}

func (r *repository) Reschedule(ctx context.Context, id uuid.UUID, attempt int, nextAt time.Time, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.Activation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":          enums.ActivationStatusPending,
			"attempt_count":   attempt,
			"next_attempt_at": nextAt,
			"last_error":      lastErr,
		}).Error
}

func (r *repository) MarkDead(ctx context.Context, id uuid.UUID, attempt int, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.Activation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":        enums.ActivationStatusDead,
			"attempt_count": attempt,
			"last_error":    lastErr,
		}).Error
}
