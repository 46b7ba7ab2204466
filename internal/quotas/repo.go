package quotas

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Repository manages persistence for quota balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, balance *models.QuotaBalance) error
	FindByGrantKey(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, sourceKey string) (*models.QuotaBalance, error)
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.QuotaBalance, error)
	ListConsumable(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, now time.Time) ([]models.QuotaBalance, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.QuotaBalance, error)
	ConsumeRow(ctx context.Context, id uuid.UUID, quantity int, now time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	ExpireBySource(ctx context.Context, sourceKey string, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quota repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, balance *models.QuotaBalance) error {
	if balance.ID == uuid.Nil {
		balance.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(balance).Error
}

func (r *repository) FindByGrantKey(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, sourceKey string) (*models.QuotaBalance, error) {
	var balance models.QuotaBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND benefit = ? AND source_key = ?", userID, benefit, sourceKey).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.QuotaBalance, error) {
	var balances []models.QuotaBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, enums.QuotaStatusActive, now).
		Order("expires_at ASC").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repository) ListConsumable(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, now time.Time) ([]models.QuotaBalance, error) {
	var balances []models.QuotaBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND benefit = ? AND status = ? AND expires_at > ? AND used < granted",
			userID, benefit, enums.QuotaStatusActive, now).
		Order("expires_at ASC").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.QuotaBalance, error) {
	var balances []models.QuotaBalance
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("expires_at ASC").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// ConsumeRow applies a guarded increment so the used counter can never pass
// the grant, even under concurrent consumers. The zero-rows case signals the
// guard lost, not an error.
func (r *repository) ConsumeRow(ctx context.Context, id uuid.UUID, quantity int, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QuotaBalance{}).
		Where("id = ? AND status = ? AND expires_at > ? AND used + ? <= granted",
			id, enums.QuotaStatusActive, now, quantity).
		UpdateColumns(map[string]any{
			"used":       gorm.Expr("used + ?", quantity),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QuotaBalance{}).
		Where("status = ? AND expires_at <= ?", enums.QuotaStatusActive, now).
		UpdateColumns(map[string]any{
			"status":     enums.QuotaStatusExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExpireBySource retires every balance a single grant produced, regardless of
// remaining allowance. Used when the membership that granted them ends.
func (r *repository) ExpireBySource(ctx context.Context, sourceKey string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QuotaBalance{}).
		Where("source_key = ? AND status = ?", sourceKey, enums.QuotaStatusActive).
		UpdateColumns(map[string]any{
			"status":     enums.QuotaStatusExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
