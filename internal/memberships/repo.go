package memberships

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Repository exposes membership persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetPackage(ctx context.Context, packageID uuid.UUID) (*models.MembershipPackage, error)
	ListActivePackages(ctx context.Context) ([]models.MembershipPackage, error)
	InsertGrant(ctx context.Context, grant *models.MembershipGrant) error
	FindGrantByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.MembershipGrant, error)
	FindActiveGrant(ctx context.Context, userID uuid.UUID, now time.Time) (*models.MembershipGrant, error)
	ListDueGrants(ctx context.Context, now time.Time) ([]models.MembershipGrant, error)
	ExpireGrant(ctx context.Context, grantID uuid.UUID, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetPackage(ctx context.Context, packageID uuid.UUID) (*models.MembershipPackage, error) {
	var pkg models.MembershipPackage
	err := r.db.WithContext(ctx).
		Preload("Benefits").
		First(&pkg, "id = ?", packageID).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *repository) ListActivePackages(ctx context.Context) ([]models.MembershipPackage, error) {
	var packages []models.MembershipPackage
	err := r.db.WithContext(ctx).
		Preload("Benefits").
		Where("active = ?", true).
		Order("price ASC").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repository) InsertGrant(ctx context.Context, grant *models.MembershipGrant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *repository) FindGrantByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.MembershipGrant, error) {
	var grant models.MembershipGrant
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repository) FindActiveGrant(ctx context.Context, userID uuid.UUID, now time.Time) (*models.MembershipGrant, error) {
	var grant models.MembershipGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND ends_at > ?", userID, enums.MembershipStatusActive, now).
		Order("ends_at DESC").
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repository) ListDueGrants(ctx context.Context, now time.Time) ([]models.MembershipGrant, error) {
	var grants []models.MembershipGrant
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at <= ?", enums.MembershipStatusActive, now).
		Order("ends_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ExpireGrant(ctx context.Context, grantID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MembershipGrant{}).
		Where("id = ? AND status = ?", grantID, enums.MembershipStatusActive).
		UpdateColumns(map[string]any{
			"status":     enums.MembershipStatusExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
