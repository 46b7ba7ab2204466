package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// Repository manages persistence for listings and boost windows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	UpdateVisibility(ctx context.Context, listingID uuid.UUID, vipType enums.VipType, postedAt, postedUntil time.Time) error
	Touch(ctx context.Context, listingID uuid.UUID, pushedAt time.Time) error
	InsertBoost(ctx context.Context, boost *models.ListingBoost) error
	InsertActivation(ctx context.Context, activation *models.ListingActivation) error
	FindBoostByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.ListingBoost, error)
	ActiveBoost(ctx context.Context, listingID uuid.UUID, now time.Time) (*models.ListingBoost, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a listing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) UpdateVisibility(ctx context.Context, listingID uuid.UUID, vipType enums.VipType, postedAt, postedUntil time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		UpdateColumns(map[string]any{
			"vip_type":     vipType,
			"posted_at":    postedAt,
			"posted_until": postedUntil,
			"updated_at":   postedAt,
		}).Error
}

func (r *repository) Touch(ctx context.Context, listingID uuid.UUID, pushedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		UpdateColumns(map[string]any{
			"pushed_at":  pushedAt,
			"updated_at": pushedAt,
		}).Error
}

func (r *repository) InsertBoost(ctx context.Context, boost *models.ListingBoost) error {
	if boost.ID == uuid.Nil {
		boost.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(boost).Error
}

func (r *repository) InsertActivation(ctx context.Context, activation *models.ListingActivation) error {
	if activation.ID == uuid.Nil {
		activation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(activation).Error
}

func (r *repository) FindBoostByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.ListingBoost, error) {
	var boost models.ListingBoost
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&boost).Error
	if err != nil {
		return nil, err
	}
	return &boost, nil
}

func (r *repository) ActiveBoost(ctx context.Context, listingID uuid.UUID, now time.Time) (*models.ListingBoost, error) {
	var boost models.ListingBoost
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND starts_at <= ? AND ends_at > ?", listingID, now, now).
		Order("ends_at DESC").
		First(&boost).Error
	if err != nil {
		return nil, err
	}
	return &boost, nil
}
