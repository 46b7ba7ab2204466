package transactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

// ListFilter narrows a user's transaction history.
type ListFilter struct {
	Purpose *enums.TransactionPurpose
	Status  *enums.TransactionStatus
	Limit   int
	Offset  int
}

// Repository manages transaction rows, their audit events, and the
// activation rows that completed transactions enqueue for settlement.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error)
	GetByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Transaction, error)
	List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	InsertActivation(ctx context.Context, activation *models.Activation) error
	InsertProviderEvent(ctx context.Context, event *models.ProviderEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, ref).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset)
	if filter.Purpose != nil {
		query = query.Where("purpose = ?", *filter.Purpose)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var txns []models.Transaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// UpdateStatus moves a transaction between states with the expected state in
// the WHERE clause. The caller learns from the row count whether it won the
// transition; concurrent callbacks race here and exactly one wins.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.TransactionStatusPending, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) InsertActivation(ctx context.Context, activation *models.Activation) error {
	if activation.ID == uuid.Nil {
		activation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(activation).Error
}

func (r *repository) InsertProviderEvent(ctx context.Context, event *models.ProviderEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}
