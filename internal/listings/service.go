package listings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

// DefaultBoostWindow is how long a single boost keeps a listing elevated.
const DefaultBoostWindow = 7 * 24 * time.Hour

// Service exposes the paid and quota-funded visibility operations on listings.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	AssertOwnership(ctx context.Context, listingID, userID uuid.UUID) (*models.Listing, error)
	ExtendVisibility(ctx context.Context, input ExtendVisibilityInput) error
	ApplyBoost(ctx context.Context, input ApplyBoostInput) error
	Push(ctx context.Context, listingID, userID, transactionID uuid.UUID) error
	PushWithQuota(ctx context.Context, listingID, userID uuid.UUID) error
	PostWithQuota(ctx context.Context, input PostWithQuotaInput) error
	BoostWithQuota(ctx context.Context, listingID, userID uuid.UUID) error
}

// ExtendVisibilityInput extends a listing's paid window after a settled
// post fee. TransactionID ties the extension to the paying transaction.
type ExtendVisibilityInput struct {
	ListingID     uuid.UUID
	UserID        uuid.UUID
	VipType       enums.VipType
	DurationDays  int
	TransactionID uuid.UUID
}

// ApplyBoostInput records a boost window for a settled boost fee.
type ApplyBoostInput struct {
	ListingID     uuid.UUID
	UserID        uuid.UUID
	TransactionID uuid.UUID
	Window        time.Duration
}

// PostWithQuotaInput posts a listing at a paid tier by consuming one unit
// of the matching membership post quota instead of charging a fee.
type PostWithQuotaInput struct {
	ListingID    uuid.UUID
	UserID       uuid.UUID
	VipType      enums.VipType
	DurationDays int
}

// ServiceParams carries the dependencies of the listing service.
type ServiceParams struct {
	Repo   Repository
	Quotas quotas.Service
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	quotas quotas.Service
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds a listing service and validates its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("listings: repository is required")
	}
	if params.Quotas == nil {
		return nil, fmt.Errorf("listings: quota service is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("listings: logger is required")
	}
	return &service{
		repo:   params.Repo,
		quotas: params.Quotas,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		repo:   s.repo.WithTx(tx),
		quotas: s.quotas.WithTx(tx),
		logg:   s.logg,
		now:    s.now,
	}
}

func (s *service) Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	if listingID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "listing id is required")
	}
	listing, err := s.repo.Get(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "listing not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "failed to load listing")
	}
	return listing, nil
}

func (s *service) AssertOwnership(ctx context.Context, listingID, userID uuid.UUID) (*models.Listing, error) {
	listing, err := s.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != userID {
		return nil, apperrors.New(apperrors.CodeOwnershipMismatch, "listing does not belong to the requesting user")
	}
	return listing, nil
}

// ExtendVisibility moves the listing to the paid tier and extends its
// visible window. When the listing is still live the new days stack on top
// of the remaining window; otherwise the window restarts now. Each settled
// transaction extends the window at most once.
func (s *service) ExtendVisibility(ctx context.Context, input ExtendVisibilityInput) error {
	if input.DurationDays <= 0 {
		return apperrors.New(apperrors.CodeValidation, "duration days must be positive")
	}
	if !input.VipType.IsValid() {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid vip type %q", input.VipType))
	}
	listing, err := s.AssertOwnership(ctx, input.ListingID, input.UserID)
	if err != nil {
		return err
	}
	applied, err := s.recordActivation(ctx, listing.ID, input.UserID, input.TransactionID, enums.TransactionPurposePostFee)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	now := s.now()
	start := now
	base := now
	if listing.PostedUntil != nil && listing.PostedUntil.After(now) {
		base = *listing.PostedUntil
		if listing.PostedAt != nil {
			start = *listing.PostedAt
		}
	}
	until := base.AddDate(0, 0, input.DurationDays)

	if err := s.repo.UpdateVisibility(ctx, listing.ID, input.VipType, start, until); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to extend listing visibility")
	}
	s.logg.Info(ctx, fmt.Sprintf("listing %s visibility extended to %s as %s",
		listing.ID, until.Format(time.RFC3339), input.VipType))
	return nil
}

// ApplyBoost opens a boost window for the listing. The boost row carries a
// unique transaction id, so replaying a settled boost fee is a no-op.
func (s *service) ApplyBoost(ctx context.Context, input ApplyBoostInput) error {
	listing, err := s.AssertOwnership(ctx, input.ListingID, input.UserID)
	if err != nil {
		return err
	}
	window := input.Window
	if window <= 0 {
		window = DefaultBoostWindow
	}

	now := s.now()
	boost := &models.ListingBoost{
		ListingID: listing.ID,
		UserID:    input.UserID,
		StartsAt:  now,
		EndsAt:    now.Add(window),
	}
	if input.TransactionID != uuid.Nil {
		txnID := input.TransactionID
		boost.TransactionID = &txnID
	}

	if err := s.repo.InsertBoost(ctx, boost); err != nil {
		if db.IsUniqueViolation(err, "uq_listing_boost_txn") {
			s.logg.Info(s.logg.WithTransactionID(ctx, input.TransactionID.String()), "duplicate boost activation ignored")
			return nil
		}
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to record listing boost")
	}
	return s.touch(ctx, listing.ID, now)
}

// Push bumps the listing to the top of its segment without consuming quota.
// Callers settle the push fee before invoking it; each settled transaction
// bumps the listing at most once.
func (s *service) Push(ctx context.Context, listingID, userID, transactionID uuid.UUID) error {
	listing, err := s.AssertOwnership(ctx, listingID, userID)
	if err != nil {
		return err
	}
	applied, err := s.recordActivation(ctx, listing.ID, userID, transactionID, enums.TransactionPurposePushFee)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	return s.touch(ctx, listing.ID, s.now())
}

// PushWithQuota consumes one push allowance and bumps the listing.
func (s *service) PushWithQuota(ctx context.Context, listingID, userID uuid.UUID) error {
	listing, err := s.AssertOwnership(ctx, listingID, userID)
	if err != nil {
		return err
	}
	if err := s.quotas.Consume(ctx, userID, enums.BenefitTypePush, 1); err != nil {
		return err
	}
	return s.touch(ctx, listing.ID, s.now())
}

// PostWithQuota consumes one post allowance for the requested tier and
// opens the visibility window.
func (s *service) PostWithQuota(ctx context.Context, input PostWithQuotaInput) error {
	benefit, err := postBenefitFor(input.VipType)
	if err != nil {
		return err
	}
	if input.DurationDays <= 0 {
		return apperrors.New(apperrors.CodeValidation, "duration days must be positive")
	}
	if _, err := s.AssertOwnership(ctx, input.ListingID, input.UserID); err != nil {
		return err
	}
	if err := s.quotas.Consume(ctx, input.UserID, benefit, 1); err != nil {
		return err
	}

	now := s.now()
	until := now.AddDate(0, 0, input.DurationDays)
	if err := s.repo.UpdateVisibility(ctx, input.ListingID, input.VipType, now, until); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to post listing from quota")
	}
	return nil
}

// BoostWithQuota consumes one boost allowance and opens a boost window.
func (s *service) BoostWithQuota(ctx context.Context, listingID, userID uuid.UUID) error {
	listing, err := s.AssertOwnership(ctx, listingID, userID)
	if err != nil {
		return err
	}
	if err := s.quotas.Consume(ctx, userID, enums.BenefitTypeBoost, 1); err != nil {
		return err
	}

	now := s.now()
	boost := &models.ListingBoost{
		ListingID: listing.ID,
		UserID:    userID,
		StartsAt:  now,
		EndsAt:    now.Add(DefaultBoostWindow),
	}
	if err := s.repo.InsertBoost(ctx, boost); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to record listing boost")
	}
	return s.touch(ctx, listing.ID, now)
}

// recordActivation writes the effect row tying a visibility change to its
// transaction. It reports false when the transaction already has one, which
// marks the call as a replay to skip.
func (s *service) recordActivation(ctx context.Context, listingID, userID, transactionID uuid.UUID, purpose enums.TransactionPurpose) (bool, error) {
	if transactionID == uuid.Nil {
		return true, nil
	}
	activation := &models.ListingActivation{
		ListingID:     listingID,
		UserID:        userID,
		TransactionID: transactionID,
		Purpose:       purpose,
	}
	if err := s.repo.InsertActivation(ctx, activation); err != nil {
		if db.IsUniqueViolation(err, "uq_listing_activation_txn") {
			s.logg.Info(s.logg.WithTransactionID(ctx, transactionID.String()), "duplicate listing activation ignored")
			return false, nil
		}
		return false, apperrors.Wrap(apperrors.CodeInternal, err, "failed to record listing activation")
	}
	return true, nil
}

func (s *service) touch(ctx context.Context, listingID uuid.UUID, at time.Time) error {
	if err := s.repo.Touch(ctx, listingID, at); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "failed to bump listing")
	}
	return nil
}

func postBenefitFor(vipType enums.VipType) (enums.BenefitType, error) {
	switch vipType {
	case enums.VipTypeSilver:
		return enums.BenefitTypePostSilver, nil
	case enums.VipTypeGold:
		return enums.BenefitTypePostGold, nil
	case enums.VipTypeDiamond:
		return enums.BenefitTypePostDiamond, nil
	default:
		return "", apperrors.New(apperrors.CodeValidation, fmt.Sprintf("no post quota benefit for vip type %q", vipType))
	}
}
