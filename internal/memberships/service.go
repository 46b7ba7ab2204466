package memberships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

// Service defines membership catalog and activation operations.
type Service interface {
	WithTx(tx *gorm.DB) Service
	ListPackages(ctx context.Context) ([]models.MembershipPackage, error)
	GetPackage(ctx context.Context, packageID uuid.UUID) (*models.MembershipPackage, error)
	HasActiveMembership(ctx context.Context, userID uuid.UUID) (bool, error)
	ActiveGrant(ctx context.Context, userID uuid.UUID) (*models.MembershipGrant, error)
	Activate(ctx context.Context, input ActivateInput) (*models.MembershipGrant, error)
	ExpireDue(ctx context.Context) (int64, error)
}

// ActivateInput turns a completed membership purchase into a grant plus its
// benefit quotas. TransactionID is the idempotency key for both.
type ActivateInput struct {
	UserID        uuid.UUID
	PackageID     uuid.UUID
	TransactionID uuid.UUID
	StartsAt      time.Time
}

type service struct {
	repo   Repository
	quotas quotas.Service
	logg   *logger.Logger
	now    func() time.Time
}

// ServiceParams wires the membership service dependencies.
type ServiceParams struct {
	Repo   Repository
	Quotas quotas.Service
	Logger *logger.Logger
}

// NewService wires a membership service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("membership repository required")
	}
	if params.Quotas == nil {
		return nil, fmt.Errorf("quota service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, quotas: params.Quotas, logg: params.Logger, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), quotas: s.quotas.WithTx(tx), logg: s.logg, now: s.now}
}

func (s *service) ListPackages(ctx context.Context) ([]models.MembershipPackage, error) {
	return s.repo.ListActivePackages(ctx)
}

func (s *service) GetPackage(ctx context.Context, packageID uuid.UUID) (*models.MembershipPackage, error) {
	if packageID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "package id is required")
	}
	pkg, err := s.repo.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "membership package not found")
		}
		return nil, err
	}
	return pkg, nil
}

func (s *service) HasActiveMembership(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	_, err := s.repo.FindActiveGrant(ctx, userID, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *service) ActiveGrant(ctx context.Context, userID uuid.UUID) (*models.MembershipGrant, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	grant, err := s.repo.FindActiveGrant(ctx, userID, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "no active membership")
		}
		return nil, err
	}
	return grant, nil
}

// Activate creates the grant and its benefit quotas. Replays land on the
// unique transaction id and return the original grant; benefit grants are
// keyed on the same id, so a replay re-issues only quotas a previous attempt
// failed to create. Each benefit grants quantityPerMonth times the package
// duration, expiring with the membership itself.
func (s *service) Activate(ctx context.Context, input ActivateInput) (*models.MembershipGrant, error) {
	if input.UserID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if input.TransactionID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "transaction id is required")
	}

	pkg, err := s.GetPackage(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}

	startsAt := input.StartsAt
	if startsAt.IsZero() {
		startsAt = s.now()
	}
	endsAt := startsAt.AddDate(0, pkg.DurationMonths, 0)

	grant := &models.MembershipGrant{
		UserID:        input.UserID,
		PackageID:     pkg.ID,
		TransactionID: input.TransactionID,
		Status:        enums.MembershipStatusActive,
		StartsAt:      startsAt,
		EndsAt:        endsAt,
	}

	if err := s.repo.InsertGrant(ctx, grant); err != nil {
		if db.IsUniqueViolation(err, "uq_membership_grant_txn") {
			existing, findErr := s.repo.FindGrantByTransactionID(ctx, input.TransactionID)
			if findErr != nil {
				return nil, findErr
			}
			s.logg.Info(s.logg.WithTransactionID(ctx, input.TransactionID.String()), "duplicate membership activation ignored")
			// Re-issue the benefit quotas. Grants that already exist for the
			// transaction are no-ops, so this heals an attempt that died
			// between the grant row and its quotas.
			if grantErr := s.grantBenefits(ctx, input.UserID, input.TransactionID, pkg, existing.EndsAt); grantErr != nil {
				return nil, grantErr
			}
			return existing, nil
		}
		return nil, err
	}

	if grantErr := s.grantBenefits(ctx, input.UserID, input.TransactionID, pkg, endsAt); grantErr != nil {
		return nil, grantErr
	}

	return grant, nil
}

// grantBenefits issues every benefit quota of the package, attempting all of
// them before failing so one error does not hide the rest.
func (s *service) grantBenefits(ctx context.Context, userID, transactionID uuid.UUID, pkg *models.MembershipPackage, endsAt time.Time) error {
	var grantErr error
	for _, benefit := range pkg.Benefits {
		if benefit.QuantityPerMonth <= 0 {
			continue
		}
		_, err := s.quotas.Grant(ctx, quotas.GrantInput{
			UserID:    userID,
			Benefit:   benefit.Benefit,
			Quantity:  benefit.QuantityPerMonth * pkg.DurationMonths,
			SourceKey: transactionID.String(),
			ExpiresAt: endsAt,
		})
		if err != nil {
			grantErr = multierr.Append(grantErr, fmt.Errorf("granting %s quota: %w", benefit.Benefit, err))
		}
	}
	return grantErr
}

// ExpireDue retires grants whose term has ended and zeroes each grant's
// remaining quota cohort. A grant that fails mid-sweep stays active and is
// picked up on the next pass; the sweep keeps going and reports every
// failure together with the count it did expire.
func (s *service) ExpireDue(ctx context.Context) (int64, error) {
	due, err := s.repo.ListDueGrants(ctx, s.now())
	if err != nil {
		return 0, err
	}

	var expired int64
	var sweepErr error
	for i := range due {
		grant := &due[i]
		won, expireErr := s.repo.ExpireGrant(ctx, grant.ID, s.now())
		if expireErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "grant_id", grant.ID.String()), "failed to expire membership grant", expireErr)
			sweepErr = multierr.Append(sweepErr, fmt.Errorf("expiring grant %s: %w", grant.ID, expireErr))
			continue
		}
		if !won {
			continue
		}
		if _, cohortErr := s.quotas.ExpireCohort(ctx, grant.TransactionID.String()); cohortErr != nil {
			s.logg.Error(s.logg.WithTransactionID(ctx, grant.TransactionID.String()), "failed to expire quota cohort", cohortErr)
			sweepErr = multierr.Append(sweepErr, fmt.Errorf("expiring quota cohort for %s: %w", grant.TransactionID, cohortErr))
		}
		expired++
	}
	return expired, sweepErr
}
