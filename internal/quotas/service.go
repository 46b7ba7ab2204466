package quotas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

// Service defines quota grant and consumption operations.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Grant(ctx context.Context, input GrantInput) (*models.QuotaBalance, error)
	Consume(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, quantity int) error
	ConsumeByBenefitIDs(ctx context.Context, userID uuid.UUID, benefitIDs []uuid.UUID, expected enums.BenefitType) error
	Balances(ctx context.Context, userID uuid.UUID) ([]models.QuotaBalance, error)
	CheckAvailability(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (*Availability, error)
	Remaining(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (int, error)
	ExpireDue(ctx context.Context) (int64, error)
	ExpireCohort(ctx context.Context, sourceKey string) (int64, error)
}

// Availability aggregates a user's standing for one benefit across every
// active balance.
type Availability struct {
	Benefit   enums.BenefitType `json:"benefit"`
	Granted   int               `json:"granted"`
	Used      int               `json:"used"`
	Available int               `json:"available"`
}

// GrantInput describes one quota grant. SourceKey makes the grant idempotent:
// replaying the same source yields the original balance untouched.
type GrantInput struct {
	UserID    uuid.UUID
	Benefit   enums.BenefitType
	Quantity  int
	SourceKey string
	ExpiresAt time.Time
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ServiceParams wires the quota service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

// NewService wires a quota service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("quota repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, now: s.now}
}

func (s *service) Grant(ctx context.Context, input GrantInput) (*models.QuotaBalance, error) {
	if input.UserID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if !input.Benefit.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid benefit type %q", input.Benefit))
	}
	if input.Quantity <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "grant quantity must be positive")
	}
	if input.SourceKey == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "source key is required")
	}
	if !input.ExpiresAt.After(s.now()) {
		return nil, apperrors.New(apperrors.CodeValidation, "expiry must be in the future")
	}

	balance := &models.QuotaBalance{
		UserID:    input.UserID,
		Benefit:   input.Benefit,
		SourceKey: input.SourceKey,
		Granted:   input.Quantity,
		Status:    enums.QuotaStatusActive,
		ExpiresAt: input.ExpiresAt,
	}

	err := s.repo.Insert(ctx, balance)
	if err == nil {
		return balance, nil
	}
	if db.IsUniqueViolation(err, "uq_quota_user_benefit_source") {
		existing, findErr := s.repo.FindByGrantKey(ctx, input.UserID, input.Benefit, input.SourceKey)
		if findErr != nil {
			return nil, findErr
		}
		s.logg.Info(s.logg.WithUserID(ctx, input.UserID.String()), "duplicate quota grant ignored")
		return existing, nil
	}
	return nil, err
}

// Consume walks consumable balances oldest-expiry first and applies the
// guarded decrement. Losing every guard means concurrent consumers drained
// the quota between the read and the update.
func (s *service) Consume(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType, quantity int) error {
	if userID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if !benefit.IsValid() {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid benefit type %q", benefit))
	}
	if quantity <= 0 {
		return apperrors.New(apperrors.CodeValidation, "consume quantity must be positive")
	}

	now := s.now()
	balances, err := s.repo.ListConsumable(ctx, userID, benefit, now)
	if err != nil {
		return err
	}

	for _, balance := range balances {
		if balance.Remaining() < quantity {
			continue
		}
		won, err := s.repo.ConsumeRow(ctx, balance.ID, quantity, now)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
	}

	return apperrors.New(apperrors.CodeInsufficientQuota, fmt.Sprintf("insufficient %s quota", benefit))
}

// ConsumeByBenefitIDs spends from buckets the caller has already picked.
// Every id must exist, belong to the user, and hold the expected benefit
// before any of them is decremented.
func (s *service) ConsumeByBenefitIDs(ctx context.Context, userID uuid.UUID, benefitIDs []uuid.UUID, expected enums.BenefitType) error {
	if userID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if len(benefitIDs) == 0 {
		return apperrors.New(apperrors.CodeValidation, "at least one benefit id is required")
	}
	if !expected.IsValid() {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid benefit type %q", expected))
	}

	balances, err := s.repo.FindByIDs(ctx, benefitIDs)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]models.QuotaBalance, len(balances))
	for _, balance := range balances {
		byID[balance.ID] = balance
	}

	for _, id := range benefitIDs {
		balance, ok := byID[id]
		if !ok {
			return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("quota balance %s not found", id))
		}
		if balance.UserID != userID {
			return apperrors.New(apperrors.CodeOwnershipMismatch, fmt.Sprintf("quota balance %s belongs to another user", id))
		}
		if balance.Benefit != expected {
			return apperrors.New(apperrors.CodeBenefitTypeMismatch,
				fmt.Sprintf("quota balance %s holds %s, expected %s", id, balance.Benefit, expected))
		}
	}

	now := s.now()
	for _, id := range benefitIDs {
		won, err := s.repo.ConsumeRow(ctx, id, 1, now)
		if err != nil {
			return err
		}
		if !won {
			return apperrors.New(apperrors.CodeInsufficientQuota,
				fmt.Sprintf("quota balance %s has no remaining %s allowance", id, expected))
		}
	}
	return nil
}

func (s *service) Balances(ctx context.Context, userID uuid.UUID) ([]models.QuotaBalance, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	return s.repo.ListActive(ctx, userID, s.now())
}

func (s *service) CheckAvailability(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (*Availability, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	if !benefit.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid benefit type %q", benefit))
	}

	balances, err := s.repo.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	availability := &Availability{Benefit: benefit}
	for _, balance := range balances {
		if balance.Benefit != benefit {
			continue
		}
		availability.Granted += balance.Granted
		availability.Used += balance.Used
		availability.Available += balance.Remaining()
	}
	return availability, nil
}

func (s *service) Remaining(ctx context.Context, userID uuid.UUID, benefit enums.BenefitType) (int, error) {
	balances, err := s.repo.ListConsumable(ctx, userID, benefit, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	total := 0
	for _, balance := range balances {
		total += balance.Remaining()
	}
	return total, nil
}

func (s *service) ExpireDue(ctx context.Context) (int64, error) {
	return s.repo.ExpireDue(ctx, s.now())
}

func (s *service) ExpireCohort(ctx context.Context, sourceKey string) (int64, error) {
	if sourceKey == "" {
		return 0, apperrors.New(apperrors.CodeValidation, "source key is required")
	}
	return s.repo.ExpireBySource(ctx, sourceKey, s.now())
}
