package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/listings"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/metrics"
	"github.com/smartrent/smartrent-backend/pkg/retry"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 10
	defaultClaimLease  = 2 * time.Minute
)

// Service drains activation rows into applied benefits. Each activation is
// claimed with a conditional update, applied inside one database transaction,
// and marked done, rescheduled with backoff, or declared dead. A transaction's
// status is never touched here; settlement failure is a worker problem.
type Service interface {
	Dispatch(ctx context.Context, transactionID uuid.UUID) error
	ProcessBatch(ctx context.Context) (int, error)
}

// ServiceParams carries the dependencies of the settlement dispatcher.
type ServiceParams struct {
	DB           *db.Client
	Repo         Repository
	Transactions transactions.Repository
	Memberships  memberships.Service
	Listings     listings.Service
	Metrics      *metrics.PaymentMetrics
	Logger       *logger.Logger
	Settlement   config.SettlementConfig
}

type service struct {
	db           *db.Client
	repo         Repository
	transactions transactions.Repository
	memberships  memberships.Service
	listings     listings.Service
	metrics      *metrics.PaymentMetrics
	logg         *logger.Logger
	batchSize    int
	maxAttempts  int
	claimLease   time.Duration
	backoff      retry.Policy
	now          func() time.Time
}

// NewService builds the settlement dispatcher and validates its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("settlement: database client is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement: activation repository is required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("settlement: transaction repository is required")
	}
	if params.Memberships == nil {
		return nil, fmt.Errorf("settlement: membership service is required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("settlement: listing service is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("settlement: logger is required")
	}

	batch := params.Settlement.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.Settlement.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	claimLease := params.Settlement.ClaimLease
	if claimLease <= 0 {
		claimLease = defaultClaimLease
	}

	return &service{
		db:           params.DB,
		repo:         params.Repo,
		transactions: params.Transactions,
		memberships:  params.Memberships,
		listings:     params.Listings,
		metrics:      params.Metrics,
		logg:         params.Logger,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		claimLease:   claimLease,
		backoff: retry.Policy{
			MaxAttempts: maxAttempts,
			BaseDelay:   params.Settlement.BaseDelay,
			MaxDelay:    params.Settlement.MaxDelay,
		},
		now: time.Now,
	}, nil
}

// Dispatch settles one transaction's activation immediately. Used inline
// after a callback completes a payment; losing the claim means a worker got
// there first, which is fine.
func (s *service) Dispatch(ctx context.Context, transactionID uuid.UUID) error {
	activation, err := s.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("settlement: no activation for transaction %s", transactionID)
		}
		return err
	}
	if activation.Status == enums.ActivationStatusDone {
		return nil
	}

	claimed, err := s.repo.Claim(ctx, activation.ID, s.now())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	activation.AttemptCount++

	s.settle(ctx, activation)
	return nil
}

// ProcessBatch claims and settles due activations, returning how many it
// attempted. Claims abandoned by a dead worker are returned to the pool once
// their lease runs out, so an applied-but-unrecorded activation is retried
// rather than lost.
func (s *service) ProcessBatch(ctx context.Context) (int, error) {
	reclaimed, err := s.repo.ReclaimStale(ctx, s.now(), s.claimLease)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.logg.Warn(ctx, fmt.Sprintf("reclaimed %d stale activation claims", reclaimed))
	}

	due, err := s.repo.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range due {
		activation := &due[i]
		claimed, err := s.repo.Claim(ctx, activation.ID, s.now())
		if err != nil {
			return attempted, err
		}
		if !claimed {
			continue
		}
		activation.AttemptCount++
		attempted++
		s.settle(ctx, activation)
	}
	return attempted, nil
}

func (s *service) settle(ctx context.Context, activation *models.Activation) {
	logCtx := s.logg.WithTransactionID(ctx, activation.TransactionID.String())

	applyErr := s.apply(ctx, activation)
	if applyErr == nil {
		now := s.now()
		if err := s.repo.MarkDone(ctx, activation.ID, now); err != nil {
			s.logg.Error(logCtx, "failed to mark activation done", err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncSettlement("success")
			s.metrics.ObserveSettlementLag(now.Sub(activation.CreatedAt))
		}
		s.logg.Info(logCtx, fmt.Sprintf("settled %s activation", activation.Purpose))
		return
	}

	s.logg.Error(logCtx, "activation attempt failed", applyErr)
	if activation.AttemptCount >= s.maxAttempts {
		if err := s.repo.MarkDead(ctx, activation.ID, activation.AttemptCount, applyErr.Error()); err != nil {
			s.logg.Error(logCtx, "failed to mark activation dead", err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncSettlement("dead")
			s.metrics.IncDead()
		}
		s.logg.Error(logCtx, "activation exhausted all attempts", applyErr)
		return
	}

	nextAt := s.now().Add(s.backoff.DelayFor(activation.AttemptCount))
	if err := s.repo.Reschedule(ctx, activation.ID, activation.AttemptCount, nextAt, applyErr.Error()); err != nil {
		s.logg.Error(logCtx, "failed to reschedule activation", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncSettlement("retry")
	}
}

func (s *service) apply(ctx context.Context, activation *models.Activation) error {
	txn, err := s.transactions.Get(ctx, activation.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if txn.Status != enums.TransactionStatusCompleted && txn.Status != enums.TransactionStatusRefunded {
		return fmt.Errorf("transaction %s is %s, not settleable", txn.ID, txn.Status)
	}

	var snapshot transactions.PricingSnapshot
	if len(txn.PricingSnapshot) > 0 {
		if err := json.Unmarshal(txn.PricingSnapshot, &snapshot); err != nil {
			return fmt.Errorf("decode pricing snapshot: %w", err)
		}
	}

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		switch activation.Purpose {
		case enums.TransactionPurposeMembership:
			return s.applyMembership(ctx, tx, txn)
		case enums.TransactionPurposePostFee:
			return s.applyPostFee(ctx, tx, txn, snapshot)
		case enums.TransactionPurposeBoostFee:
			return s.applyBoostFee(ctx, tx, txn)
		case enums.TransactionPurposePushFee:
			return s.applyPushFee(ctx, tx, txn)
		default:
			return fmt.Errorf("no settlement handler for purpose %q", activation.Purpose)
		}
	})
}

func (s *service) applyMembership(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if txn.PackageID == nil {
		return fmt.Errorf("membership transaction %s has no package", txn.ID)
	}
	startsAt := s.now()
	if txn.CompletedAt != nil {
		startsAt = *txn.CompletedAt
	}
	_, err := s.memberships.WithTx(tx).Activate(ctx, memberships.ActivateInput{
		UserID:        txn.UserID,
		PackageID:     *txn.PackageID,
		TransactionID: txn.ID,
		StartsAt:      startsAt,
	})
	return err
}

func (s *service) applyPostFee(ctx context.Context, tx *gorm.DB, txn *models.Transaction, snapshot transactions.PricingSnapshot) error {
	if txn.ReferenceID == nil {
		return fmt.Errorf("post fee transaction %s has no listing", txn.ID)
	}
	vipType, err := enums.ParseVipType(snapshot.VipType)
	if err != nil {
		return fmt.Errorf("post fee snapshot: %w", err)
	}
	return s.listings.WithTx(tx).ExtendVisibility(ctx, listings.ExtendVisibilityInput{
		ListingID:     *txn.ReferenceID,
		UserID:        txn.UserID,
		VipType:       vipType,
		DurationDays:  snapshot.DurationDays,
		TransactionID: txn.ID,
	})
}

func (s *service) applyBoostFee(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if txn.ReferenceID == nil {
		return fmt.Errorf("boost fee transaction %s has no listing", txn.ID)
	}
	return s.listings.WithTx(tx).ApplyBoost(ctx, listings.ApplyBoostInput{
		ListingID:     *txn.ReferenceID,
		UserID:        txn.UserID,
		TransactionID: txn.ID,
	})
}

func (s *service) applyPushFee(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if txn.ReferenceID == nil {
		return fmt.Errorf("push fee transaction %s has no listing", txn.ID)
	}
	return s.listings.WithTx(tx).Push(ctx, *txn.ReferenceID, txn.UserID, txn.ID)
}
