package settlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/internal/listings"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
	"github.com/smartrent/smartrent-backend/pkg/logger"
)

type stubMemberships struct {
	activations []memberships.ActivateInput
	activateErr error
}

func (s *stubMemberships) WithTx(tx *gorm.DB) memberships.Service { return s }

func (s *stubMemberships) ListPackages(ctx context.Context) ([]models.MembershipPackage, error) {
	return nil, nil
}

func (s *stubMemberships) GetPackage(ctx context.Context, packageID uuid.UUID) (*models.MembershipPackage, error) {
	return nil, apperrors.New(apperrors.CodeNotFound, "membership package not found")
}

func (s *stubMemberships) HasActiveMembership(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubMemberships) ActiveGrant(ctx context.Context, userID uuid.UUID) (*models.MembershipGrant, error) {
	return nil, apperrors.New(apperrors.CodeNotFound, "no active membership")
}

func (s *stubMemberships) Activate(ctx context.Context, input memberships.ActivateInput) (*models.MembershipGrant, error) {
	if s.activateErr != nil {
		return nil, s.activateErr
	}
	s.activations = append(s.activations, input)
	return &models.MembershipGrant{ID: uuid.New()}, nil
}

func (s *stubMemberships) ExpireDue(ctx context.Context) (int64, error) { return 0, nil }

type stubListings struct {
	extensions []listings.ExtendVisibilityInput
	boosts     []listings.ApplyBoostInput
	pushes     []uuid.UUID
}

func (s *stubListings) WithTx(tx *gorm.DB) listings.Service { return s }

func (s *stubListings) Get(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	return nil, apperrors.New(apperrors.CodeNotFound, "listing not found")
}

func (s *stubListings) AssertOwnership(ctx context.Context, listingID, userID uuid.UUID) (*models.Listing, error) {
	return &models.Listing{ID: listingID, UserID: userID}, nil
}

func (s *stubListings) ExtendVisibility(ctx context.Context, input listings.ExtendVisibilityInput) error {
	s.extensions = append(s.extensions, input)
	return nil
}

func (s *stubListings) ApplyBoost(ctx context.Context, input listings.ApplyBoostInput) error {
	s.boosts = append(s.boosts, input)
	return nil
}

func (s *stubListings) Push(ctx context.Context, listingID, userID, transactionID uuid.UUID) error {
	s.pushes = append(s.pushes, listingID)
	return nil
}

func (s *stubListings) PushWithQuota(ctx context.Context, listingID, userID uuid.UUID) error {
	return nil
}

func (s *stubListings) PostWithQuota(ctx context.Context, input listings.PostWithQuotaInput) error {
	return nil
}

func (s *stubListings) BoostWithQuota(ctx context.Context, listingID, userID uuid.UUID) error {
	return nil
}

type dispatcherDeps struct {
	gdb     *gorm.DB
	repo    Repository
	txns    transactions.Repository
	members *stubMemberships
	posts   *stubListings
}

func newTestDispatcher(t *testing.T, maxAttempts int) (Service, *dispatcherDeps) {
	t.Helper()

	gdb := setupSettlementDB(t)
	deps := &dispatcherDeps{
		gdb:     gdb,
		repo:    NewRepository(gdb),
		txns:    transactions.NewRepository(gdb),
		members: &stubMemberships{},
		posts:   &stubListings{},
	}

	svc, err := NewService(ServiceParams{
		DB:           db.NewFromConn(gdb),
		Repo:         deps.repo,
		Transactions: deps.txns,
		Memberships:  deps.members,
		Listings:     deps.posts,
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
		Settlement: config.SettlementConfig{
			BatchSize:   10,
			MaxAttempts: maxAttempts,
			ClaimLease:  2 * time.Minute,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return svc, deps
}

func seedCompleted(t *testing.T, deps *dispatcherDeps, purpose enums.TransactionPurpose, mutate func(*models.Transaction)) *models.Transaction {
	t.Helper()

	completedAt := time.Now().Add(-time.Minute)
	txn := &models.Transaction{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Purpose:     purpose,
		Status:      enums.TransactionStatusCompleted,
		Provider:    enums.PaymentProviderVNPay,
		Amount:      decimal.NewFromInt(110000),
		Currency:    "VND",
		ExpiresAt:   time.Now().Add(time.Hour),
		CompletedAt: &completedAt,
	}
	if mutate != nil {
		mutate(txn)
	}
	require.NoError(t, deps.txns.Insert(context.Background(), txn))

	require.NoError(t, deps.txns.InsertActivation(context.Background(), &models.Activation{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Purpose:       txn.Purpose,
		Status:        enums.ActivationStatusPending,
		NextAttemptAt: time.Now().Add(-time.Second),
	}))
	return txn
}

func snapshotJSON(t *testing.T, snapshot transactions.PricingSnapshot) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	return raw
}

func TestService_DispatchMembership(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	pkgID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposeMembership, func(txn *models.Transaction) {
		txn.PackageID = &pkgID
	})

	require.NoError(t, svc.Dispatch(ctx, txn.ID))

	require.Len(t, deps.members.activations, 1)
	input := deps.members.activations[0]
	assert.Equal(t, txn.UserID, input.UserID)
	assert.Equal(t, pkgID, input.PackageID)
	assert.Equal(t, txn.ID, input.TransactionID)
	assert.WithinDuration(t, *txn.CompletedAt, input.StartsAt, time.Second)

	activation, err := deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ActivationStatusDone, activation.Status)
}

func TestService_DispatchAlreadyDoneIsNoOp(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	pkgID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposeMembership, func(txn *models.Transaction) {
		txn.PackageID = &pkgID
	})

	require.NoError(t, svc.Dispatch(ctx, txn.ID))
	require.NoError(t, svc.Dispatch(ctx, txn.ID))

	assert.Len(t, deps.members.activations, 1, "done activations must not re-apply")
}

func TestService_ProcessBatchAppliesPostFee(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	listingID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposePostFee, func(txn *models.Transaction) {
		txn.ReferenceID = &listingID
		txn.PricingSnapshot = snapshotJSON(t, transactions.PricingSnapshot{
			Purpose:      "post_fee",
			VipType:      "gold",
			DurationDays: 10,
		})
	})

	attempted, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	require.Len(t, deps.posts.extensions, 1)
	extension := deps.posts.extensions[0]
	assert.Equal(t, listingID, extension.ListingID)
	assert.Equal(t, enums.VipTypeGold, extension.VipType)
	assert.Equal(t, 10, extension.DurationDays)
	assert.Equal(t, txn.ID, extension.TransactionID)
}

func TestService_ProcessBatchAppliesBoostAndPush(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	boostListing := uuid.New()
	seedCompleted(t, deps, enums.TransactionPurposeBoostFee, func(txn *models.Transaction) {
		txn.ReferenceID = &boostListing
	})
	pushListing := uuid.New()
	seedCompleted(t, deps, enums.TransactionPurposePushFee, func(txn *models.Transaction) {
		txn.ReferenceID = &pushListing
	})

	attempted, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, attempted)

	require.Len(t, deps.posts.boosts, 1)
	assert.Equal(t, boostListing, deps.posts.boosts[0].ListingID)
	require.Len(t, deps.posts.pushes, 1)
	assert.Equal(t, pushListing, deps.posts.pushes[0])
}

func TestService_ProcessBatchRecoversAbandonedClaim(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	pkgID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposeMembership, func(txn *models.Transaction) {
		txn.PackageID = &pkgID
	})

	// A worker claimed the activation past the lease horizon and never
	// finished. Without the reclaim sweep the paid membership would stay
	// stuck in processing forever.
	activation, err := deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	ok, err := deps.repo.Claim(ctx, activation.ID, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	attempted, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	require.Len(t, deps.members.activations, 1)
	activation, err = deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ActivationStatusDone, activation.Status)
}

func TestService_FailedAttemptReschedulesThenDies(t *testing.T) {
	svc, deps := newTestDispatcher(t, 2)
	ctx := context.Background()

	pkgID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposeMembership, func(txn *models.Transaction) {
		txn.PackageID = &pkgID
	})
	deps.members.activateErr = apperrors.New(apperrors.CodeInternal, "membership store down")

	attempted, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	activation, err := deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ActivationStatusPending, activation.Status)
	assert.Equal(t, 1, activation.AttemptCount)
	require.NotNil(t, activation.LastError)

	// Pull the retry forward and exhaust the final attempt.
	require.NoError(t, deps.gdb.Model(&models.Activation{}).
		Where("id = ?", activation.ID).
		UpdateColumn("next_attempt_at", time.Now().Add(-time.Second)).Error)

	attempted, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	activation, err = deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ActivationStatusDead, activation.Status)
	assert.Equal(t, 2, activation.AttemptCount)
}

func TestService_ActivationForPendingTransactionFails(t *testing.T) {
	svc, deps := newTestDispatcher(t, 10)
	ctx := context.Background()

	pkgID := uuid.New()
	txn := seedCompleted(t, deps, enums.TransactionPurposeMembership, func(txn *models.Transaction) {
		txn.PackageID = &pkgID
		txn.Status = enums.TransactionStatusPending
		txn.CompletedAt = nil
	})

	require.NoError(t, svc.Dispatch(ctx, txn.ID))

	activation, err := deps.repo.FindByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ActivationStatusPending, activation.Status)
	assert.Empty(t, deps.members.activations)
}
