package transactions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

func setupTransactionDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:transactions_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, gdb.Exec(`
		CREATE TABLE transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			provider TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL DEFAULT 'VND',
			reference_id TEXT,
			package_id TEXT,
			provider_ref TEXT,
			provider_txn_id TEXT,
			provider_code TEXT,
			failure_reason TEXT,
			pricing_snapshot TEXT,
			expires_at DATETIME NOT NULL,
			completed_at DATETIME,
			refunded_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`).Error)
	require.NoError(t, gdb.Exec(`
		CREATE TABLE activations (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_attempt_at DATETIME NOT NULL,
			last_error TEXT,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			CONSTRAINT uq_activation_txn UNIQUE (transaction_id)
		)`).Error)
	require.NoError(t, gdb.Exec(`
		CREATE TABLE provider_events (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_code TEXT NOT NULL,
			provider_ref TEXT,
			outcome TEXT NOT NULL,
			payload TEXT,
			created_at DATETIME
		)`).Error)
	return gdb
}

func seedPendingTransaction(t *testing.T, repo Repository, expiresAt time.Time) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		UserID:    uuid.New(),
		Purpose:   enums.TransactionPurposePostFee,
		Status:    enums.TransactionStatusPending,
		Provider:  enums.PaymentProviderVNPay,
		Amount:    decimal.NewFromInt(110000),
		Currency:  "VND",
		ExpiresAt: expiresAt,
	}
	require.NoError(t, repo.Insert(context.Background(), txn))
	return txn
}

func TestRepository_UpdateStatusSingleWinner(t *testing.T) {
	gdb := setupTransactionDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	txn := seedPendingTransaction(t, repo, time.Now().Add(time.Hour))

	won, err := repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusCompleted,
		map[string]any{"completed_at": time.Now()})
	require.NoError(t, err)
	assert.True(t, won)

	// The losing callback observes zero affected rows.
	won, err = repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, got.Status)
}

func TestRepository_UpdateStatusConcurrentCallbacks(t *testing.T) {
	gdb := setupTransactionDB(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// One connection serializes access to the shared in-memory database
	// while the goroutines still race for the pending transition.
	sqlDB.SetMaxOpenConns(1)

	repo := NewRepository(gdb)
	ctx := context.Background()
	txn := seedPendingTransaction(t, repo, time.Now().Add(time.Hour))

	const callbacks = 8
	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callbacks)
	for i := 0; i < callbacks; i++ {
		go func() {
			defer wg.Done()
			won, casErr := repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusCompleted,
				map[string]any{"completed_at": time.Now()})
			if casErr != nil {
				t.Errorf("UpdateStatus error: %v", casErr)
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one callback may settle the row")

	got, err := repo.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, got.Status)
}

func TestRepository_InsertActivationRejectsDuplicateTransaction(t *testing.T) {
	gdb := setupTransactionDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	txn := seedPendingTransaction(t, repo, time.Now().Add(time.Hour))

	first := &models.Activation{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Purpose:       txn.Purpose,
		Status:        enums.ActivationStatusPending,
		NextAttemptAt: time.Now(),
	}
	require.NoError(t, repo.InsertActivation(ctx, first))

	replay := &models.Activation{
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		Purpose:       txn.Purpose,
		Status:        enums.ActivationStatusPending,
		NextAttemptAt: time.Now(),
	}
	err := repo.InsertActivation(ctx, replay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestRepository_ListExpiredPending(t *testing.T) {
	gdb := setupTransactionDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	now := time.Now()
	oldest := seedPendingTransaction(t, repo, now.Add(-time.Hour))
	stale := seedPendingTransaction(t, repo, now.Add(-time.Minute))
	seedPendingTransaction(t, repo, now.Add(time.Hour))

	due, err := repo.ListExpiredPending(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, oldest.ID, due[0].ID)
	assert.Equal(t, stale.ID, due[1].ID)

	due, err = repo.ListExpiredPending(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, oldest.ID, due[0].ID)
}

func TestRepository_ListFiltersByPurpose(t *testing.T) {
	gdb := setupTransactionDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	userID := uuid.New()
	for _, purpose := range []enums.TransactionPurpose{
		enums.TransactionPurposeMembership,
		enums.TransactionPurposePostFee,
		enums.TransactionPurposePostFee,
	} {
		require.NoError(t, repo.Insert(ctx, &models.Transaction{
			UserID:    userID,
			Purpose:   purpose,
			Status:    enums.TransactionStatusPending,
			Provider:  enums.PaymentProviderVNPay,
			Amount:    decimal.NewFromInt(50000),
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	postFee := enums.TransactionPurposePostFee
	txns, err := repo.List(ctx, userID, ListFilter{Purpose: &postFee})
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	txns, err = repo.List(ctx, uuid.New(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestRepository_GetByProviderRef(t *testing.T) {
	gdb := setupTransactionDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	txn := seedPendingTransaction(t, repo, time.Now().Add(time.Hour))
	won, err := repo.UpdateStatus(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusPending,
		map[string]any{"provider_ref": "VNP12345"})
	require.NoError(t, err)
	require.True(t, won)

	got, err := repo.GetByProviderRef(ctx, enums.PaymentProviderVNPay, "VNP12345")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)

	_, err = repo.GetByProviderRef(ctx, enums.PaymentProviderMoMo, "VNP12345")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
