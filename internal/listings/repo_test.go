package listings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

func setupListingDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:listings_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, gdb.Exec(`
		CREATE TABLE listings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			vip_type TEXT NOT NULL DEFAULT 'normal',
			posted_at DATETIME,
			posted_until DATETIME,
			pushed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`).Error)
	require.NoError(t, gdb.Exec(`
		CREATE TABLE listing_boosts (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			transaction_id TEXT,
			starts_at DATETIME NOT NULL,
			ends_at DATETIME NOT NULL,
			created_at DATETIME,
			CONSTRAINT uq_listing_boost_txn UNIQUE (transaction_id)
		)`).Error)
	return gdb
}

func seedListing(t *testing.T, gdb *gorm.DB, userID uuid.UUID) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:     uuid.New(),
		UserID: userID,
		Title:  "Studio near District 1",
	}
	require.NoError(t, gdb.Create(listing).Error)
	return listing
}

func TestRepository_UpdateVisibility(t *testing.T) {
	gdb := setupListingDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	listing := seedListing(t, gdb, uuid.New())
	postedAt := time.Now().UTC().Truncate(time.Second)
	postedUntil := postedAt.AddDate(0, 0, 15)

	require.NoError(t, repo.UpdateVisibility(ctx, listing.ID, enums.VipTypeGold, postedAt, postedUntil))

	got, err := repo.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.VipTypeGold, got.VipType)
	require.NotNil(t, got.PostedUntil)
	assert.WithinDuration(t, postedUntil, *got.PostedUntil, time.Second)
}

func TestRepository_InsertBoostRejectsDuplicateTransaction(t *testing.T) {
	gdb := setupListingDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	userID := uuid.New()
	listing := seedListing(t, gdb, userID)
	txnID := uuid.New()
	now := time.Now().UTC()

	first := &models.ListingBoost{
		ListingID:     listing.ID,
		UserID:        userID,
		TransactionID: &txnID,
		StartsAt:      now,
		EndsAt:        now.Add(DefaultBoostWindow),
	}
	require.NoError(t, repo.InsertBoost(ctx, first))

	replay := &models.ListingBoost{
		ListingID:     listing.ID,
		UserID:        userID,
		TransactionID: &txnID,
		StartsAt:      now,
		EndsAt:        now.Add(DefaultBoostWindow),
	}
	err := repo.InsertBoost(ctx, replay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")

	found, err := repo.FindBoostByTransactionID(ctx, txnID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestRepository_ActiveBoost(t *testing.T) {
	gdb := setupListingDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	userID := uuid.New()
	listing := seedListing(t, gdb, userID)
	now := time.Now().UTC()

	expiredTxn := uuid.New()
	require.NoError(t, repo.InsertBoost(ctx, &models.ListingBoost{
		ListingID:     listing.ID,
		UserID:        userID,
		TransactionID: &expiredTxn,
		StartsAt:      now.Add(-10 * 24 * time.Hour),
		EndsAt:        now.Add(-3 * 24 * time.Hour),
	}))

	_, err := repo.ActiveBoost(ctx, listing.ID, now)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	liveTxn := uuid.New()
	live := &models.ListingBoost{
		ListingID:     listing.ID,
		UserID:        userID,
		TransactionID: &liveTxn,
		StartsAt:      now.Add(-time.Hour),
		EndsAt:        now.Add(6 * 24 * time.Hour),
	}
	require.NoError(t, repo.InsertBoost(ctx, live))

	got, err := repo.ActiveBoost(ctx, listing.ID, now)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}

func TestRepository_Touch(t *testing.T) {
	gdb := setupListingDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()

	listing := seedListing(t, gdb, uuid.New())
	pushedAt := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Touch(ctx, listing.ID, pushedAt))

	got, err := repo.Get(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PushedAt)
	assert.WithinDuration(t, pushedAt, *got.PushedAt, time.Second)
}
