package quotas

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartrent/smartrent-backend/pkg/db/models"
	"github.com/smartrent/smartrent-backend/pkg/enums"
)

func setupQuotasTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:quotas_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS quota_balances (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  benefit TEXT NOT NULL,
  source_key TEXT NOT NULL,
  granted INTEGER NOT NULL,
  used INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  expires_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT uq_quota_user_benefit_source UNIQUE (user_id, benefit, source_key)
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

func seedBalance(t *testing.T, conn *gorm.DB, userID uuid.UUID, benefit enums.BenefitType, granted, used int, expiresAt time.Time) *models.QuotaBalance {
	t.Helper()
	balance := &models.QuotaBalance{
		ID:        uuid.New(),
		UserID:    userID,
		Benefit:   benefit,
		SourceKey: uuid.NewString(),
		Granted:   granted,
		Used:      used,
		Status:    enums.QuotaStatusActive,
		ExpiresAt: expiresAt,
	}
	require.NoError(t, conn.Create(balance).Error)
	return balance
}

func TestRepositoryInsertDuplicateGrantKey(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	userID := uuid.New()
	balance := &models.QuotaBalance{
		UserID:    userID,
		Benefit:   enums.BenefitTypeBoost,
		SourceKey: "txn-1",
		Granted:   6,
		Status:    enums.QuotaStatusActive,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, repo.Insert(ctx, balance))
	assert.NotEqual(t, uuid.Nil, balance.ID)

	dup := &models.QuotaBalance{
		UserID:    userID,
		Benefit:   enums.BenefitTypeBoost,
		SourceKey: "txn-1",
		Granted:   6,
		Status:    enums.QuotaStatusActive,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	err := repo.Insert(ctx, dup)
	require.Error(t, err)

	found, err := repo.FindByGrantKey(ctx, userID, enums.BenefitTypeBoost, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, balance.ID, found.ID)
}

func TestRepositoryConsumeRowGuard(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now()

	balance := seedBalance(t, conn, uuid.New(), enums.BenefitTypePush, 3, 0, now.Add(time.Hour))

	won, err := repo.ConsumeRow(ctx, balance.ID, 2, now)
	require.NoError(t, err)
	assert.True(t, won)

	// Only one unit left; a two-unit consume must lose the guard.
	won, err = repo.ConsumeRow(ctx, balance.ID, 2, now)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = repo.ConsumeRow(ctx, balance.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, won)

	var reloaded models.QuotaBalance
	require.NoError(t, conn.First(&reloaded, "id = ?", balance.ID).Error)
	assert.Equal(t, 3, reloaded.Used)
}

func TestRepositoryConsumeRowRejectsExpired(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now()

	balance := seedBalance(t, conn, uuid.New(), enums.BenefitTypeBoost, 5, 0, now.Add(-time.Minute))

	won, err := repo.ConsumeRow(ctx, balance.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRepositoryExpireDue(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now()

	userID := uuid.New()
	seedBalance(t, conn, userID, enums.BenefitTypeBoost, 5, 0, now.Add(-time.Minute))
	live := seedBalance(t, conn, userID, enums.BenefitTypePush, 5, 0, now.Add(time.Hour))

	expired, err := repo.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	active, err := repo.ListActive(ctx, userID, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)
}

func TestRepositoryListConsumableSkipsDrained(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now()

	userID := uuid.New()
	seedBalance(t, conn, userID, enums.BenefitTypeBoost, 2, 2, now.Add(time.Hour))
	open := seedBalance(t, conn, userID, enums.BenefitTypeBoost, 2, 1, now.Add(2*time.Hour))

	consumable, err := repo.ListConsumable(ctx, userID, enums.BenefitTypeBoost, now)
	require.NoError(t, err)
	require.Len(t, consumable, 1)
	assert.Equal(t, open.ID, consumable[0].ID)
}

func TestRepositoryExpireBySource(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := uuid.New()

	cohort := seedBalance(t, conn, userID, enums.BenefitTypePush, 10, 2, time.Now().Add(24*time.Hour))
	other := seedBalance(t, conn, userID, enums.BenefitTypeBoost, 3, 0, time.Now().Add(24*time.Hour))

	expired, err := repo.ExpireBySource(ctx, cohort.SourceKey, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	var got models.QuotaBalance
	require.NoError(t, conn.First(&got, "id = ?", cohort.ID).Error)
	assert.Equal(t, enums.QuotaStatusExpired, got.Status)

	var gotOther models.QuotaBalance
	require.NoError(t, conn.First(&gotOther, "id = ?", other.ID).Error)
	assert.Equal(t, enums.QuotaStatusActive, gotOther.Status)
}

func TestRepositoryFindByIDs(t *testing.T) {
	conn := setupQuotasTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := uuid.New()

	later := seedBalance(t, conn, userID, enums.BenefitTypePush, 5, 0, time.Now().Add(48*time.Hour))
	sooner := seedBalance(t, conn, userID, enums.BenefitTypePush, 5, 0, time.Now().Add(24*time.Hour))

	balances, err := repo.FindByIDs(ctx, []uuid.UUID{later.ID, sooner.ID})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, sooner.ID, balances[0].ID, "soonest expiry first")
	assert.Equal(t, later.ID, balances[1].ID)
}

func TestRepositoryConsumeRowConcurrentSingleWinner(t *testing.T) {
	conn := setupQuotasTestDB(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// One connection serializes access to the shared in-memory database
	// while the goroutines still race for the guard.
	sqlDB.SetMaxOpenConns(1)

	repo := NewRepository(conn)
	ctx := context.Background()
	balance := seedBalance(t, conn, uuid.New(), enums.BenefitTypePush, 1, 0, time.Now().Add(time.Hour))

	const callers = 8
	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			won, consumeErr := repo.ConsumeRow(ctx, balance.ID, 1, time.Now())
			if consumeErr != nil {
				t.Errorf("ConsumeRow error: %v", consumeErr)
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one consumer may take the last unit")

	var got models.QuotaBalance
	require.NoError(t, conn.First(&got, "id = ?", balance.ID).Error)
	assert.Equal(t, 1, got.Used)
}
