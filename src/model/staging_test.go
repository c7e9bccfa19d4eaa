package model_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
	"github.com/sunnywifi/ledgerline/backend/src/testutil"
)

func seedStagingItem(t *testing.T, db model.DBTX, userID int64, batchID string, tempID int) *model.StagingItem {
	t.Helper()
	blob, err := models.MarshalEntry(models.ParsedEntry{
		Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", Remark: "麦当劳",
	})
	require.NoError(t, err)

	item := &model.StagingItem{
		UserID:    userID,
		BatchID:   batchID,
		TempID:    tempID,
		EntryJSON: string(blob),
		Status:    model.StatusPending,
	}
	require.NoError(t, item.Insert(context.Background(), db))
	return item
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()
	seedStagingItem(t, db, userID, "b1", 1)

	ok, err := model.TransitionStatus(ctx, db, userID, "b1", 1, model.StatusPending, model.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)

	// already confirmed: the guarded update matches nothing
	ok, err = model.TransitionStatus(ctx, db, userID, "b1", 1, model.StatusPending, model.StatusRejected)
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := model.GetBatchItems(ctx, db, userID, "b1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusConfirmed, items[0].Status)
}

func TestGetPendingItemSkipsResolvedRows(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()
	seedStagingItem(t, db, userID, "b1", 1)

	item, err := model.GetPendingItem(ctx, db, userID, "b1", 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, 1, item.TempID)

	_, err = model.TransitionStatus(ctx, db, userID, "b1", 1, model.StatusPending, model.StatusConfirmed)
	require.NoError(t, err)

	item, err = model.GetPendingItem(ctx, db, userID, "b1", 1)
	require.NoError(t, err)
	assert.Nil(t, item)

	item, err = model.GetPendingItem(ctx, db, userID, "b1", 42)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestRejectItemsOnlyHitsGivenTargets(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		seedStagingItem(t, db, userID, "b1", i)
	}

	require.NoError(t, model.RejectItems(ctx, db, userID, "b1", []int{1, 3}))

	items, err := model.GetBatchItems(ctx, db, userID, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, items[0].Status)
	assert.Equal(t, model.StatusPending, items[1].Status)
	assert.Equal(t, model.StatusRejected, items[2].Status)

	// no-op on an empty target list
	require.NoError(t, model.RejectItems(ctx, db, userID, "b1", nil))
}

func TestUpdateEntryJSONGuardedOnPending(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()
	item := seedStagingItem(t, db, userID, "b1", 1)

	blob, err := models.MarshalEntry(models.ParsedEntry{Date: "2025-05-02", Amount: 120.0, MainCategory: "交通"})
	require.NoError(t, err)
	require.NoError(t, item.UpdateEntryJSON(ctx, db, string(blob)))

	items, err := model.GetBatchItems(ctx, db, userID, "b1")
	require.NoError(t, err)
	entry, err := items[0].Entry()
	require.NoError(t, err)
	assert.Equal(t, 120.0, entry.Amount)
}

func TestExpirePendingOlderThan(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()
	seedStagingItem(t, db, userID, "b1", 1)
	seedStagingItem(t, db, userID, "b1", 2)

	_, err := db.ExecContext(ctx,
		`UPDATE staging_items SET created_at = ? WHERE batch_id = ? AND temp_id = 1`,
		time.Now().Add(-time.Hour), "b1")
	require.NoError(t, err)

	expired, err := model.ExpirePendingOlderThan(ctx, db, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	items, err := model.GetBatchItems(ctx, db, userID, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, items[0].Status)
	assert.Equal(t, model.StatusPending, items[1].Status)
}
