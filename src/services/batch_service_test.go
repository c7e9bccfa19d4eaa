package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunnywifi/ledgerline/backend/src/fingerprint"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
	"github.com/sunnywifi/ledgerline/backend/src/testutil"
)

type batchFixture struct {
	db      *sql.DB
	userID  int64
	staging *StagingService
	batches *BatchService
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	testutil.SeedCategory(t, db, userID, "餐饮", "外卖", "美团")
	testutil.SeedCategory(t, db, userID, "餐饮", "食材采购", "")
	testutil.SeedCategory(t, db, userID, "交通", "充值", "")
	testutil.SeedCategory(t, db, userID, "其他", "", "")
	return &batchFixture{
		db:      db,
		userID:  userID,
		staging: NewStagingService(db),
		batches: NewBatchService(db, NewCategoryLearner()),
	}
}

func (f *batchFixture) stage(t *testing.T, entries []models.ParsedEntry) string {
	t.Helper()
	batchID, err := f.staging.CreateBatch(context.Background(), f.userID, entries)
	require.NoError(t, err)
	return batchID
}

func (f *batchFixture) mealEntries() []models.ParsedEntry {
	return []models.ParsedEntry{
		{Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", SubCategory: "外卖", Remark: "麦当劳"},
		{Date: "2025-05-01", Amount: 50.50, MainCategory: "餐饮", SubCategory: "食材采购", Remark: "买菜"},
		{Date: "2025-05-01", Amount: 100.00, MainCategory: "其他", Remark: "手机充值"},
	}
}

func (f *batchFixture) expenses(t *testing.T) []model.Expense {
	t.Helper()
	expenses, err := model.ListAllExpenses(context.Background(), f.db, f.userID, model.ExpenseFilter{})
	require.NoError(t, err)
	return expenses
}

func (f *batchFixture) itemStatuses(t *testing.T, batchID string) []string {
	t.Helper()
	bctx, err := f.staging.GetBatchContext(context.Background(), f.userID, batchID)
	require.NoError(t, err)
	statuses := make([]string, len(bctx.Items))
	for i, item := range bctx.Items {
		statuses[i] = item.Status
	}
	return statuses
}

func TestConfirmAllPromotesEveryPendingItem(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	count, err := f.batches.ConfirmAll(context.Background(), f.userID, batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expenses := f.expenses(t)
	require.Len(t, expenses, 3)
	total := 0.0
	for _, e := range expenses {
		total += e.Amount
		assert.Equal(t, SourceDirect, e.SourceChannel)
		assert.NotEmpty(t, e.Fingerprint)
	}
	assert.InDelta(t, 185.50, total, 0.001)

	assert.Equal(t, []string{
		model.StatusConfirmed, model.StatusConfirmed, model.StatusConfirmed,
	}, f.itemStatuses(t, batchID))
}

func TestConfirmAllFeedsKeywordLearning(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	_, err := f.batches.ConfirmAll(context.Background(), f.userID, batchID)
	require.NoError(t, err)

	c, err := model.GetCategoryByName(context.Background(), f.db, f.userID, "餐饮", "外卖")
	require.NoError(t, err)
	assert.Contains(t, c.KeywordList(), "麦当劳")
}

func TestConfirmAllIsIdempotentPerItem(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	count, err := f.batches.ConfirmAll(context.Background(), f.userID, batchID)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// nothing is pending anymore, so a repeat call confirms zero items
	count, err = f.batches.ConfirmAll(context.Background(), f.userID, batchID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, f.expenses(t), 3)
}

func TestConfirmAllRollsBackOnFingerprintConflict(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	// item 2 already lives in the ledger
	dup := models.ParsedEntry{Date: "2025-05-01", Amount: 50.50, MainCategory: "餐饮", SubCategory: "食材采购", Remark: "买菜"}
	dup.Fingerprint = fingerprint.Generate(f.userID, dup.Date, dup.Amount, dup.Remark, dup.Payee)
	require.NoError(t, model.ExpenseFromEntry(f.userID, dup, SourceDirect).Insert(ctx, f.db))

	batchID := f.stage(t, f.mealEntries())

	_, err := f.batches.ConfirmAll(ctx, f.userID, batchID)
	require.Error(t, err)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, appErr.Code)

	// the whole transaction rolled back: ledger unchanged, batch untouched
	assert.Len(t, f.expenses(t), 1)
	assert.Equal(t, []string{
		model.StatusPending, model.StatusPending, model.StatusPending,
	}, f.itemStatuses(t, batchID))
}

func TestApplyActionsConfirmAndModify(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	batchID := f.stage(t, f.mealEntries())

	amount := 120.0
	mainCategory := "交通"
	subCategory := "充值"
	actions := []models.Action{
		{Type: models.ActionConfirm, Targets: []int{1, 2}},
		{Type: models.ActionModify, Targets: []int{3}, Modifications: &models.EntryPatch{
			Amount:       &amount,
			MainCategory: &mainCategory,
			SubCategory:  &subCategory,
		}},
	}
	require.NoError(t, f.batches.ApplyActions(ctx, f.userID, batchID, actions))

	assert.Equal(t, []string{
		model.StatusConfirmed, model.StatusConfirmed, model.StatusPending,
	}, f.itemStatuses(t, batchID))
	assert.Len(t, f.expenses(t), 2)

	bctx, err := f.staging.GetBatchContext(ctx, f.userID, batchID)
	require.NoError(t, err)
	modified := bctx.Items[2].Entry
	assert.Equal(t, 120.0, modified.Amount)
	assert.Equal(t, "交通", modified.MainCategory)
	assert.Equal(t, "充值", modified.SubCategory)
	assert.Equal(t, fingerprint.Generate(f.userID, modified.Date, 120.0, modified.Remark, modified.Payee),
		modified.Fingerprint)

	// finish the batch: the modified item promotes with its new values
	count, err := f.batches.ConfirmAll(ctx, f.userID, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expenses := f.expenses(t)
	require.Len(t, expenses, 3)
	var promoted *model.Expense
	for i := range expenses {
		if expenses[i].Remark == "手机充值" {
			promoted = &expenses[i]
		}
	}
	require.NotNil(t, promoted)
	assert.Equal(t, 120.0, promoted.Amount)
	assert.Equal(t, "交通", promoted.MainCategory)
}

func TestApplyActionsDeleteRejectsItems(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	require.NoError(t, f.batches.ApplyActions(context.Background(), f.userID, batchID, []models.Action{
		{Type: models.ActionDelete, Targets: []int{2}},
	}))

	assert.Equal(t, []string{
		model.StatusPending, model.StatusRejected, model.StatusPending,
	}, f.itemStatuses(t, batchID))
	assert.Empty(t, f.expenses(t))
}

func TestApplyActionsCancelAll(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	require.NoError(t, f.batches.ApplyActions(context.Background(), f.userID, batchID, []models.Action{
		{Type: models.ActionCancelAll},
	}))

	assert.Equal(t, []string{
		model.StatusRejected, model.StatusRejected, model.StatusRejected,
	}, f.itemStatuses(t, batchID))
	assert.Empty(t, f.expenses(t))
}

func TestApplyActionsSkipsStaleTargetsSilently(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	batchID := f.stage(t, f.mealEntries())

	require.NoError(t, f.batches.ApplyActions(ctx, f.userID, batchID, []models.Action{
		{Type: models.ActionDelete, Targets: []int{1}},
	}))

	// item 1 is already rejected and temp_id 99 never existed
	require.NoError(t, f.batches.ApplyActions(ctx, f.userID, batchID, []models.Action{
		{Type: models.ActionConfirm, Targets: []int{1, 2, 99}},
	}))

	assert.Equal(t, []string{
		model.StatusRejected, model.StatusConfirmed, model.StatusPending,
	}, f.itemStatuses(t, batchID))
	assert.Len(t, f.expenses(t), 1)
}

func TestApplyActionsRejectsInvalidActionsUpFront(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	err := f.batches.ApplyActions(context.Background(), f.userID, batchID, []models.Action{
		{Type: models.ActionConfirm, Targets: []int{1}},
		{Type: "promote", Targets: []int{2}},
	})
	require.Error(t, err)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, appErr.Code)

	// validation happens before any work: item 1 stays pending
	assert.Equal(t, []string{
		model.StatusPending, model.StatusPending, model.StatusPending,
	}, f.itemStatuses(t, batchID))
}

func TestApplyActionsAtomicOnMidListConflict(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	dup := models.ParsedEntry{Date: "2025-05-01", Amount: 100.00, MainCategory: "其他", Remark: "手机充值"}
	dup.Fingerprint = fingerprint.Generate(f.userID, dup.Date, dup.Amount, dup.Remark, dup.Payee)
	require.NoError(t, model.ExpenseFromEntry(f.userID, dup, SourceDirect).Insert(ctx, f.db))

	batchID := f.stage(t, f.mealEntries())

	// items 1 and 2 would promote fine, item 3 conflicts: nothing may land
	err := f.batches.ApplyActions(ctx, f.userID, batchID, []models.Action{
		{Type: models.ActionConfirm, Targets: []int{1, 2, 3}},
	})
	require.Error(t, err)

	assert.Len(t, f.expenses(t), 1)
	assert.Equal(t, []string{
		model.StatusPending, model.StatusPending, model.StatusPending,
	}, f.itemStatuses(t, batchID))
}

func TestRejectAll(t *testing.T) {
	f := newBatchFixture(t)
	batchID := f.stage(t, f.mealEntries())

	require.NoError(t, f.batches.RejectAll(context.Background(), f.userID, batchID))
	assert.Equal(t, []string{
		model.StatusRejected, model.StatusRejected, model.StatusRejected,
	}, f.itemStatuses(t, batchID))
}

func TestInstructionScenarioEndToEnd(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	batchID := f.stage(t, f.mealEntries())

	interpreter := NewInstructionParser(newMockLLMParser())
	bctx, err := f.staging.GetBatchContext(ctx, f.userID, batchID)
	require.NoError(t, err)

	actions, err := interpreter.Interpret(ctx, "1和2确认，第3条改成120元交通充值", bctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.NoError(t, f.batches.ApplyActions(ctx, f.userID, batchID, actions))

	bctx, err = f.staging.GetBatchContext(ctx, f.userID, batchID)
	require.NoError(t, err)
	actions, err = interpreter.Interpret(ctx, "全部确认", bctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NoError(t, f.batches.ApplyActions(ctx, f.userID, batchID, actions))

	expenses := f.expenses(t)
	require.Len(t, expenses, 3)
	assert.Equal(t, []string{
		model.StatusConfirmed, model.StatusConfirmed, model.StatusConfirmed,
	}, f.itemStatuses(t, batchID))
}
