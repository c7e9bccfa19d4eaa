package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunnywifi/ledgerline/backend/src/fingerprint"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
	"github.com/sunnywifi/ledgerline/backend/src/testutil"
)

func TestAuditBatchFlagsExistingLedgerRows(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")
	ctx := context.Background()

	existing := models.ParsedEntry{Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", Remark: "麦当劳"}
	existing.Fingerprint = fingerprint.Generate(userID, existing.Date, existing.Amount, existing.Remark, existing.Payee)
	require.NoError(t, model.ExpenseFromEntry(userID, existing, SourceDirect).Insert(ctx, db))

	auditor := NewAuditor(db)
	entries, err := auditor.AuditBatch(ctx, userID, []models.ParsedEntry{
		{Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", Remark: "麦当劳"},
		{Date: "2025-05-01", Amount: 50.50, MainCategory: "餐饮", Remark: "买菜"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].IsDuplicate)
	assert.False(t, entries[1].IsDuplicate)
	assert.Equal(t, existing.Fingerprint, entries[0].Fingerprint)
	assert.NotEmpty(t, entries[1].Fingerprint)
}

func TestAuditBatchIsUserScoped(t *testing.T) {
	db := testutil.NewTestDB(t)
	alice := testutil.SeedUser(t, db, "alice")
	bob := testutil.SeedUser(t, db, "bob")
	ctx := context.Background()

	entry := models.ParsedEntry{Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", Remark: "麦当劳"}
	entry.Fingerprint = fingerprint.Generate(alice, entry.Date, entry.Amount, entry.Remark, entry.Payee)
	require.NoError(t, model.ExpenseFromEntry(alice, entry, SourceDirect).Insert(ctx, db))

	entries, err := NewAuditor(db).AuditBatch(ctx, bob, []models.ParsedEntry{
		{Date: "2025-05-01", Amount: 35.00, MainCategory: "餐饮", Remark: "麦当劳"},
	})
	require.NoError(t, err)
	assert.False(t, entries[0].IsDuplicate)
}

func TestAuditBatchEmpty(t *testing.T) {
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "alice")

	entries, err := NewAuditor(db).AuditBatch(context.Background(), userID, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
