package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunnywifi/ledgerline/backend/src/fingerprint"
	"github.com/sunnywifi/ledgerline/backend/src/model"
	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// Auditor annotates candidate entries with their dedup fingerprint and a
// duplicate flag against the permanent ledger. It flags only; whether a
// flagged duplicate still gets confirmed is the user's call downstream.
type Auditor struct {
	db *sql.DB
}

func NewAuditor(db *sql.DB) *Auditor {
	return &Auditor{db: db}
}

// AuditBatch computes the fingerprint for every entry and checks it against
// existing ledger rows for the user. Entries are mutated in place. Each entry
// is processed independently; an empty batch returns immediately.
func (a *Auditor) AuditBatch(ctx context.Context, userID int64, entries []models.ParsedEntry) ([]models.ParsedEntry, error) {
	for i := range entries {
		fp := fingerprint.Generate(userID, entries[i].Date, entries[i].Amount,
			entries[i].Remark, entries[i].Payee)
		entries[i].Fingerprint = fp

		exists, err := model.ExpenseExistsByFingerprint(ctx, a.db, userID, fp)
		if err != nil {
			return nil, fmt.Errorf("auditor: fingerprint lookup failed: %w", err)
		}
		entries[i].IsDuplicate = exists
	}
	return entries, nil
}
