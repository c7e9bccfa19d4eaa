package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// Staging item statuses. A row starts pending and moves exactly once:
// status-conditioned updates guarantee the first valid transition wins and
// later attempts on the same row become no-ops.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
)

// StagingItem wraps one ParsedEntry inside a batch. temp_id is 1-based,
// assigned at creation in input order, and never renumbered; it is the handle
// the user (and the instruction interpreter) refers to.
type StagingItem struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	BatchID     string    `json:"batch_id"`
	TempID      int       `json:"temp_id"`
	EntryJSON   string    `json:"-"`
	IsDuplicate bool      `json:"is_duplicate"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry deserializes the staged candidate record.
func (s *StagingItem) Entry() (models.ParsedEntry, error) {
	return models.UnmarshalEntry([]byte(s.EntryJSON))
}

func (s *StagingItem) Insert(ctx context.Context, db DBTX) error {
	s.CreatedAt = time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO staging_items (user_id, batch_id, temp_id, entry_json, is_duplicate, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.UserID, s.BatchID, s.TempID, s.EntryJSON, s.IsDuplicate, s.Status, s.CreatedAt)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

const stagingColumns = `id, user_id, batch_id, temp_id, entry_json, is_duplicate, status, created_at`

func scanStagingItems(rows *sql.Rows) ([]StagingItem, error) {
	var items []StagingItem
	for rows.Next() {
		var item StagingItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.BatchID, &item.TempID,
			&item.EntryJSON, &item.IsDuplicate, &item.Status, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetBatchItems returns every row of a (user, batch) pair regardless of
// status, ordered by temp_id. An unknown batch id yields an empty slice, not
// an error.
func GetBatchItems(ctx context.Context, db DBTX, userID int64, batchID string) ([]StagingItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_items
		 WHERE user_id = ? AND batch_id = ? ORDER BY temp_id`, userID, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStagingItems(rows)
}

// GetPendingBatchItems returns only the still-pending rows, ordered by
// temp_id for deterministic promotion order.
func GetPendingBatchItems(ctx context.Context, db DBTX, userID int64, batchID string) ([]StagingItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_items
		 WHERE user_id = ? AND batch_id = ? AND status = ? ORDER BY temp_id`,
		userID, batchID, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStagingItems(rows)
}

// GetPendingItem resolves a single temp_id, but only while the row is still
// pending. Returns nil when the row is absent or already transitioned, so
// stale targets degrade to no-ops at the call site.
func GetPendingItem(ctx context.Context, db DBTX, userID int64, batchID string, tempID int) (*StagingItem, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_items
		 WHERE user_id = ? AND batch_id = ? AND temp_id = ? AND status = ?`,
		userID, batchID, tempID, StatusPending)

	var item StagingItem
	err := row.Scan(&item.ID, &item.UserID, &item.BatchID, &item.TempID,
		&item.EntryJSON, &item.IsDuplicate, &item.Status, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// TransitionStatus moves one row from fromStatus to toStatus. The update is
// conditioned on the current status (compare-and-swap), so a row already
// moved by a racing actor is simply not matched. Returns whether the
// transition happened.
func TransitionStatus(ctx context.Context, db DBTX, userID int64, batchID string, tempID int, fromStatus, toStatus string) (bool, error) {
	res, err := db.ExecContext(ctx, `
	UPDATE staging_items SET status = ?
	WHERE user_id = ? AND batch_id = ? AND temp_id = ? AND status = ?`,
		toStatus, userID, batchID, tempID, fromStatus)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// RejectItems marks the targeted rows rejected, whatever their current
// status. An already-created ledger entry is never touched here.
func RejectItems(ctx context.Context, db DBTX, userID int64, batchID string, tempIDs []int) error {
	if len(tempIDs) == 0 {
		return nil
	}
	query := `UPDATE staging_items SET status = ? WHERE user_id = ? AND batch_id = ? AND temp_id IN (?`
	args := []any{StatusRejected, userID, batchID, tempIDs[0]}
	for _, id := range tempIDs[1:] {
		query += ",?"
		args = append(args, id)
	}
	query += ")"
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// RejectBatch forces every row of the batch to rejected (full-batch abort).
func RejectBatch(ctx context.Context, db DBTX, userID int64, batchID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE staging_items SET status = ? WHERE user_id = ? AND batch_id = ?`,
		StatusRejected, userID, batchID)
	return err
}

// UpdateEntryJSON rewrites the staged blob, but only while the row is still
// pending.
func (s *StagingItem) UpdateEntryJSON(ctx context.Context, db DBTX, entryJSON string) error {
	_, err := db.ExecContext(ctx, `
	UPDATE staging_items SET entry_json = ?
	WHERE user_id = ? AND batch_id = ? AND temp_id = ? AND status = ?`,
		entryJSON, s.UserID, s.BatchID, s.TempID, StatusPending)
	if err != nil {
		return err
	}
	s.EntryJSON = entryJSON
	return nil
}

// ExpirePendingOlderThan transitions pending rows created before cutoff to
// expired. Idempotent, and safe against concurrent confirmations: rows a
// racing confirm already moved out of pending are no longer matched.
func ExpirePendingOlderThan(ctx context.Context, db DBTX, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
	UPDATE staging_items SET status = ?
	WHERE status = ? AND created_at < ?`,
		StatusExpired, StatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
