package model

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sunnywifi/ledgerline/backend/src/models"
)

// Expense is a permanent ledger row. Rows are immutable once written except
// through the explicit user edit path; (user_id, fingerprint) is unique and
// is the storage-level dedup contract.
type Expense struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Date          string    `json:"date"`
	Amount        float64   `json:"amount"`
	MainCategory  string    `json:"main_category"`
	SubCategory   string    `json:"sub_category,omitempty"`
	Payee         string    `json:"payee,omitempty"`
	Remark        string    `json:"remark,omitempty"`
	Consumer      string    `json:"consumer,omitempty"`
	IsEssential   int       `json:"is_essential"`
	LinkedAsset   string    `json:"linked_asset,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	SourceChannel string    `json:"source_channel,omitempty"`
	OriginalInput string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsUniqueConstraintErr reports whether err is a sqlite UNIQUE violation,
// which on the expenses table means a fingerprint conflict.
func IsUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ExpenseFromEntry builds a ledger row out of a staged entry. sourceChannel
// records whether the promotion came from a direct confirmation or an
// instruction-driven one.
func ExpenseFromEntry(userID int64, e models.ParsedEntry, sourceChannel string) *Expense {
	return &Expense{
		UserID:        userID,
		Date:          e.Date,
		Amount:        e.Amount,
		MainCategory:  e.MainCategory,
		SubCategory:   e.SubCategory,
		Payee:         e.Payee,
		Remark:        e.Remark,
		Consumer:      e.Consumer,
		IsEssential:   e.IsEssential,
		LinkedAsset:   e.LinkedAsset,
		Fingerprint:   e.Fingerprint,
		SourceChannel: sourceChannel,
	}
}

func (e *Expense) Insert(ctx context.Context, db DBTX) error {
	e.CreatedAt = time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO expenses (user_id, date, amount, main_category, sub_category, payee,
	                      remark, consumer, is_essential, linked_asset, fingerprint,
	                      source_channel, original_input, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Date, e.Amount, e.MainCategory, e.SubCategory, e.Payee,
		e.Remark, e.Consumer, e.IsEssential, e.LinkedAsset, e.Fingerprint,
		e.SourceChannel, e.OriginalInput, e.CreatedAt)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ExpenseExistsByFingerprint is the point lookup behind duplicate flagging.
func ExpenseExistsByFingerprint(ctx context.Context, db DBTX, userID int64, fp string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expenses WHERE user_id = ? AND fingerprint = ?`,
		userID, fp).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExpenseFilter narrows listing and export queries.
type ExpenseFilter struct {
	StartDate    string
	EndDate      string
	MainCategory string
	Payee        string
	Keyword      string
}

func (f ExpenseFilter) whereClause(userID int64) (string, []any) {
	where := "WHERE user_id = ?"
	args := []any{userID}
	if f.StartDate != "" {
		where += " AND date >= ?"
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		where += " AND date <= ?"
		args = append(args, f.EndDate)
	}
	if f.MainCategory != "" {
		where += " AND main_category = ?"
		args = append(args, f.MainCategory)
	}
	if f.Payee != "" {
		where += " AND payee = ?"
		args = append(args, f.Payee)
	}
	if f.Keyword != "" {
		where += " AND (remark LIKE ? OR payee LIKE ? OR consumer LIKE ?)"
		like := "%" + f.Keyword + "%"
		args = append(args, like, like, like)
	}
	return where, args
}

const expenseColumns = `id, user_id, date, amount, main_category, COALESCE(sub_category, ''),
	COALESCE(payee, ''), COALESCE(remark, ''), COALESCE(consumer, ''), is_essential,
	COALESCE(linked_asset, ''), fingerprint, COALESCE(source_channel, ''), created_at`

func scanExpenses(rows *sql.Rows) ([]Expense, error) {
	var expenses []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &e.Amount, &e.MainCategory,
			&e.SubCategory, &e.Payee, &e.Remark, &e.Consumer, &e.IsEssential,
			&e.LinkedAsset, &e.Fingerprint, &e.SourceChannel, &e.CreatedAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// ListExpenses returns one page of matching rows plus the total match count.
func ListExpenses(ctx context.Context, db DBTX, userID int64, filter ExpenseFilter, page, pageSize int) ([]Expense, int, error) {
	where, args := filter.whereClause(userID)

	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expenses `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses ` + where +
		` ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	return expenses, total, err
}

// ListAllExpenses returns every matching row ordered by date, for export.
func ListAllExpenses(ctx context.Context, db DBTX, userID int64, filter ExpenseFilter) ([]Expense, error) {
	where, args := filter.whereClause(userID)
	rows, err := db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses `+where+` ORDER BY date DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExpenses(rows)
}

// CategoryTotals returns per-main-category amount sums within the filter's
// date range.
func CategoryTotals(ctx context.Context, db DBTX, userID int64, filter ExpenseFilter) (map[string]float64, error) {
	where, args := ExpenseFilter{StartDate: filter.StartDate, EndDate: filter.EndDate}.whereClause(userID)
	rows, err := db.QueryContext(ctx,
		`SELECT main_category, SUM(amount) FROM expenses `+where+` GROUP BY main_category`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var category string
		var sum float64
		if err := rows.Scan(&category, &sum); err != nil {
			return nil, err
		}
		totals[category] = sum
	}
	return totals, rows.Err()
}

// SumForDatePrefix totals amounts for dates starting with prefix
// ("2026-08-" for a month, "2026-" for a year).
func SumForDatePrefix(ctx context.Context, db DBTX, userID int64, prefix string) (float64, error) {
	var total float64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE user_id = ? AND date LIKE ?`,
		userID, prefix+"%").Scan(&total)
	return total, err
}

// GetExpenseByID fetches one row scoped to the user.
func GetExpenseByID(ctx context.Context, db DBTX, userID, id int64) (*Expense, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE user_id = ? AND id = ?`, userID, id)
	var e Expense
	err := row.Scan(&e.ID, &e.UserID, &e.Date, &e.Amount, &e.MainCategory,
		&e.SubCategory, &e.Payee, &e.Remark, &e.Consumer, &e.IsEssential,
		&e.LinkedAsset, &e.Fingerprint, &e.SourceChannel, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ApplyPatch overlays a structural patch onto the row and persists it. The
// fingerprint is left untouched: edits through this path are explicit user
// corrections of an already-admitted entry, not re-admissions.
func (e *Expense) ApplyPatch(ctx context.Context, db DBTX, patch models.EntryPatch) error {
	if patch.Date != nil {
		e.Date = *patch.Date
	}
	if patch.Amount != nil {
		e.Amount = *patch.Amount
	}
	if patch.MainCategory != nil {
		e.MainCategory = *patch.MainCategory
	}
	if patch.SubCategory != nil {
		e.SubCategory = *patch.SubCategory
	}
	if patch.Payee != nil {
		e.Payee = *patch.Payee
	}
	if patch.Remark != nil {
		e.Remark = *patch.Remark
	}
	if patch.Consumer != nil {
		e.Consumer = *patch.Consumer
	}
	if patch.IsEssential != nil {
		e.IsEssential = *patch.IsEssential
	}
	if patch.LinkedAsset != nil {
		e.LinkedAsset = *patch.LinkedAsset
	}

	_, err := db.ExecContext(ctx, `
	UPDATE expenses SET date = ?, amount = ?, main_category = ?, sub_category = ?,
	                    payee = ?, remark = ?, consumer = ?, is_essential = ?, linked_asset = ?
	WHERE user_id = ? AND id = ?`,
		e.Date, e.Amount, e.MainCategory, e.SubCategory, e.Payee, e.Remark,
		e.Consumer, e.IsEssential, e.LinkedAsset, e.UserID, e.ID)
	return err
}

// DeleteExpense removes one row; returns the number of rows deleted.
func DeleteExpense(ctx context.Context, db DBTX, userID, id int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM expenses WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
