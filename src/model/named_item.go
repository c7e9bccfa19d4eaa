package model

import (
	"context"
	"time"
)

// NamedItem backs both the payees (household members) and assets (linked
// accounts) tables, which share the same (user, name) shape.
type NamedItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func listNamedItems(ctx context.Context, db DBTX, table string, userID int64) ([]NamedItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM `+table+` WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NamedItem
	for rows.Next() {
		var item NamedItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func createNamedItem(ctx context.Context, db DBTX, table string, item *NamedItem) error {
	item.CreatedAt = time.Now()
	res, err := db.ExecContext(ctx,
		`INSERT INTO `+table+` (user_id, name, created_at) VALUES (?, ?, ?)`,
		item.UserID, item.Name, item.CreatedAt)
	if err != nil {
		return err
	}
	item.ID, err = res.LastInsertId()
	return err
}

func deleteNamedItem(ctx context.Context, db DBTX, table string, userID, id int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func namedItemNames(items []NamedItem) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return names
}

func ListPayees(ctx context.Context, db DBTX, userID int64) ([]NamedItem, error) {
	return listNamedItems(ctx, db, "payees", userID)
}

func CreatePayee(ctx context.Context, db DBTX, item *NamedItem) error {
	return createNamedItem(ctx, db, "payees", item)
}

func DeletePayee(ctx context.Context, db DBTX, userID, id int64) (int64, error) {
	return deleteNamedItem(ctx, db, "payees", userID, id)
}

// PayeeNames returns just the names, for prompt building.
func PayeeNames(ctx context.Context, db DBTX, userID int64) ([]string, error) {
	items, err := ListPayees(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	return namedItemNames(items), nil
}

func ListAssets(ctx context.Context, db DBTX, userID int64) ([]NamedItem, error) {
	return listNamedItems(ctx, db, "assets", userID)
}

func CreateAsset(ctx context.Context, db DBTX, item *NamedItem) error {
	return createNamedItem(ctx, db, "assets", item)
}

func DeleteAsset(ctx context.Context, db DBTX, userID, id int64) (int64, error) {
	return deleteNamedItem(ctx, db, "assets", userID, id)
}

// AssetNames returns just the names, for prompt building.
func AssetNames(ctx context.Context, db DBTX, userID int64) ([]string, error) {
	items, err := ListAssets(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	return namedItemNames(items), nil
}
