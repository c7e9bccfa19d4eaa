package model

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Category is a (main, sub) pair with a growing comma-separated keyword set
// that biases the LLM parser towards the user's own vocabulary.
type Category struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	MainName  string    `json:"main_name"`
	SubName   string    `json:"sub_name"`
	Keywords  string    `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}

// KeywordList splits the stored keyword set, dropping empty segments.
func (c *Category) KeywordList() []string {
	if c.Keywords == "" {
		return nil
	}
	parts := strings.Split(c.Keywords, ",")
	keywords := parts[:0]
	for _, p := range parts {
		if p != "" {
			keywords = append(keywords, p)
		}
	}
	return keywords
}

func GetCategories(ctx context.Context, db DBTX, userID int64) ([]Category, error) {
	rows, err := db.QueryContext(ctx, `
	SELECT id, user_id, main_name, sub_name, COALESCE(keywords, ''), created_at
	FROM categories WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.MainName, &c.SubName, &c.Keywords, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategoryByName returns the category for (user, main, sub), or nil when
// no such category exists.
func GetCategoryByName(ctx context.Context, db DBTX, userID int64, mainName, subName string) (*Category, error) {
	row := db.QueryRowContext(ctx, `
	SELECT id, user_id, main_name, sub_name, COALESCE(keywords, ''), created_at
	FROM categories WHERE user_id = ? AND main_name = ? AND sub_name = ?`,
		userID, mainName, subName)

	var c Category
	err := row.Scan(&c.ID, &c.UserID, &c.MainName, &c.SubName, &c.Keywords, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Category) UpdateKeywords(ctx context.Context, db DBTX, keywords string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE categories SET keywords = ? WHERE id = ?`, keywords, c.ID)
	if err != nil {
		return err
	}
	c.Keywords = keywords
	return nil
}

func (c *Category) Create(ctx context.Context, db DBTX) error {
	c.CreatedAt = time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO categories (user_id, main_name, sub_name, keywords, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.MainName, c.SubName, c.Keywords, c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}
