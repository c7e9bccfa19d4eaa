// backend/src/testutil/database.go
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunnywifi/ledgerline/backend/src/database"
	"github.com/sunnywifi/ledgerline/backend/src/logger"
	"github.com/sunnywifi/ledgerline/backend/src/model"
)

func init() {
	logger.InitLogger("error")
}

// NewTestDB opens a throwaway sqlite database under t.TempDir with the full
// schema applied. The connection is closed on test cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db, path))
	return db
}

// SeedUser inserts a minimal user row and returns its id.
func SeedUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()

	user := &model.User{
		Username:     username,
		PasswordHash: "x",
		APIKey:       "test-api-key-" + username,
	}
	require.NoError(t, user.CreateUser(context.Background(), db))
	return user.ID
}

// SeedCategory inserts a category with the given keyword CSV and returns it.
func SeedCategory(t *testing.T, db *sql.DB, userID int64, main, sub, keywords string) *model.Category {
	t.Helper()

	c := &model.Category{UserID: userID, MainName: main, SubName: sub, Keywords: keywords}
	require.NoError(t, c.Create(context.Background(), db))
	return c
}
