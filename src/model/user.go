package model

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	APIKey       string    `json:"api_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) HashPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

func (u *User) CreateUser(ctx context.Context, db DBTX) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	res, err := db.ExecContext(ctx, `
	INSERT INTO users (username, password_hash, api_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.APIKey, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

const userColumns = `id, username, password_hash, api_key, created_at, updated_at`

func GetUserByID(ctx context.Context, db DBTX, id int64) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func GetUserByUsername(ctx context.Context, db DBTX, username string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func GetUserByAPIKey(ctx context.Context, db DBTX, apiKey string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE api_key = ?`, apiKey))
}

func CountUsers(ctx context.Context, db DBTX) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (u *User) UpdateAPIKey(ctx context.Context, db DBTX, apiKey string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET api_key = ?, updated_at = ? WHERE id = ?`,
		apiKey, time.Now(), u.ID)
	if err != nil {
		return err
	}
	u.APIKey = apiKey
	return nil
}

type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Token        string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func CreateSession(ctx context.Context, db DBTX, session *Session) error {
	session.CreatedAt = time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO sessions (user_id, token, refresh_token, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		session.UserID, session.Token, session.RefreshToken, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = id
	return nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionColumns = `id, user_id, token, refresh_token, expires_at, created_at`

func GetSessionByToken(ctx context.Context, db DBTX, token string) (*Session, error) {
	return scanSession(db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token))
}

func GetSessionByRefreshToken(ctx context.Context, db DBTX, refreshToken string) (*Session, error) {
	return scanSession(db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = ?`, refreshToken))
}

func DeleteSessionByToken(ctx context.Context, db DBTX, token string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func DeleteSessionByRefreshToken(ctx context.Context, db DBTX, refreshToken string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_token = ?`, refreshToken)
	return err
}

// DeleteExpiredSessions clears sessions whose expiry has passed.
func DeleteExpiredSessions(ctx context.Context, db DBTX) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
