package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User represents a local account, optionally linked to a Strava athlete
type User struct {
	Username       string
	Email          string
	StravaID       int64 // 0 means the account is not linked to Strava
	Scope          bool  // true once OAuth completed with the required scope
	PasswordHash   string
	RefreshToken   string // encrypted at rest, see crypto.TokenCipher
	AccessToken    string
	AccessTokenExp int64 // epoch seconds
	IsAdmin        bool
	CreatedAt      int64
	UpdatedAt      int64
	LastSeen       int64
}

// AuthorizedWithStrava reports whether the user completed Strava OAuth
// with the required scope
func (u *User) AuthorizedWithStrava() bool {
	return u.Scope && u.StravaID != 0
}

const userColumns = `username, email, strava_id, scope, password_hash,
	refresh_token, access_token, access_token_exp, is_admin,
	created_at, updated_at, last_seen`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.Username, &u.Email, &u.StravaID, &u.Scope, &u.PasswordHash,
		&u.RefreshToken, &u.AccessToken, &u.AccessTokenExp, &u.IsAdmin,
		&u.CreatedAt, &u.UpdatedAt, &u.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(u *User) error {
	now := time.Now().Unix()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.LastSeen = now

	_, err := db.conn.Exec(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.StravaID, u.Scope, u.PasswordHash,
		u.RefreshToken, u.AccessToken, u.AccessTokenExp, u.IsAdmin,
		u.CreatedAt, u.UpdatedAt, u.LastSeen)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username, or nil if absent
func (db *DB) GetUser(username string) (*User, error) {
	row := db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, or nil if absent
func (db *DB) GetUserByEmail(email string) (*User, error) {
	row := db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByStravaID retrieves the user linked to a Strava athlete, or nil if absent
func (db *DB) GetUserByStravaID(stravaID int64) (*User, error) {
	row := db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE strava_id = ?`, stravaID)
	return scanUser(row)
}

// UserUpdate is a partial update of known user fields. Keys are validated
// against the declared field set before anything is written.
type UserUpdate map[string]any

// userUpdateColumns maps update field names to their columns. Username and
// created_at are immutable, updated_at is maintained by UpdateUser.
var userUpdateColumns = map[string]string{
	"email":            "email",
	"strava_id":        "strava_id",
	"scope":            "scope",
	"password_hash":    "password_hash",
	"refresh_token":    "refresh_token",
	"access_token":     "access_token",
	"access_token_exp": "access_token_exp",
	"is_admin":         "is_admin",
	"last_seen":        "last_seen",
}

// UpdateUser applies a validated partial update to the named user.
// An unknown field name fails the whole update; nothing is written.
// Returns true if a user row matched.
func (db *DB) UpdateUser(username string, update UserUpdate) (bool, error) {
	if len(update) == 0 {
		return false, fmt.Errorf("empty user update")
	}

	setClauses := make([]string, 0, len(update)+1)
	args := make([]any, 0, len(update)+2)

	for field, value := range update {
		column, ok := userUpdateColumns[field]
		if !ok {
			return false, fmt.Errorf("unknown user field %q", field)
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().Unix(), username)

	query := `UPDATE users SET ` + strings.Join(setClauses, ", ") + ` WHERE username = ?`

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// RevokeStravaAccess flips scope off for the user linked to the given
// Strava athlete, used when a deauthorization event arrives.
// Returns true if a linked user was found.
func (db *DB) RevokeStravaAccess(stravaID int64) (bool, error) {
	result, err := db.conn.Exec(`
		UPDATE users
		SET scope = 0, access_token = '', access_token_exp = 0, updated_at = ?
		WHERE strava_id = ?
	`, time.Now().Unix(), stravaID)

	if err != nil {
		return false, fmt.Errorf("failed to revoke strava access: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}
