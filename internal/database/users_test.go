package database

import (
	"testing"
)

func createTestUser(t *testing.T, db *DB, username string) *User {
	t.Helper()

	user := &User{
		Username: username,
		Email:    username + "@example.com",
	}
	if err := db.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

func TestCreateAndGetUser(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "alice")

	user, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user == nil {
		t.Fatal("Expected user, got nil")
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Expected email 'alice@example.com', got %s", user.Email)
	}
	if user.StravaID != 0 {
		t.Errorf("Expected new user unlinked (strava_id 0), got %d", user.StravaID)
	}
	if user.Scope {
		t.Error("Expected new user scope false")
	}

	missing, err := db.GetUser("nobody")
	if err != nil {
		t.Fatalf("Failed to get missing user: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing user")
	}
}

func TestGetUserByEmailAndStravaID(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "alice")

	if _, err := db.UpdateUser("alice", UserUpdate{"strava_id": int64(8587070)}); err != nil {
		t.Fatalf("Failed to link user: %v", err)
	}

	byEmail, err := db.GetUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("Failed to get user by email: %v", err)
	}
	if byEmail == nil || byEmail.Username != "alice" {
		t.Errorf("Expected alice by email, got %+v", byEmail)
	}

	byStrava, err := db.GetUserByStravaID(8587070)
	if err != nil {
		t.Fatalf("Failed to get user by strava id: %v", err)
	}
	if byStrava == nil || byStrava.Username != "alice" {
		t.Errorf("Expected alice by strava id, got %+v", byStrava)
	}
}

func TestUpdateUser(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "alice")

	matched, err := db.UpdateUser("alice", UserUpdate{
		"strava_id":        int64(8587070),
		"scope":            true,
		"refresh_token":    "encrypted_blob",
		"access_token":     "a9b723",
		"access_token_exp": int64(1568775134),
	})
	if err != nil {
		t.Fatalf("Failed to update user: %v", err)
	}
	if !matched {
		t.Error("Expected update to match a user")
	}

	user, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.StravaID != 8587070 {
		t.Errorf("Expected strava_id 8587070, got %d", user.StravaID)
	}
	if !user.Scope {
		t.Error("Expected scope true")
	}
	if user.AccessToken != "a9b723" {
		t.Errorf("Expected access token 'a9b723', got %s", user.AccessToken)
	}
	if user.AccessTokenExp != 1568775134 {
		t.Errorf("Expected expiry 1568775134, got %d", user.AccessTokenExp)
	}
	if !user.AuthorizedWithStrava() {
		t.Error("Expected user authorized with strava")
	}
}

func TestUpdateUserUnknownField(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "alice")

	_, err := db.UpdateUser("alice", UserUpdate{
		"access_token": "abc",
		"totally_bogus": "value",
	})
	if err == nil {
		t.Fatal("Expected error for unknown field")
	}

	// Nothing may have been written
	user, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.AccessToken != "" {
		t.Errorf("Expected rejected update to write nothing, got access token %q", user.AccessToken)
	}
}

func TestUpdateUserNoMatch(t *testing.T) {
	db := setupTestDB(t)

	matched, err := db.UpdateUser("nobody", UserUpdate{"access_token": "abc"})
	if err != nil {
		t.Fatalf("Failed to update missing user: %v", err)
	}
	if matched {
		t.Error("Expected no match for missing user")
	}
}

func TestRevokeStravaAccess(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "alice")

	if _, err := db.UpdateUser("alice", UserUpdate{
		"strava_id":        int64(8587070),
		"scope":            true,
		"access_token":     "a9b723",
		"access_token_exp": int64(1568775134),
	}); err != nil {
		t.Fatalf("Failed to link user: %v", err)
	}

	found, err := db.RevokeStravaAccess(8587070)
	if err != nil {
		t.Fatalf("Failed to revoke access: %v", err)
	}
	if !found {
		t.Error("Expected a linked user to be found")
	}

	user, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Scope {
		t.Error("Expected scope false after deauthorization")
	}
	if user.AccessToken != "" {
		t.Error("Expected access token cleared after deauthorization")
	}

	// Unknown athlete id: no match, no error
	found, err = db.RevokeStravaAccess(111)
	if err != nil {
		t.Fatalf("Failed to revoke for unknown athlete: %v", err)
	}
	if found {
		t.Error("Expected no match for unknown athlete")
	}
}
