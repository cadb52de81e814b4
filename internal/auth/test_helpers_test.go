package auth

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the auth schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schemaSQL := `
		CREATE TABLE users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'user',
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_by    TEXT,
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
		) STRICT;

		CREATE INDEX idx_users_role ON users(role);

		CREATE TABLE revoked_tokens (
			token_hash TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL,
			revoked_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE INDEX idx_revoked_tokens_expires ON revoked_tokens(expires_at);
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("applying auth schema: %v", err)
	}

	return db
}

// seedTestUser inserts a test user with the given role and returns it.
// The password is always "test-password".
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Name:         email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// testService wires a Service against a fresh test database.
func testService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()

	db := testDB(t)
	svc := NewService(
		NewUserRepository(db),
		NewRevocationRepository(db),
		"test-secret-key-that-is-long-enough-0123",
		0,
		nil,
	)
	return svc, db
}
