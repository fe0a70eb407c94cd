package identity

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the identity schema
// applied. The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "identity-test-*.db")
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
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schemaSQL := `
		CREATE TABLE identities (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL UNIQUE,
			phone TEXT,
			password_hash TEXT,
			roles TEXT NOT NULL DEFAULT '["attendee"]',
			provider TEXT NOT NULL DEFAULT 'local',
			provider_id TEXT,
			profile_picture TEXT,
			email_verified INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			account_locked INTEGER NOT NULL DEFAULT 0,
			lock_until TEXT,
			last_login_at TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE UNIQUE INDEX idx_identities_phone ON identities(phone) WHERE phone IS NOT NULL;
		CREATE UNIQUE INDEX idx_identities_provider ON identities(provider, provider_id) WHERE provider_id IS NOT NULL;

		CREATE TABLE sessions (
			token_hash TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL,
			device_info TEXT,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (identity_id) REFERENCES identities(id) ON DELETE CASCADE
		) STRICT;

		CREATE INDEX idx_sessions_identity ON sessions(identity_id);
		CREATE INDEX idx_sessions_expires ON sessions(expires_at);
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("applying identity schema: %v", err)
	}

	return db
}

// seedIdentity inserts a local identity with a hashed password and returns it.
func seedIdentity(t *testing.T, store Store, username, email, password string) *Identity {
	t.Helper()

	id := &Identity{
		Username:      username,
		FirstName:     "Test",
		LastName:      "Member",
		Email:         email,
		Roles:         []Role{RoleAttendee},
		Provider:      ProviderLocal,
		EmailVerified: true,
		IsActive:      true,
	}

	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("hashing password: %v", err)
		}
		id.PasswordHash = hash
	}

	if err := store.CreateIdentity(context.Background(), id, nil); err != nil {
		t.Fatalf("creating test identity %s: %v", username, err)
	}
	return id
}

// seedSession appends a session with the given expiry and returns its raw
// secret.
func seedSession(t *testing.T, store Store, identityID string, expiresAt time.Time) string {
	t.Helper()

	raw, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("generating refresh secret: %v", err)
	}

	s := &Session{
		TokenHash:  HashSecret(raw),
		DeviceInfo: "test-device",
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := store.AppendSession(context.Background(), identityID, s, false); err != nil {
		t.Fatalf("appending test session: %v", err)
	}
	return raw
}
