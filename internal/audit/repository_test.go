package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
CREATE TABLE audit_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    action TEXT NOT NULL,
    identity_id TEXT,
    actor TEXT,
    detail TEXT,
    remote_addr TEXT
) STRICT;
CREATE INDEX idx_audit_logs_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_logs_identity ON audit_logs(identity_id);
CREATE INDEX idx_audit_logs_action ON audit_logs(action);
`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	return db
}

func TestRecordAndList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()

	if err := repo.RecordAuth(ctx, "logged_in", "usr-1", "usr-1", "device=web"); err != nil {
		t.Fatalf("RecordAuth() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if result.Total != 1 || len(result.Entries) != 1 {
		t.Fatalf("List() total = %d, entries = %d, want 1 each", result.Total, len(result.Entries))
	}

	entry := result.Entries[0]
	if entry.Action != "logged_in" {
		t.Errorf("action = %q, want logged_in", entry.Action)
	}
	if entry.IdentityID != "usr-1" {
		t.Errorf("identity_id = %q, want usr-1", entry.IdentityID)
	}
	if entry.Detail != "device=web" {
		t.Errorf("detail = %q, want device=web", entry.Detail)
	}
	if entry.ID == 0 {
		t.Error("entry should have a generated ID")
	}
	if entry.Timestamp.IsZero() {
		t.Error("entry should have a timestamp")
	}
}

func TestRecordFullEntry(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()

	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	err := repo.Record(ctx, Entry{
		Timestamp:  when,
		Action:     "locked_out",
		IdentityID: "usr-2",
		Actor:      "system",
		RemoteAddr: "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	entry := result.Entries[0]
	if !entry.Timestamp.Equal(when) {
		t.Errorf("timestamp = %v, want %v", entry.Timestamp, when)
	}
	if entry.Actor != "system" {
		t.Errorf("actor = %q, want system", entry.Actor)
	}
	if entry.RemoteAddr != "203.0.113.9" {
		t.Errorf("remote_addr = %q, want 203.0.113.9", entry.RemoteAddr)
	}
}

func TestListFilters(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()

	seed := []struct {
		action, identity string
	}{
		{"logged_in", "usr-1"},
		{"logged_in", "usr-2"},
		{"login_failed", "usr-1"},
		{"registered", "usr-3"},
	}
	for _, s := range seed {
		if err := repo.RecordAuth(ctx, s.action, s.identity, s.identity, ""); err != nil {
			t.Fatalf("RecordAuth(%s) error = %v", s.action, err)
		}
	}

	byAction, err := repo.List(ctx, Filter{Action: "logged_in"})
	if err != nil {
		t.Fatalf("List(action) error = %v", err)
	}
	if byAction.Total != 2 {
		t.Errorf("action filter total = %d, want 2", byAction.Total)
	}

	byIdentity, err := repo.List(ctx, Filter{IdentityID: "usr-1"})
	if err != nil {
		t.Fatalf("List(identity) error = %v", err)
	}
	if byIdentity.Total != 2 {
		t.Errorf("identity filter total = %d, want 2", byIdentity.Total)
	}

	both, err := repo.List(ctx, Filter{Action: "login_failed", IdentityID: "usr-1"})
	if err != nil {
		t.Fatalf("List(both) error = %v", err)
	}
	if both.Total != 1 {
		t.Errorf("combined filter total = %d, want 1", both.Total)
	}
}

func TestListOrderAndPagination(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := repo.Record(ctx, Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    "logged_in",
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(page.Entries))
	}
	// Most recent first: offset 1 skips minute 4, so we get minutes 3 and 2.
	if !page.Entries[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("first entry timestamp = %v, want %v", page.Entries[0].Timestamp, base.Add(3*time.Minute))
	}
	if !page.Entries[1].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("second entry timestamp = %v, want %v", page.Entries[1].Timestamp, base.Add(2*time.Minute))
	}
}

func TestListEmpty(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if result.Entries == nil {
		t.Error("entries should be an empty slice, not nil")
	}
	if result.Total != 0 {
		t.Errorf("total = %d, want 0", result.Total)
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))

	result, err := repo.List(context.Background(), Filter{Limit: 9999, Offset: -4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if result.Limit != 200 {
		t.Errorf("limit = %d, want clamped to 200", result.Limit)
	}
	if result.Offset != 0 {
		t.Errorf("offset = %d, want clamped to 0", result.Offset)
	}
}
