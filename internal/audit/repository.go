// Package audit provides the durable audit trail for authentication
// actions: registrations, logins, refreshes, lockouts, and federated links.
//
// The trail is append-only. Rows are written by the identity gateway and
// read back through the admin API; the application never updates or
// deletes them.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Entry represents a single audit trail row.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	IdentityID string    `json:"identity_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// Filter controls which audit entries to return.
type Filter struct {
	Action     string // optional: filter by action (registered, logged_in, locked_out, ...)
	IdentityID string // optional: filter by affected identity
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated audit trail results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit trail operations.
type Repository interface {
	RecordAuth(ctx context.Context, action, identityID, actor, detail string) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the audit trail in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit trail repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordAuth appends an auth action to the trail.
//
// It satisfies the identity gateway's AuditSink interface. The remote
// address is not known at the gateway layer; use Record when the caller
// has one.
func (r *SQLiteRepository) RecordAuth(ctx context.Context, action, identityID, actor, detail string) error {
	return r.Record(ctx, Entry{
		Action:     action,
		IdentityID: identityID,
		Actor:      actor,
		Detail:     detail,
	})
}

// Record appends a full entry to the trail. The timestamp is generated
// when zero.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, identity_id, actor, detail, remote_addr)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.Format(time.RFC3339), entry.Action,
		nullableString(entry.IdentityID), nullableString(entry.Actor),
		nullableString(entry.Detail), nullableString(entry.RemoteAddr),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit entries matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit trail queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.IdentityID != "" {
		conditions = append(conditions, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, timestamp, action, identity_id, actor, detail, remote_addr FROM audit_logs %s ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var identityID, actor, detail, remoteAddr sql.NullString
		var timestamp string

		if err := rows.Scan(&entry.ID, &timestamp, &entry.Action,
			&identityID, &actor, &detail, &remoteAddr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		if identityID.Valid {
			entry.IdentityID = identityID.String
		}
		if actor.Valid {
			entry.Actor = actor.String
		}
		if detail.Valid {
			entry.Detail = detail.String
		}
		if remoteAddr.Valid {
			entry.RemoteAddr = remoteAddr.String
		}

		t, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", timestamp, err)
		}
		entry.Timestamp = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
