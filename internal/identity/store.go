package identity

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for identities and their sessions.
//
// Implementations must provide per-identity atomicity: every session
// mutation (append, rotate, revoke) is a single atomic read-modify-write,
// so two concurrent rotations of the same stale hash cannot both succeed.
type Store interface {
	CreateIdentity(ctx context.Context, id *Identity, first *Session) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	FindByLogin(ctx context.Context, emailOrPhone string) (*Identity, error)
	FindConflict(ctx context.Context, email, username, phone string) (string, error)
	FindByEmailOrProvider(ctx context.Context, email string, provider Provider, providerID string) (*Identity, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	LinkProvider(ctx context.Context, identityID string, provider Provider, providerID, picture string) error
	AppendSession(ctx context.Context, identityID string, s *Session, markLogin bool) error
	RotateSession(ctx context.Context, oldHash string, s *Session) (*Identity, error)
	RevokeSession(ctx context.Context, hash string) error
	FindBySessionHash(ctx context.Context, hash string) (*Identity, error)
	ListSessions(ctx context.Context, identityID string) ([]Session, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-backed identity store.
func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// identityColumns is the column list shared by every identity query.
const identityColumns = `id, username, first_name, last_name, email, phone, password_hash,
	roles, provider, provider_id, profile_picture, email_verified, is_active,
	account_locked, lock_until, last_login_at, created_at, updated_at`

// CreateIdentity inserts a new identity and, when first is non-nil, its
// initial session in the same transaction. The ID is generated if empty.
//
// A unique-constraint violation on email, username, or phone surfaces as a
// DuplicateError naming the colliding field; this backstops the gateway's
// pre-check under concurrent registration.
func (st *SQLiteStore) CreateIdentity(ctx context.Context, id *Identity, first *Session) error {
	if id.ID == "" {
		id.ID = "usr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC()
	id.CreatedAt = now.Truncate(time.Second)
	id.UpdatedAt = id.CreatedAt

	rolesJSON, err := json.Marshal(id.Roles)
	if err != nil {
		return fmt.Errorf("encoding roles: %w", err)
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning create transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, username, first_name, last_name, email, phone, password_hash,
		 roles, provider, provider_id, profile_picture, email_verified, is_active,
		 account_locked, lock_until, last_login_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.ID, id.Username, id.FirstName, id.LastName, id.Email, nullString(id.Phone),
		nullString(id.PasswordHash), string(rolesJSON), string(id.Provider),
		nullString(id.ProviderID), nullString(id.ProfilePicture),
		boolToInt(id.EmailVerified), boolToInt(id.IsActive),
		boolToInt(id.AccountLocked), nullTime(id.LockUntil), nullTime(id.LastLoginAt),
		formatTime(id.CreatedAt), formatTime(id.UpdatedAt),
	)
	if err != nil {
		if field := uniqueViolationField(err); field != "" {
			return &DuplicateError{Field: field}
		}
		return storeErr("creating identity", err)
	}

	if first != nil {
		first.IdentityID = id.ID
		if err := insertSession(ctx, tx, first); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing identity", err)
	}
	return nil
}

// GetByID retrieves an identity by its unique ID.
func (st *SQLiteStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	return st.getIdentity(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id = ?", id)
}

// FindByLogin resolves an identity by email, username, or phone. Email and
// username matching is case-insensitive (values are stored lowercased).
func (st *SQLiteStore) FindByLogin(ctx context.Context, emailOrPhone string) (*Identity, error) {
	lowered := strings.ToLower(emailOrPhone)
	return st.getIdentity(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email = ? OR username = ? OR phone = ?",
		lowered, lowered, emailOrPhone)
}

// FindConflict reports which unique field is already claimed, checking in
// the register error-priority order: email, then username, then phone.
// Returns "" when all three are free.
func (st *SQLiteStore) FindConflict(ctx context.Context, email, username, phone string) (string, error) {
	checks := []struct {
		field string
		query string
		value string
	}{
		{"email", "SELECT 1 FROM identities WHERE email = ?", strings.ToLower(email)},
		{"username", "SELECT 1 FROM identities WHERE username = ?", strings.ToLower(username)},
		{"phone", "SELECT 1 FROM identities WHERE phone = ?", phone},
	}

	for _, c := range checks {
		if c.value == "" {
			continue
		}
		var one int
		err := st.db.QueryRowContext(ctx, c.query, c.value).Scan(&one)
		switch {
		case err == nil:
			return c.field, nil
		case errors.Is(err, sql.ErrNoRows):
			continue
		default:
			return "", storeErr("checking "+c.field+" uniqueness", err)
		}
	}
	return "", nil
}

// FindByEmailOrProvider resolves an identity for federated sign-in: first by
// email, then by (provider, providerID).
func (st *SQLiteStore) FindByEmailOrProvider(ctx context.Context, email string, provider Provider, providerID string) (*Identity, error) {
	return st.getIdentity(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email = ? OR (provider = ? AND provider_id = ?)",
		strings.ToLower(email), string(provider), providerID)
}

// UsernameTaken reports whether a username is already claimed.
func (st *SQLiteStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var one int
	err := st.db.QueryRowContext(ctx,
		"SELECT 1 FROM identities WHERE username = ?", strings.ToLower(username)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("checking username", err)
	}
	return true, nil
}

// LinkProvider attaches a federated provider to an existing identity in
// place. The email is marked verified and the profile picture is backfilled
// only when absent; any local password credential is preserved.
func (st *SQLiteStore) LinkProvider(ctx context.Context, identityID string, provider Provider, providerID, picture string) error {
	now := formatTime(time.Now().UTC())
	result, err := st.db.ExecContext(ctx,
		`UPDATE identities SET provider = ?, provider_id = ?, email_verified = 1,
		 profile_picture = CASE WHEN profile_picture IS NULL OR profile_picture = '' THEN ? ELSE profile_picture END,
		 updated_at = ?
		 WHERE id = ?`,
		string(provider), providerID, nullString(picture), now, identityID,
	)
	if err != nil {
		return storeErr("linking provider", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// AppendSession prunes the identity's expired sessions and inserts a new one
// in a single transaction. When markLogin is set, the identity's last-login
// timestamp is updated and any account lock is cleared unconditionally.
func (st *SQLiteStore) AppendSession(ctx context.Context, identityID string, s *Session, markLogin bool) error {
	now := time.Now().UTC()

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning session transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := pruneExpired(ctx, tx, identityID, now); err != nil {
		return err
	}

	s.IdentityID = identityID
	if err := insertSession(ctx, tx, s); err != nil {
		return err
	}

	if markLogin {
		if _, err := tx.ExecContext(ctx,
			`UPDATE identities SET last_login_at = ?, account_locked = 0, lock_until = NULL, updated_at = ?
			 WHERE id = ?`,
			formatTime(now), formatTime(now), identityID,
		); err != nil {
			return storeErr("recording login", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing session", err)
	}
	return nil
}

// RotateSession atomically consumes the session matching oldHash and inserts
// its replacement, returning the owning identity. The consumed hash is
// removed in the same transaction that records the new session, so a second
// concurrent use of the same stale secret observes ErrSessionNotFound.
func (st *SQLiteStore) RotateSession(ctx context.Context, oldHash string, s *Session) (*Identity, error) {
	now := time.Now().UTC()

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("beginning rotation transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var storedHash, identityID string
	err = tx.QueryRowContext(ctx,
		"SELECT token_hash, identity_id FROM sessions WHERE token_hash = ? AND expires_at > ?",
		oldHash, formatTime(now),
	).Scan(&storedHash, &identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, storeErr("looking up session", err)
	}

	// The index lookup above may short-circuit on prefix mismatch; re-check
	// the full hash in constant time before trusting the match.
	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(oldHash)) != 1 {
		return nil, ErrSessionNotFound
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM sessions WHERE token_hash = ?", oldHash)
	if err != nil {
		return nil, storeErr("consuming session", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return nil, ErrSessionNotFound
	}

	if err := pruneExpired(ctx, tx, identityID, now); err != nil {
		return nil, err
	}

	s.IdentityID = identityID
	if err := insertSession(ctx, tx, s); err != nil {
		return nil, err
	}

	id, err := scanIdentityFrom(tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id = ?", identityID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("committing rotation", err)
	}
	return id, nil
}

// RevokeSession removes the session matching hash. Idempotent: revoking an
// absent session is not an error.
func (st *SQLiteStore) RevokeSession(ctx context.Context, hash string) error {
	if _, err := st.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE token_hash = ?", hash); err != nil {
		return storeErr("revoking session", err)
	}
	return nil
}

// FindBySessionHash resolves the identity owning an active (unexpired)
// session with the given hash. Expired sessions are never matched.
func (st *SQLiteStore) FindBySessionHash(ctx context.Context, hash string) (*Identity, error) {
	var storedHash, identityID string
	err := st.db.QueryRowContext(ctx,
		"SELECT token_hash, identity_id FROM sessions WHERE token_hash = ? AND expires_at > ?",
		hash, formatTime(time.Now().UTC()),
	).Scan(&storedHash, &identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, storeErr("looking up session", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(hash)) != 1 {
		return nil, ErrSessionNotFound
	}

	return st.GetByID(ctx, identityID)
}

// ListSessions returns the identity's active sessions in issuance order.
// Read-only: expired sessions are filtered out but not pruned here.
func (st *SQLiteStore) ListSessions(ctx context.Context, identityID string) ([]Session, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT token_hash, identity_id, device_info, expires_at, created_at
		 FROM sessions WHERE identity_id = ? AND expires_at > ?
		 ORDER BY created_at ASC, rowid ASC`,
		identityID, formatTime(time.Now().UTC()))
	if err != nil {
		return nil, storeErr("listing sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var deviceInfo sql.NullString
		var expiresAt, createdAt string

		if err := rows.Scan(&s.TokenHash, &s.IdentityID, &deviceInfo, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if deviceInfo.Valid {
			s.DeviceInfo = deviceInfo.String
		}
		s.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating sessions", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// insertSession inserts a session row inside an open transaction.
//
// token_hash is the primary key across all identities. A collision between
// two independently generated secrets is cryptographically negligible, so a
// violation here is a fatal persistence error, never a silent overwrite.
func insertSession(ctx context.Context, tx *sql.Tx, s *Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, identity_id, device_info, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.TokenHash, s.IdentityID, nullString(s.DeviceInfo),
		formatTime(s.ExpiresAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		if uniqueViolationField(err) != "" {
			return fmt.Errorf("refresh hash collision on %s: %w", s.IdentityID, err)
		}
		return storeErr("inserting session", err)
	}
	return nil
}

// pruneExpired removes the identity's expired sessions. Called only on
// mutating paths; reads never prune.
func pruneExpired(ctx context.Context, tx *sql.Tx, identityID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM sessions WHERE identity_id = ? AND expires_at <= ?",
		identityID, formatTime(now)); err != nil {
		return storeErr("pruning expired sessions", err)
	}
	return nil
}

// getIdentity executes a query and scans a single identity result.
func (st *SQLiteStore) getIdentity(ctx context.Context, query string, args ...any) (*Identity, error) {
	return scanIdentityFrom(st.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanIdentityFrom scans an identity from any scanner (Row or Rows).
func scanIdentityFrom(s scanner) (*Identity, error) {
	var id Identity
	var phone, passwordHash, providerID, picture, lockUntil, lastLogin sql.NullString
	var rolesJSON, provider, createdAt, updatedAt string
	var emailVerified, isActive, accountLocked int

	err := s.Scan(&id.ID, &id.Username, &id.FirstName, &id.LastName, &id.Email,
		&phone, &passwordHash, &rolesJSON, &provider, &providerID, &picture,
		&emailVerified, &isActive, &accountLocked, &lockUntil, &lastLogin,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, storeErr("scanning identity", err)
	}

	if err := json.Unmarshal([]byte(rolesJSON), &id.Roles); err != nil {
		return nil, fmt.Errorf("decoding roles for %s: %w", id.ID, err)
	}

	id.Provider = Provider(provider)
	id.EmailVerified = emailVerified != 0
	id.IsActive = isActive != 0
	id.AccountLocked = accountLocked != 0
	if phone.Valid {
		id.Phone = phone.String
	}
	if passwordHash.Valid {
		id.PasswordHash = passwordHash.String
	}
	if providerID.Valid {
		id.ProviderID = providerID.String
	}
	if picture.Valid {
		id.ProfilePicture = picture.String
	}
	id.LockUntil = parseNullTime(lockUntil)
	id.LastLoginAt = parseNullTime(lastLogin)
	id.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	id.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &id, nil
}

// Helper functions.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// storeErr wraps a low-level database error, classifying timeouts and lock
// contention as transient (retriable by the caller).
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked") {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// uniqueViolationField extracts the colliding column from a SQLite UNIQUE
// constraint error, returning "" for other errors.
func uniqueViolationField(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return ""
	}
	for _, field := range []string{"email", "username", "phone", "token_hash", "provider_id"} {
		if strings.Contains(msg, "."+field) {
			return field
		}
	}
	return "unknown"
}
