package identity

import (
	"context"
	"fmt"
	"time"
)

// defaultRefreshTTLDays is the refresh-session lifetime when not configured.
const defaultRefreshTTLDays = 30

// SessionManager owns the refresh-session lifecycle: issuance, single-use
// rotation, revocation, and lookup. Expired sessions are pruned lazily by
// the store on every mutating operation; read paths never prune.
type SessionManager struct {
	store Store
	ttl   time.Duration
}

// NewSessionManager creates a session manager. ttlDays <= 0 selects the
// 30-day default.
func NewSessionManager(store Store, ttlDays int) *SessionManager {
	if ttlDays <= 0 {
		ttlDays = defaultRefreshTTLDays
	}
	return &SessionManager{
		store: store,
		ttl:   time.Duration(ttlDays) * 24 * time.Hour,
	}
}

// TTL returns the configured refresh-session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Mint builds a new session and its raw refresh secret without persisting
// anything. Used when the session is stored atomically alongside a new
// identity record.
func (m *SessionManager) Mint(deviceInfo string) (string, *Session, error) {
	raw, err := NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	return raw, &Session{
		TokenHash:  HashSecret(raw),
		DeviceInfo: deviceInfo,
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
	}, nil
}

// Issue generates a fresh session for the identity and persists it,
// returning the raw secret for the response. When markLogin is set, the
// store also updates the identity's last-login timestamp and clears any
// account lock in the same mutation.
func (m *SessionManager) Issue(ctx context.Context, identityID, deviceInfo string, markLogin bool) (string, *Session, error) {
	raw, s, err := m.Mint(deviceInfo)
	if err != nil {
		return "", nil, err
	}

	if err := m.store.AppendSession(ctx, identityID, s, markLogin); err != nil {
		return "", nil, fmt.Errorf("issuing session: %w", err)
	}
	return raw, s, nil
}

// Rotate exchanges the session matching the presented raw secret for a new
// one. The consumed hash is removed in the same store mutation that records
// the replacement, so rotation is single-use even under concurrent requests
// bearing the same stale secret: the loser observes ErrSessionNotFound.
func (m *SessionManager) Rotate(ctx context.Context, rawOld, deviceInfo string) (string, *Identity, *Session, error) {
	raw, s, err := m.Mint(deviceInfo)
	if err != nil {
		return "", nil, nil, err
	}

	id, err := m.store.RotateSession(ctx, HashSecret(rawOld), s)
	if err != nil {
		return "", nil, nil, err
	}
	return raw, id, s, nil
}

// Revoke removes the session matching the presented raw secret. Idempotent:
// revoking an absent or already-revoked session succeeds silently.
func (m *SessionManager) Revoke(ctx context.Context, raw string) error {
	return m.store.RevokeSession(ctx, HashSecret(raw))
}

// FindByToken resolves the identity owning an active session for the
// presented raw secret. Expired sessions are never matched.
func (m *SessionManager) FindByToken(ctx context.Context, raw string) (*Identity, error) {
	return m.store.FindBySessionHash(ctx, HashSecret(raw))
}

// ListForIdentity returns the identity's active sessions in issuance order.
func (m *SessionManager) ListForIdentity(ctx context.Context, identityID string) ([]Session, error) {
	return m.store.ListSessions(ctx, identityID)
}
