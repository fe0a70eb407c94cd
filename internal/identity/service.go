package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Publisher delivers auth lifecycle events to interested subsystems.
// Satisfied by the MQTT events publisher; nil disables event delivery.
type Publisher interface {
	PublishEvent(ctx context.Context, event string, identityID string, detail map[string]any) error
}

// ActivityRecorder records auth activity points for dashboards.
// Satisfied by the InfluxDB recorder; nil disables recording. Recording
// must never block or fail a request.
type ActivityRecorder interface {
	RecordAuthEvent(event, identityID, outcome string)
}

// AuditSink records auth actions in the durable audit trail.
// Satisfied by the audit logger; nil disables auditing.
type AuditSink interface {
	RecordAuth(ctx context.Context, action, identityID, actor, detail string) error
}

// Auth lifecycle event names, shared by the publisher, recorder, and audit
// trail.
const (
	EventRegistered     = "registered"
	EventLoggedIn       = "logged_in"
	EventLoginFailed    = "login_failed"
	EventLockedOut      = "locked_out"
	EventRefreshed      = "refreshed"
	EventRefreshDenied  = "refresh_denied"
	EventLoggedOut      = "logged_out"
	EventFederatedLogin = "federated_login"
	EventLinkedAccount  = "linked_account"
)

// RegisterInput carries the fields of a registration request after transport
// decoding. Email and username are canonicalised by the service.
type RegisterInput struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
}

// Credentials carries a password login attempt. Login matches email,
// username, or phone.
type Credentials struct {
	Login      string
	Password   string
	DeviceInfo string
}

// AuthResult is the outcome of any operation that establishes a session.
type AuthResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Identity     View   `json:"identity"`
	IsNewAccount bool   `json:"is_new_account,omitempty"`
}

// Service is the authentication gateway. It owns credential verification,
// token issuance, session rotation, and federated sign-in, delegating
// persistence to the store and policy decisions to the injected
// collaborators.
type Service struct {
	store    Store
	sessions *SessionManager
	codec    *Codec
	linker   *Linker
	verifier AssertionVerifier
	policy   FailurePolicy
	logger   *slog.Logger

	events   Publisher
	activity ActivityRecorder
	audit    AuditSink
}

// ServiceConfig bundles the gateway's collaborators. Store, Sessions, and
// Codec are required; the rest default to inert implementations.
type ServiceConfig struct {
	Store    Store
	Sessions *SessionManager
	Codec    *Codec
	Verifier AssertionVerifier
	Policy   FailurePolicy
	Logger   *slog.Logger

	Events   Publisher
	Activity ActivityRecorder
	Audit    AuditSink
}

// NewService creates the authentication gateway.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Policy == nil {
		cfg.Policy = NoopFailurePolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		codec:    cfg.Codec,
		linker:   NewLinker(cfg.Store),
		verifier: cfg.Verifier,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		events:   cfg.Events,
		activity: cfg.Activity,
		audit:    cfg.Audit,
	}
}

// Register creates a local identity and establishes its first session in one
// atomic operation. The identity and the session are written in the same
// transaction: a failure on either side leaves no partial record.
//
// Uniqueness conflicts surface as a DuplicateError naming the first colliding
// field, checked in the order email, username, phone.
func (s *Service) Register(ctx context.Context, in RegisterInput, deviceInfo string) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Phone = strings.TrimSpace(in.Phone)

	if field, err := s.store.FindConflict(ctx, in.Email, in.Username, in.Phone); err != nil {
		return nil, err
	} else if field != "" {
		return nil, &DuplicateError{Field: field}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	id := &Identity{
		Username:      in.Username,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Email:         in.Email,
		Phone:         in.Phone,
		PasswordHash:  hash,
		Roles:         []Role{RoleAttendee},
		Provider:      ProviderLocal,
		EmailVerified: false,
		IsActive:      true,
	}

	raw, session, err := s.sessions.Mint(deviceInfo)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateIdentity(ctx, id, session); err != nil {
		return nil, err
	}

	access, err := s.codec.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, EventRegistered, id.ID, "ok", "local registration")
	s.logger.Info("identity registered", "identity_id", id.ID, "username", id.Username)

	return &AuthResult{
		AccessToken:  access,
		RefreshToken: raw,
		Identity:     id.View(),
		IsNewAccount: true,
	}, nil
}

// Login verifies a password credential and establishes a session.
//
// Unknown login, missing password hash, and wrong password all return
// ErrInvalidCredentials so the response never reveals which part failed.
// A logically locked account fails with ErrAccountLocked before the password
// is examined; an elapsed lock is treated as unlocked and cleared on success.
func (s *Service) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	login := strings.ToLower(strings.TrimSpace(creds.Login))

	id, err := s.store.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			s.record(EventLoginFailed, "", "unknown_login")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !id.IsActive {
		s.record(EventLoginFailed, id.ID, "inactive")
		return nil, ErrInvalidCredentials
	}

	if IsLocked(id, time.Now().UTC()) {
		s.notify(ctx, EventLockedOut, id.ID, "denied", "login attempt on locked account")
		return nil, ErrAccountLocked
	}

	// A federated-only account has no local hash. Fail the same way as a
	// wrong password so probing cannot distinguish the cases.
	if id.PasswordHash == "" || !s.verifyPassword(creds.Password, id.PasswordHash) {
		s.policy.OnAuthFailure(ctx, id)
		s.notify(ctx, EventLoginFailed, id.ID, "denied", "wrong password")
		return nil, ErrInvalidCredentials
	}

	return s.establish(ctx, id, creds.DeviceInfo, EventLoggedIn, false)
}

// verifyPassword wraps the hash comparison; decode failures count as a
// mismatch rather than an internal error.
func (s *Service) verifyPassword(password, hash string) bool {
	ok, err := VerifyPassword(password, hash)
	if err != nil {
		s.logger.Warn("password hash verification error", "error", err)
		return false
	}
	return ok
}

// Refresh exchanges a valid refresh token for a new access/refresh pair.
// The presented token is consumed: a second exchange with the same token,
// concurrent or later, fails with ErrInvalidOrExpired. Claims are derived
// from the identity's current state, so role changes take effect here.
func (s *Service) Refresh(ctx context.Context, rawToken, deviceInfo string) (*AuthResult, error) {
	raw, id, _, err := s.sessions.Rotate(ctx, rawToken, deviceInfo)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.record(EventRefreshDenied, "", "unknown_or_expired")
			return nil, ErrInvalidOrExpired
		}
		return nil, err
	}

	if !id.IsActive {
		// The rotation already consumed the token; the replacement is
		// unusable because every later call re-checks active status.
		s.record(EventRefreshDenied, id.ID, "inactive")
		return nil, ErrInvalidOrExpired
	}

	access, err := s.codec.IssueAccessToken(id)
	if err != nil {
		return nil, err
	}

	s.record(EventRefreshed, id.ID, "ok")

	return &AuthResult{
		AccessToken:  access,
		RefreshToken: raw,
		Identity:     id.View(),
	}, nil
}

// Logout revokes the session matching the presented refresh token.
// Idempotent: an unknown or already-revoked token still succeeds.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if err := s.sessions.Revoke(ctx, rawToken); err != nil {
		return err
	}
	s.record(EventLoggedOut, "", "ok")
	return nil
}

// FederatedLogin verifies a third-party identity assertion and signs the
// asserted identity in, creating or linking the platform account as needed.
func (s *Service) FederatedLogin(ctx context.Context, rawAssertion, deviceInfo string) (*AuthResult, error) {
	if s.verifier == nil {
		return nil, fmt.Errorf("%w: no assertion verifier configured", ErrVerificationFailed)
	}

	ext, err := s.verifier.Verify(ctx, rawAssertion)
	if err != nil {
		return nil, err
	}

	id, resolution, err := s.linker.Resolve(ctx, ext)
	if err != nil {
		return nil, err
	}

	if !id.IsActive {
		return nil, ErrInvalidCredentials
	}
	if IsLocked(id, time.Now().UTC()) {
		s.notify(ctx, EventLockedOut, id.ID, "denied", "federated login on locked account")
		return nil, ErrAccountLocked
	}

	if resolution == ResolvedLinked {
		s.notify(ctx, EventLinkedAccount, id.ID, "ok", string(ext.Provider))
	}

	return s.establish(ctx, id, deviceInfo, EventFederatedLogin, resolution == ResolvedCreated)
}

// establish issues the session and access token for an authenticated
// identity and emits the lifecycle event.
func (s *Service) establish(ctx context.Context, id *Identity, deviceInfo, event string, created bool) (*AuthResult, error) {
	raw, _, err := s.sessions.Issue(ctx, id.ID, deviceInfo, true)
	if err != nil {
		return nil, err
	}

	// Reload so the result reflects the cleared lock and login timestamp.
	fresh, err := s.store.GetByID(ctx, id.ID)
	if err != nil {
		return nil, err
	}

	access, err := s.codec.IssueAccessToken(fresh)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, event, fresh.ID, "ok", "")
	s.logger.Info("session established", "identity_id", fresh.ID, "event", event)

	return &AuthResult{
		AccessToken:  access,
		RefreshToken: raw,
		Identity:     fresh.View(),
		IsNewAccount: created,
	}, nil
}

// Authorize validates a bearer access token and returns its claims together
// with the identity's current state. Tokens for deactivated or locked
// identities are rejected even before the token expires.
func (s *Service) Authorize(ctx context.Context, rawToken string) (*Claims, *Identity, error) {
	if rawToken == "" {
		return nil, nil, ErrMissingToken
	}

	claims, err := s.codec.ParseAccessToken(rawToken)
	if err != nil {
		return nil, nil, err
	}

	id, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, nil, ErrTokenInvalid
		}
		return nil, nil, err
	}

	if !id.IsActive {
		return nil, nil, ErrIdentityInactive
	}
	if IsLocked(id, time.Now().UTC()) {
		return nil, nil, ErrAccountLocked
	}

	return claims, id, nil
}

// Me returns the outward profile of the identified account.
func (s *Service) Me(ctx context.Context, identityID string) (*View, error) {
	id, err := s.store.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	v := id.View()
	return &v, nil
}

// Sessions lists the identity's active sessions, oldest first.
func (s *Service) Sessions(ctx context.Context, identityID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListForIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, len(sessions))
	for i := range sessions {
		views[i] = sessions[i].View()
	}
	return views, nil
}

// notify fans an auth event out to the publisher, recorder, and audit sink.
// Delivery failures are logged, never propagated to the caller.
func (s *Service) notify(ctx context.Context, event, identityID, outcome, detail string) {
	s.record(event, identityID, outcome)

	if s.events != nil {
		payload := map[string]any{"outcome": outcome}
		if detail != "" {
			payload["detail"] = detail
		}
		if err := s.events.PublishEvent(ctx, event, identityID, payload); err != nil {
			s.logger.Warn("publishing auth event", "event", event, "error", err)
		}
	}

	if s.audit != nil {
		if err := s.audit.RecordAuth(ctx, event, identityID, identityID, detail); err != nil {
			s.logger.Warn("recording audit entry", "event", event, "error", err)
		}
	}
}

// record sends a fire-and-forget activity point.
func (s *Service) record(event, identityID, outcome string) {
	if s.activity != nil {
		s.activity.RecordAuthEvent(event, identityID, outcome)
	}
}
