package identity

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier on the platform.
type Role string

const (
	// RoleAttendee is a regular platform member: browses events, holds
	// tickets, joins teams. Every new account starts as attendee.
	RoleAttendee Role = "attendee"

	// RoleOrganizer creates and manages events, agendas, and tickets for
	// the organisations they belong to.
	RoleOrganizer Role = "organizer"

	// RoleAdmin has full platform control including user management and
	// the audit trail.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles an identity may carry.
var ValidRoles = []Role{RoleAttendee, RoleOrganizer, RoleAdmin}

// IsValidRole returns true if the role is a recognised platform role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Provider identifies the credential origin of an identity.
type Provider string

const (
	// ProviderLocal marks an identity authenticated by a locally stored
	// password hash.
	ProviderLocal Provider = "local"

	// ProviderGoogle marks an identity asserted by Google sign-in.
	ProviderGoogle Provider = "google"
)

// Identity represents a platform account.
//
// An identity with Provider == ProviderLocal always carries a password hash.
// A federated identity may lack one until a local credential is added; after
// linking, both credentials authenticate the same account.
type Identity struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	PasswordHash   string     `json:"-"` // never serialised
	Roles          []Role     `json:"roles"`
	Provider       Provider   `json:"provider"`
	ProviderID     string     `json:"provider_id,omitempty"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	EmailVerified  bool       `json:"email_verified"`
	IsActive       bool       `json:"is_active"`
	AccountLocked  bool       `json:"account_locked"`
	LockUntil      *time.Time `json:"lock_until,omitempty"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DisplayName returns the identity's human-readable name.
func (i *Identity) DisplayName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// HasRole returns true if the identity carries the given role.
func (i *Identity) HasRole(r Role) bool {
	for _, have := range i.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// PrimaryRole returns the identity's highest-privilege role for display.
// Roles (plural) are authoritative everywhere else.
func (i *Identity) PrimaryRole() Role {
	switch {
	case i.HasRole(RoleAdmin):
		return RoleAdmin
	case i.HasRole(RoleOrganizer):
		return RoleOrganizer
	default:
		return RoleAttendee
	}
}

// View is the outward-facing projection of an identity. It never includes
// the password hash or the session collection.
type View struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	Roles          []Role     `json:"roles"`
	Provider       Provider   `json:"provider"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	EmailVerified  bool       `json:"email_verified"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// View returns the safe outward projection of the identity.
func (i *Identity) View() View {
	roles := make([]Role, len(i.Roles))
	copy(roles, i.Roles)
	return View{
		ID:             i.ID,
		Username:       i.Username,
		FirstName:      i.FirstName,
		LastName:       i.LastName,
		Email:          i.Email,
		Phone:          i.Phone,
		Roles:          roles,
		Provider:       i.Provider,
		ProfilePicture: i.ProfilePicture,
		EmailVerified:  i.EmailVerified,
		LastLoginAt:    i.LastLoginAt,
		CreatedAt:      i.CreatedAt,
	}
}

// Session is a server-side record binding a refresh-secret hash to an
// identity, opaque device metadata, and an expiry. Sessions have no
// lifecycle independent of their owning identity.
type Session struct {
	TokenHash  string    `json:"-"` // never serialised
	IdentityID string    `json:"identity_id"`
	DeviceInfo string    `json:"device_info,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Valid reports whether the session is still usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// SessionView is the outward projection of a session for device listings.
type SessionView struct {
	DeviceInfo string    `json:"device_info,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// View returns the safe outward projection of the session.
func (s *Session) View() SessionView {
	return SessionView{
		DeviceInfo: s.DeviceInfo,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
	}
}

// Sentinel errors for authentication operations.
var (
	// ErrInvalidCredentials covers both unknown identity and wrong password.
	// The two cases are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrIdentityInactive   = errors.New("identity is deactivated")
	ErrDuplicateIdentity  = errors.New("identity already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidOrExpired   = errors.New("invalid or expired refresh token")
	ErrMissingToken       = errors.New("authorization token missing")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrInvalidAssertion   = errors.New("invalid identity assertion")
	ErrVerificationFailed = errors.New("assertion verification failed")
	ErrUnverifiedEmail    = errors.New("email is not verified by the provider")
	ErrStoreUnavailable   = errors.New("identity store unavailable")
)

// DuplicateError reports which unique field collided on registration.
// Field is one of "email", "username", "phone".
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return e.Field + " already exists"
}

// Unwrap makes DuplicateError match ErrDuplicateIdentity via errors.Is.
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateIdentity
}
