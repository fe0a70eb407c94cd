package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ExternalIdentity is a third-party identity assertion after verification.
type ExternalIdentity struct {
	Provider      Provider
	SubjectID     string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}

// AssertionVerifier verifies a raw third-party identity assertion.
//
// Implementations return ErrInvalidAssertion for malformed input and
// ErrVerificationFailed for any provider-side rejection.
type AssertionVerifier interface {
	Verify(ctx context.Context, rawToken string) (*ExternalIdentity, error)
}

// Username generation constants.
const (
	// usernameSuffixBytes is the entropy of a collision-breaking suffix.
	usernameSuffixBytes = 3

	// maxUsernameAttempts bounds the retry-until-unique loop. A single
	// random draw is not trusted to be collision-free.
	maxUsernameAttempts = 5
)

// Resolution describes how a verified external identity mapped onto a
// platform identity.
type Resolution int

const (
	// ResolvedExisting means the account was already on this provider.
	ResolvedExisting Resolution = iota

	// ResolvedCreated means a new identity was created for the assertion.
	ResolvedCreated

	// ResolvedLinked means the provider was linked to an existing local
	// account.
	ResolvedLinked
)

// Linker reconciles verified external identities against the store:
// create a new identity, link to an existing local one, or no-op when the
// account is already on this provider.
type Linker struct {
	store Store
}

// NewLinker creates a federated identity linker.
func NewLinker(store Store) *Linker {
	return &Linker{store: store}
}

// Resolve maps a verified external identity onto a platform identity.
// Returns the identity and how it was resolved; callers key lifecycle
// events (created vs linked) off the resolution, not off the identity's
// provider fields, which already reflect the mutation by the time Resolve
// returns.
//
// Resolution is idempotent: resolving the same assertion twice never creates
// two identities and never duplicates the provider linkage. An unverified
// email fails with ErrUnverifiedEmail before any mutation.
func (l *Linker) Resolve(ctx context.Context, ext *ExternalIdentity) (*Identity, Resolution, error) {
	if ext.SubjectID == "" || ext.Email == "" {
		return nil, ResolvedExisting, fmt.Errorf("%w: missing subject or email", ErrInvalidAssertion)
	}
	if !ext.EmailVerified {
		return nil, ResolvedExisting, ErrUnverifiedEmail
	}

	email := strings.ToLower(ext.Email)

	existing, err := l.store.FindByEmailOrProvider(ctx, email, ext.Provider, ext.SubjectID)
	switch {
	case err == nil:
		if existing.Provider == ProviderLocal && existing.ProviderID == "" {
			// Link in place: the local password credential survives, so the
			// account authenticates both ways afterwards.
			if err := l.store.LinkProvider(ctx, existing.ID, ext.Provider, ext.SubjectID, ext.Picture); err != nil {
				return nil, ResolvedExisting, err
			}
			return l.reload(ctx, existing.ID)
		}
		// Already on this provider: no structural change.
		return existing, ResolvedExisting, nil

	case errorsIsNotFound(err):
		id, err := l.create(ctx, ext, email)
		if err != nil {
			return nil, ResolvedExisting, err
		}
		return id, ResolvedCreated, nil

	default:
		return nil, ResolvedExisting, err
	}
}

// create builds a new identity for a first federated sign-in.
func (l *Linker) create(ctx context.Context, ext *ExternalIdentity, email string) (*Identity, error) {
	username, err := l.uniqueUsername(ctx, email)
	if err != nil {
		return nil, err
	}

	first, last := splitName(ext)

	id := &Identity{
		Username:       username,
		FirstName:      first,
		LastName:       last,
		Email:          email,
		Roles:          []Role{RoleAttendee},
		Provider:       ext.Provider,
		ProviderID:     ext.SubjectID,
		ProfilePicture: ext.Picture,
		EmailVerified:  true,
		IsActive:       true,
	}

	if err := l.store.CreateIdentity(ctx, id, nil); err != nil {
		return nil, err
	}
	return id, nil
}

// uniqueUsername derives a username from the email local-part, appending a
// short random suffix until it is free. Uniqueness is still enforced by the
// store; this loop only makes collisions unlikely at insert time.
func (l *Linker) uniqueUsername(ctx context.Context, email string) (string, error) {
	base := strings.ToLower(strings.SplitN(email, "@", 2)[0])
	base = sanitizeUsername(base)

	candidate := base
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		taken, err := l.store.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}

		suffix, err := randomSuffix()
		if err != nil {
			return "", err
		}
		candidate = base + "_" + suffix
	}
	return "", fmt.Errorf("generating username for %s: exhausted %d attempts", email, maxUsernameAttempts)
}

// reload fetches the identity after an in-place link.
func (l *Linker) reload(ctx context.Context, id string) (*Identity, Resolution, error) {
	fresh, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, ResolvedExisting, err
	}
	return fresh, ResolvedLinked, nil
}

// sanitizeUsername strips characters outside the allowed username alphabet.
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "member"
	}
	out := b.String()
	if len(out) > maxUsernameLength-8 {
		out = out[:maxUsernameLength-8] // leave room for a suffix
	}
	return out
}

// randomSuffix returns a short random hex string for username de-collision.
func randomSuffix() (string, error) {
	b := make([]byte, usernameSuffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating username suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// splitName derives first/last name fields from the assertion, preferring
// the provider's structured given/family names.
func splitName(ext *ExternalIdentity) (first, last string) {
	if ext.GivenName != "" {
		return ext.GivenName, ext.FamilyName
	}
	parts := strings.Fields(ext.Name)
	switch len(parts) {
	case 0:
		return "Member", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// errorsIsNotFound reports whether the store signalled a missing identity.
func errorsIsNotFound(err error) bool {
	return errors.Is(err, ErrIdentityNotFound)
}
