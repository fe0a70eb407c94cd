package identity

import (
	"context"
	"errors"
	"testing"
)

func googleAssertion(sub, email string) *ExternalIdentity {
	return &ExternalIdentity{
		Provider:      ProviderGoogle,
		SubjectID:     sub,
		Email:         email,
		EmailVerified: true,
		Name:          "Sam Rivera",
		GivenName:     "Sam",
		FamilyName:    "Rivera",
		Picture:       "https://pic.example/sam.png",
	}
}

func TestLinker_CreatesNewIdentity(t *testing.T) {
	store := NewStore(testDB(t))
	linker := NewLinker(store)
	ctx := context.Background()

	id, resolution, err := linker.Resolve(ctx, googleAssertion("goog-1", "sam@example.com"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution != ResolvedCreated {
		t.Errorf("resolution = %v, want ResolvedCreated", resolution)
	}
	if id.Provider != ProviderGoogle || id.ProviderID != "goog-1" {
		t.Errorf("provider = %s/%s, want google/goog-1", id.Provider, id.ProviderID)
	}
	if id.Username != "sam" {
		t.Errorf("username = %q, want sam (email local-part)", id.Username)
	}
	if id.FirstName != "Sam" || id.LastName != "Rivera" {
		t.Errorf("name = %q %q, want Sam Rivera", id.FirstName, id.LastName)
	}
	if !id.EmailVerified {
		t.Error("federated identity should be email-verified")
	}
	if len(id.Roles) != 1 || id.Roles[0] != RoleAttendee {
		t.Errorf("roles = %v, want [attendee]", id.Roles)
	}
	if id.PasswordHash != "" {
		t.Error("federated identity should have no local password")
	}
}

func TestLinker_Idempotent(t *testing.T) {
	store := NewStore(testDB(t))
	linker := NewLinker(store)
	ctx := context.Background()

	first, resolution, err := linker.Resolve(ctx, googleAssertion("goog-2", "pat@example.com"))
	if err != nil || resolution != ResolvedCreated {
		t.Fatalf("first Resolve() = %v, err %v", resolution, err)
	}

	second, resolution, err := linker.Resolve(ctx, googleAssertion("goog-2", "pat@example.com"))
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if resolution != ResolvedExisting {
		t.Errorf("second resolution = %v, want ResolvedExisting", resolution)
	}
	if second.ID != first.ID {
		t.Errorf("second resolve = %s, want %s", second.ID, first.ID)
	}
}

func TestLinker_LinksLocalAccount(t *testing.T) {
	store := NewStore(testDB(t))
	linker := NewLinker(store)
	ctx := context.Background()

	local := seedIdentity(t, store, "robin", "robin@example.com", "pw-robin")

	ext := googleAssertion("goog-3", "robin@example.com")
	id, resolution, err := linker.Resolve(ctx, ext)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution != ResolvedLinked {
		t.Errorf("resolution = %v, want ResolvedLinked", resolution)
	}
	if id.ID != local.ID {
		t.Errorf("linked identity = %s, want %s", id.ID, local.ID)
	}
	if id.Provider != ProviderGoogle || id.ProviderID != "goog-3" {
		t.Errorf("provider = %s/%s, want google/goog-3", id.Provider, id.ProviderID)
	}
	if id.PasswordHash == "" {
		t.Error("linking must preserve the local password hash")
	}

	// A second resolve of the now-linked account is a plain lookup.
	_, resolution, err = linker.Resolve(ctx, ext)
	if err != nil {
		t.Fatalf("repeat Resolve() error = %v", err)
	}
	if resolution != ResolvedExisting {
		t.Errorf("repeat resolution = %v, want ResolvedExisting", resolution)
	}
}

func TestLinker_UnverifiedEmail(t *testing.T) {
	store := NewStore(testDB(t))
	linker := NewLinker(store)

	ext := googleAssertion("goog-4", "shady@example.com")
	ext.EmailVerified = false

	_, _, err := linker.Resolve(context.Background(), ext)
	if !errors.Is(err, ErrUnverifiedEmail) {
		t.Fatalf("Resolve() error = %v, want ErrUnverifiedEmail", err)
	}

	// No identity was created.
	if taken, _ := store.UsernameTaken(context.Background(), "shady"); taken {
		t.Error("unverified assertion must not create an identity")
	}
}

func TestLinker_MissingFields(t *testing.T) {
	linker := NewLinker(NewStore(testDB(t)))
	ctx := context.Background()

	noSub := googleAssertion("", "x@example.com")
	if _, _, err := linker.Resolve(ctx, noSub); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("missing subject error = %v, want ErrInvalidAssertion", err)
	}

	noEmail := googleAssertion("goog-5", "")
	if _, _, err := linker.Resolve(ctx, noEmail); !errors.Is(err, ErrInvalidAssertion) {
		t.Errorf("missing email error = %v, want ErrInvalidAssertion", err)
	}
}

func TestLinker_UsernameCollision(t *testing.T) {
	store := NewStore(testDB(t))
	linker := NewLinker(store)
	ctx := context.Background()

	// Claim the obvious username first.
	seedIdentity(t, store, "taylor", "taylor@other.org", "pw")

	id, resolution, err := linker.Resolve(ctx, googleAssertion("goog-6", "taylor@example.com"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution != ResolvedCreated {
		t.Fatal("distinct email should create a new identity")
	}
	if id.Username == "taylor" {
		t.Error("colliding username should get a de-collision suffix")
	}
	if !IsValidUsername(id.Username) {
		t.Errorf("generated username %q is not valid", id.Username)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name  string
		ext   ExternalIdentity
		first string
		last  string
	}{
		{"structured", ExternalIdentity{GivenName: "Ana", FamilyName: "Lima", Name: "ignored"}, "Ana", "Lima"},
		{"full name only", ExternalIdentity{Name: "Ana Maria Lima"}, "Ana", "Maria Lima"},
		{"single word", ExternalIdentity{Name: "Cher"}, "Cher", ""},
		{"empty", ExternalIdentity{}, "Member", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := splitName(&tt.ext)
			if first != tt.first || last != tt.last {
				t.Errorf("splitName() = %q %q, want %q %q", first, last, tt.first, tt.last)
			}
		})
	}
}
