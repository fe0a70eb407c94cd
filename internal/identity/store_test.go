package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "alice", "alice@example.com", "pw-alice")
	if id.ID == "" {
		t.Fatal("CreateIdentity() should assign an ID")
	}

	got, err := store.GetByID(ctx, id.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Username != "alice" || got.Email != "alice@example.com" {
		t.Errorf("got %q/%q, want alice/alice@example.com", got.Username, got.Email)
	}
	if len(got.Roles) != 1 || got.Roles[0] != RoleAttendee {
		t.Errorf("roles = %v, want [attendee]", got.Roles)
	}
	if got.PasswordHash == "" {
		t.Error("password hash should round-trip")
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	store := NewStore(testDB(t))

	_, err := store.GetByID(context.Background(), "usr-missing")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("GetByID() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestStore_CreateWithFirstSession(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	raw, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret() error = %v", err)
	}
	session := &Session{
		TokenHash: HashSecret(raw),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	id := &Identity{
		Username: "bob",
		Email:    "bob@example.com",
		Roles:    []Role{RoleAttendee},
		Provider: ProviderLocal,
		IsActive: true,
	}
	if err := store.CreateIdentity(ctx, id, session); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	owner, err := store.FindBySessionHash(ctx, HashSecret(raw))
	if err != nil {
		t.Fatalf("FindBySessionHash() error = %v", err)
	}
	if owner.ID != id.ID {
		t.Errorf("session owner = %s, want %s", owner.ID, id.ID)
	}
}

func TestStore_DuplicateFields(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	first := &Identity{
		Username: "carol",
		Email:    "carol@example.com",
		Phone:    "+4477001",
		Roles:    []Role{RoleAttendee},
		Provider: ProviderLocal,
		IsActive: true,
	}
	if err := store.CreateIdentity(ctx, first, nil); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	tests := []struct {
		name      string
		identity  Identity
		wantField string
	}{
		{"email", Identity{Username: "other1", Email: "carol@example.com"}, "email"},
		{"username", Identity{Username: "carol", Email: "other1@example.com"}, "username"},
		{"phone", Identity{Username: "other2", Email: "other2@example.com", Phone: "+4477001"}, "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.identity
			id.Roles = []Role{RoleAttendee}
			id.Provider = ProviderLocal
			id.IsActive = true

			err := store.CreateIdentity(ctx, &id, nil)
			var dup *DuplicateError
			if !errors.As(err, &dup) {
				t.Fatalf("CreateIdentity() error = %v, want DuplicateError", err)
			}
			if dup.Field != tt.wantField {
				t.Errorf("colliding field = %q, want %q", dup.Field, tt.wantField)
			}
			if !errors.Is(err, ErrDuplicateIdentity) {
				t.Error("DuplicateError should match ErrDuplicateIdentity")
			}
		})
	}
}

func TestStore_FindByLogin(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := &Identity{
		Username: "dave",
		Email:    "dave@example.com",
		Phone:    "+4477002",
		Roles:    []Role{RoleAttendee},
		Provider: ProviderLocal,
		IsActive: true,
	}
	if err := store.CreateIdentity(ctx, id, nil); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	for _, login := range []string{"dave@example.com", "DAVE@EXAMPLE.COM", "dave", "Dave", "+4477002"} {
		got, err := store.FindByLogin(ctx, login)
		if err != nil {
			t.Fatalf("FindByLogin(%q) error = %v", login, err)
		}
		if got.ID != id.ID {
			t.Errorf("FindByLogin(%q) = %s, want %s", login, got.ID, id.ID)
		}
	}

	if _, err := store.FindByLogin(ctx, "nobody@example.com"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("FindByLogin() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestStore_FindConflict_Priority(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	a := &Identity{Username: "erin", Email: "erin@example.com", Phone: "+4477003",
		Roles: []Role{RoleAttendee}, Provider: ProviderLocal, IsActive: true}
	if err := store.CreateIdentity(ctx, a, nil); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	// All three collide: email wins.
	field, err := store.FindConflict(ctx, "erin@example.com", "erin", "+4477003")
	if err != nil {
		t.Fatalf("FindConflict() error = %v", err)
	}
	if field != "email" {
		t.Errorf("conflict field = %q, want email (highest priority)", field)
	}

	// Username and phone collide: username wins.
	field, err = store.FindConflict(ctx, "fresh@example.com", "erin", "+4477003")
	if err != nil {
		t.Fatalf("FindConflict() error = %v", err)
	}
	if field != "username" {
		t.Errorf("conflict field = %q, want username", field)
	}

	// Nothing collides.
	field, err = store.FindConflict(ctx, "fresh@example.com", "fresh", "+4477999")
	if err != nil {
		t.Fatalf("FindConflict() error = %v", err)
	}
	if field != "" {
		t.Errorf("conflict field = %q, want empty", field)
	}
}

func TestStore_LinkProvider(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "frank", "frank@example.com", "pw-frank")

	if err := store.LinkProvider(ctx, id.ID, ProviderGoogle, "goog-123", "https://pic.example/f.png"); err != nil {
		t.Fatalf("LinkProvider() error = %v", err)
	}

	got, err := store.GetByID(ctx, id.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Provider != ProviderGoogle || got.ProviderID != "goog-123" {
		t.Errorf("provider = %s/%s, want google/goog-123", got.Provider, got.ProviderID)
	}
	if !got.EmailVerified {
		t.Error("linking should mark the email verified")
	}
	if got.ProfilePicture != "https://pic.example/f.png" {
		t.Errorf("picture = %q, want backfilled", got.ProfilePicture)
	}
	if got.PasswordHash == "" {
		t.Error("linking must preserve the local password hash")
	}
}

func TestStore_LinkProvider_KeepsExistingPicture(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := &Identity{
		Username:       "grace",
		Email:          "grace@example.com",
		ProfilePicture: "https://pic.example/original.png",
		Roles:          []Role{RoleAttendee},
		Provider:       ProviderLocal,
		IsActive:       true,
	}
	if err := store.CreateIdentity(ctx, id, nil); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	if err := store.LinkProvider(ctx, id.ID, ProviderGoogle, "goog-456", "https://pic.example/new.png"); err != nil {
		t.Fatalf("LinkProvider() error = %v", err)
	}

	got, _ := store.GetByID(ctx, id.ID)
	if got.ProfilePicture != "https://pic.example/original.png" {
		t.Errorf("picture = %q, existing picture should not be overwritten", got.ProfilePicture)
	}
}

func TestStore_LinkProvider_NotFound(t *testing.T) {
	store := NewStore(testDB(t))

	err := store.LinkProvider(context.Background(), "usr-missing", ProviderGoogle, "goog-1", "")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("LinkProvider() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestStore_AppendSession_MarkLogin(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	lockUntil := time.Now().UTC().Add(time.Hour)
	id := &Identity{
		Username:      "heidi",
		Email:         "heidi@example.com",
		Roles:         []Role{RoleAttendee},
		Provider:      ProviderLocal,
		IsActive:      true,
		AccountLocked: true,
		LockUntil:     &lockUntil,
	}
	if err := store.CreateIdentity(ctx, id, nil); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}

	s := &Session{TokenHash: HashSecret("raw-heidi"), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if err := store.AppendSession(ctx, id.ID, s, true); err != nil {
		t.Fatalf("AppendSession() error = %v", err)
	}

	got, _ := store.GetByID(ctx, id.ID)
	if got.AccountLocked || got.LockUntil != nil {
		t.Error("markLogin should clear the account lock")
	}
	if got.LastLoginAt == nil {
		t.Error("markLogin should set last_login_at")
	}
}

func TestStore_AppendSession_PrunesExpired(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "ivan", "ivan@example.com", "pw-ivan")

	expired := seedSession(t, store, id.ID, time.Now().UTC().Add(-time.Hour))
	active := seedSession(t, store, id.ID, time.Now().UTC().Add(time.Hour))

	// The next mutation prunes the expired row.
	seedSession(t, store, id.ID, time.Now().UTC().Add(2*time.Hour))

	if _, err := store.FindBySessionHash(ctx, HashSecret(expired)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session lookup error = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.FindBySessionHash(ctx, HashSecret(active)); err != nil {
		t.Errorf("active session should survive pruning, got %v", err)
	}

	sessions, err := store.ListSessions(ctx, id.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("active sessions = %d, want 2", len(sessions))
	}
}

func TestStore_RotateSession(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "judy", "judy@example.com", "pw-judy")
	oldRaw := seedSession(t, store, id.ID, time.Now().UTC().Add(time.Hour))

	newRaw, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret() error = %v", err)
	}
	replacement := &Session{TokenHash: HashSecret(newRaw), ExpiresAt: time.Now().UTC().Add(time.Hour)}

	owner, err := store.RotateSession(ctx, HashSecret(oldRaw), replacement)
	if err != nil {
		t.Fatalf("RotateSession() error = %v", err)
	}
	if owner.ID != id.ID {
		t.Errorf("rotation owner = %s, want %s", owner.ID, id.ID)
	}

	// Consumed hash is gone.
	if _, err := store.FindBySessionHash(ctx, HashSecret(oldRaw)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("consumed session lookup error = %v, want ErrSessionNotFound", err)
	}
	// Replacement is live.
	if _, err := store.FindBySessionHash(ctx, HashSecret(newRaw)); err != nil {
		t.Errorf("replacement session lookup error = %v", err)
	}
}

func TestStore_RotateSession_SingleUse(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "kate", "kate@example.com", "pw-kate")
	oldRaw := seedSession(t, store, id.ID, time.Now().UTC().Add(time.Hour))

	first := &Session{TokenHash: HashSecret("replacement-1"), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if _, err := store.RotateSession(ctx, HashSecret(oldRaw), first); err != nil {
		t.Fatalf("first RotateSession() error = %v", err)
	}

	second := &Session{TokenHash: HashSecret("replacement-2"), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	_, err := store.RotateSession(ctx, HashSecret(oldRaw), second)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second rotation error = %v, want ErrSessionNotFound (single use)", err)
	}
}

func TestStore_RotateSession_Expired(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "liam", "liam@example.com", "pw-liam")
	expired := seedSession(t, store, id.ID, time.Now().UTC().Add(-time.Minute))

	replacement := &Session{TokenHash: HashSecret("replacement"), ExpiresAt: time.Now().UTC().Add(time.Hour)}
	_, err := store.RotateSession(ctx, HashSecret(expired), replacement)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired rotation error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_RevokeSession_Idempotent(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "mary", "mary@example.com", "pw-mary")
	raw := seedSession(t, store, id.ID, time.Now().UTC().Add(time.Hour))

	if err := store.RevokeSession(ctx, HashSecret(raw)); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	// Revoking again succeeds silently.
	if err := store.RevokeSession(ctx, HashSecret(raw)); err != nil {
		t.Errorf("second RevokeSession() error = %v, want nil", err)
	}
	// And revoking a never-issued token succeeds too.
	if err := store.RevokeSession(ctx, HashSecret("never-issued")); err != nil {
		t.Errorf("unknown RevokeSession() error = %v, want nil", err)
	}
}

func TestStore_ListSessions_Order(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	id := seedIdentity(t, store, "nina", "nina@example.com", "pw-nina")

	base := time.Now().UTC().Truncate(time.Second)
	for i, device := range []string{"phone", "laptop", "tablet"} {
		s := &Session{
			TokenHash:  HashSecret("nina-" + device),
			DeviceInfo: device,
			ExpiresAt:  base.Add(time.Hour),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendSession(ctx, id.ID, s, false); err != nil {
			t.Fatalf("AppendSession(%s) error = %v", device, err)
		}
	}

	sessions, err := store.ListSessions(ctx, id.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(sessions))
	}
	for i, want := range []string{"phone", "laptop", "tablet"} {
		if sessions[i].DeviceInfo != want {
			t.Errorf("sessions[%d].DeviceInfo = %q, want %q (issuance order)", i, sessions[i].DeviceInfo, want)
		}
	}
}

func TestStore_ListSessions_Empty(t *testing.T) {
	store := NewStore(testDB(t))

	id := seedIdentity(t, store, "omar", "omar@example.com", "pw-omar")

	sessions, err := store.ListSessions(context.Background(), id.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if sessions == nil || len(sessions) != 0 {
		t.Errorf("sessions = %v, want empty non-nil slice", sessions)
	}
}
