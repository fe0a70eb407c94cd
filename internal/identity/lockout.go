package identity

import (
	"context"
	"time"
)

// IsLocked reports whether the identity's lock is logically active: the lock
// flag is set and the lock deadline is still in the future. A set flag with
// an elapsed deadline counts as unlocked.
//
// The gateway checks this before touching the password hash, so a locked
// account fails fast without leaking whether the password was correct. On
// any successful authentication both fields are cleared unconditionally by
// the store's login bookkeeping.
func IsLocked(id *Identity, now time.Time) bool {
	return id.AccountLocked && id.LockUntil != nil && id.LockUntil.After(now)
}

// FailurePolicy is invoked by the gateway after a failed password check.
// It is the extension point for threshold-based lockout: an implementation
// may count failures and set the identity's lock fields. The default policy
// does nothing: lock state is honoured and cleared but never set here.
type FailurePolicy interface {
	OnAuthFailure(ctx context.Context, id *Identity)
}

// NoopFailurePolicy ignores authentication failures.
type NoopFailurePolicy struct{}

// OnAuthFailure does nothing.
func (NoopFailurePolicy) OnAuthFailure(context.Context, *Identity) {}
