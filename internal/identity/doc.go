// Package identity provides authentication and session lifecycle management
// for the Gatherly platform.
//
// It implements:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Short-lived stateless JWT access tokens (HS256)
//   - Opaque long-lived refresh secrets with SHA-256 server-side hash storage
//   - Single-use refresh rotation with per-identity atomicity
//   - Per-device session tracking with lazy expiry pruning
//   - Account lockout checks with a pluggable failure policy
//   - Federated (Google) sign-in with create-or-link reconciliation
//
// Refresh secrets are returned to the caller exactly once; only their hashes
// are persisted. A presented secret is hashed and matched against active
// sessions, and every successful refresh removes the consumed session in the
// same transaction that records its replacement, so a replayed secret always
// fails.
package identity
