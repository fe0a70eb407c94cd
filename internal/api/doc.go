// Package api implements the HTTP REST API for Gatherly Auth.
//
// This package provides:
//   - REST endpoints for registration, login, token refresh, and logout
//   - Federated sign-in (Google ID token exchange)
//   - Bearer-token authorisation middleware with role and permission gates
//   - Profile and active-session endpoints for the authenticated identity
//   - Admin access to the audit trail
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between Gatherly's clients (web, mobile) and the
// identity gateway. Handlers decode transport concerns and delegate every
// decision to the identity service; the central error mapper translates the
// service's sentinel errors into HTTP statuses so handlers stay thin.
//
// # Security
//
// Access tokens are HS256 JWTs presented as Bearer credentials. Refresh
// tokens are opaque and travel only in request bodies, never in URLs.
// Authentication failures are deliberately uniform: the API never reveals
// whether a login exists.
//
// # Graceful Degradation
//
// Event publishing and activity recording are optional collaborators of the
// identity gateway; the API works unchanged when they are absent.
package api
