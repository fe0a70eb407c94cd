package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gatherly-app/gatherly-auth/internal/identity"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeLocked       = "account_locked"
	ErrCodeUpstream     = "upstream_error"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeIdentityError maps identity gateway errors onto HTTP responses.
//
// Every handler funnels service errors through here so the mapping stays in
// one place. Messages come from the sentinel errors themselves, which are
// written to be safe for clients; wrapped internals are never exposed.
func (s *Server) writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *identity.DuplicateError

	switch {
	case errors.As(err, &dup):
		writeError(w, http.StatusConflict, ErrCodeConflict, dup.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeUnauthorized(w, identity.ErrInvalidCredentials.Error())
	case errors.Is(err, identity.ErrAccountLocked):
		writeError(w, http.StatusLocked, ErrCodeLocked, identity.ErrAccountLocked.Error())
	case errors.Is(err, identity.ErrInvalidOrExpired):
		writeUnauthorized(w, identity.ErrInvalidOrExpired.Error())
	case errors.Is(err, identity.ErrMissingToken):
		writeUnauthorized(w, identity.ErrMissingToken.Error())
	case errors.Is(err, identity.ErrTokenInvalid):
		writeUnauthorized(w, identity.ErrTokenInvalid.Error())
	case errors.Is(err, identity.ErrTokenExpired):
		writeUnauthorized(w, identity.ErrTokenExpired.Error())
	case errors.Is(err, identity.ErrIdentityInactive):
		writeUnauthorized(w, identity.ErrIdentityInactive.Error())
	case errors.Is(err, identity.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, identity.ErrForbidden.Error())
	case errors.Is(err, identity.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, identity.ErrIdentityNotFound.Error())
	case errors.Is(err, identity.ErrInvalidAssertion),
		errors.Is(err, identity.ErrUnverifiedEmail):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, identity.ErrVerificationFailed):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, identity.ErrVerificationFailed.Error())
	case errors.Is(err, identity.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, identity.ErrStoreUnavailable.Error())
	default:
		s.logger.Error("unhandled identity error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
		writeInternalError(w, "internal server error")
	}
}
