package api

import (
	"encoding/json"
	"net/http"

	"github.com/gatherly-app/gatherly-auth/internal/identity"
)

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info"`
}

// loginRequest is the request body for POST /auth/login. Login matches
// email, username, or phone.
type loginRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info"`
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout.
// Refresh tokens travel in the body, never in URLs.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceInfo   string `json:"device_info"`
}

// googleLoginRequest is the request body for POST /auth/google.
type googleLoginRequest struct {
	IDToken    string `json:"id_token"`
	DeviceInfo string `json:"device_info"`
}

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// handleRegister creates a local account and signs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "username, email, and password are required")
		return
	}
	if !identity.IsValidUsername(req.Username) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "username may contain letters, digits, dots, hyphens, and underscores (max 64)")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "password must be at least 8 characters")
		return
	}

	result, err := s.identity.Register(r.Context(), identity.RegisterInput{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
	}, req.DeviceInfo)
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleLogin verifies a password credential and establishes a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "login and password are required")
		return
	}

	result, err := s.identity.Login(r.Context(), identity.Credentials{
		Login:      req.Login,
		Password:   req.Password,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRefresh exchanges a refresh token for a new access/refresh pair.
// The presented token is consumed whether or not the exchange succeeds.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "refresh_token is required")
		return
	}

	result, err := s.identity.Refresh(r.Context(), req.RefreshToken, req.DeviceInfo)
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleLogout revokes the session behind the presented refresh token.
// Idempotent: an unknown token still returns 204.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.identity.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// handleGoogleLogin exchanges a Google ID token for a platform session,
// creating or linking the account as needed.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.IDToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "id_token is required")
		return
	}

	result, err := s.identity.FederatedLogin(r.Context(), req.IDToken, req.DeviceInfo)
	if err != nil {
		s.writeIdentityError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.IsNewAccount {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
