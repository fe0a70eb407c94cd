package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes.
const (
	// defaultAccessTTLMinutes is the access-token lifetime when not configured.
	defaultAccessTTLMinutes = 15

	// refreshSecretBytes is the entropy of an opaque refresh secret (384-bit).
	refreshSecretBytes = 48
)

// Claims extends JWT registered claims with Gatherly identity fields.
// Access tokens are stateless: everything the authorisation gate needs for
// role checks travels in the token itself.
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Roles   []Role `json:"roles"`
	Picture string `json:"picture,omitempty"`
}

// Codec signs and verifies access tokens with a server-held HS256 secret.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
}

// NewCodec creates a token codec. ttlMinutes <= 0 selects the 15-minute default.
func NewCodec(secret string, ttlMinutes int) *Codec {
	if ttlMinutes <= 0 {
		ttlMinutes = defaultAccessTTLMinutes
	}
	return &Codec{
		secret:    []byte(secret),
		accessTTL: time.Duration(ttlMinutes) * time.Minute,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// IssueAccessToken creates a signed JWT for the identity, carrying its
// current display name, email, roles, and profile picture.
func (c *Codec) IssueAccessToken(id *Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
			ID:        uuid.NewString(),
		},
		Name:    id.DisplayName(),
		Email:   id.Email,
		Roles:   id.Roles,
		Picture: id.ProfilePicture,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates a JWT access token and returns its claims.
// An expired token yields ErrTokenExpired; a bad signature, wrong algorithm,
// or malformed token yields ErrTokenInvalid.
func (c *Codec) ParseAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if len(claims.Roles) == 0 {
		return nil, fmt.Errorf("%w: missing roles", ErrTokenInvalid)
	}

	return claims, nil
}

// NewRefreshSecret creates a cryptographically random opaque refresh secret,
// URL-safe encoded. The raw secret is returned to the client exactly once;
// only its hash is ever persisted.
func NewRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret computes the SHA-256 hash of a raw refresh secret for storage
// and lookup. Deterministic: the same secret always maps to the same hash.
func HashSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
