package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultTokenInfoURL is Google's ID-token introspection endpoint.
const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// defaultVerifyTimeout bounds a verification round-trip so a slow provider
// surfaces as a failure rather than a hang.
const defaultVerifyTimeout = 10 * time.Second

// GoogleVerifierConfig configures the Google assertion verifier.
type GoogleVerifierConfig struct {
	// ClientIDs are the accepted token audiences (web, Android, iOS apps).
	ClientIDs []string

	// Endpoint overrides the tokeninfo URL, for tests.
	Endpoint string

	// HTTPClient overrides the HTTP client, for tests.
	HTTPClient *http.Client
}

// GoogleVerifier verifies Google ID tokens against the tokeninfo endpoint.
//
// It is a constructed dependency, injected into the gateway at startup;
// there is no process-wide client instance.
type GoogleVerifier struct {
	clientIDs  []string
	endpoint   string
	httpClient *http.Client
}

// NewGoogleVerifier creates a Google ID-token verifier.
func NewGoogleVerifier(cfg GoogleVerifierConfig) *GoogleVerifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultTokenInfoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultVerifyTimeout}
	}
	return &GoogleVerifier{
		clientIDs:  cfg.ClientIDs,
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
}

// tokenInfoResponse is the subset of the tokeninfo payload we consume.
// Google returns email_verified as the string "true"/"false".
type tokenInfoResponse struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// Verify checks a raw Google ID token and returns the asserted identity.
//
// Malformed tokens fail with ErrInvalidAssertion before any network call;
// provider-side rejections (bad signature, expired, wrong audience) fail
// with ErrVerificationFailed.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*ExternalIdentity, error) {
	if rawToken == "" || strings.Count(rawToken, ".") != 2 {
		return nil, fmt.Errorf("%w: not a JWT", ErrInvalidAssertion)
	}

	endpoint := v.endpoint + "?id_token=" + url.QueryEscape(rawToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrVerificationFailed, err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrVerificationFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: provider rejected token", ErrInvalidAssertion)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var info tokenInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", ErrVerificationFailed, err)
	}

	if info.Sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrVerificationFailed)
	}

	if !v.audienceAllowed(info.Aud) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrVerificationFailed)
	}

	return &ExternalIdentity{
		Provider:      ProviderGoogle,
		SubjectID:     info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified == "true",
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		Picture:       info.Picture,
	}, nil
}

// audienceAllowed checks the token audience against the configured client
// IDs. An empty configured list accepts any audience (dev mode).
func (v *GoogleVerifier) audienceAllowed(aud string) bool {
	if len(v.clientIDs) == 0 {
		return true
	}
	for _, id := range v.clientIDs {
		if id == aud {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ AssertionVerifier = (*GoogleVerifier)(nil)
