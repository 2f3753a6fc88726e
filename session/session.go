// Package session establishes the authenticated HTTP session every
// remote call depends on.
//
// A Session is created once, before any command logic runs, and is
// passed by reference into the API client. It holds the tenant/stage
// base URL and a bearer token that is valid for the whole run; the
// token is never refreshed mid-run.
//
// Token sources, in order:
//
//  1. A pre-supplied access token (flag or NS_ACCESS_TOKEN). Its JWT
//     payload is decoded and the exp claim checked against the clock;
//     an expired token is rejected before any work starts.
//  2. A cached token from a previous password-grant login for the same
//     tenant/stage (see the settings package).
//  3. A password grant against POST /v0/token using username/password.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tplsync/tplsync/settings"
)

// serviceDomain is the remote service's DNS suffix; the full host is
// <tenant>.<stage>.<serviceDomain>.
const serviceDomain = "newstore.net"

// tokenPath is the password-grant endpoint.
const tokenPath = "/v0/token"

// Fatal error classes. Both abort the process before any pipeline work
// begins; callers distinguish them with errors.Is.
var (
	// ErrConfiguration means a required setting (tenant, stage,
	// credentials) is missing.
	ErrConfiguration = errors.New("missing required setting")
	// ErrAuth means the token is missing, expired, or was rejected.
	ErrAuth = errors.New("authentication failed")
)

// Session is the read-only shared state for all remote calls in a run.
type Session struct {
	// BaseURL is https://<tenant>.<stage>.<domain>, no trailing slash.
	BaseURL string
	// Token is the bearer token sent with every request.
	Token string
}

// BaseURL returns the service base URL for a tenant/stage pair.
func BaseURL(tenant, stage string) string {
	return fmt.Sprintf("https://%s.%s.%s", tenant, stage, serviceDomain)
}

// New validates the resolved settings and returns an authenticated
// session. Missing tenant/stage/credentials yield ErrConfiguration; a
// bad or expired token yields ErrAuth.
func New(ctx context.Context, s settings.Settings) (*Session, error) {
	if s.Tenant == "" {
		return nil, fmt.Errorf("%w: tenant", ErrConfiguration)
	}
	if s.Stage == "" {
		return nil, fmt.Errorf("%w: stage", ErrConfiguration)
	}

	sess := &Session{BaseURL: BaseURL(s.Tenant, s.Stage)}

	if s.AccessToken != "" {
		exp, err := tokenExpiry(s.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		if exp != 0 && time.Now().Unix() >= exp {
			return nil, fmt.Errorf("%w: access token is expired", ErrAuth)
		}
		sess.Token = s.AccessToken
		return sess, nil
	}

	if cached := settings.CachedToken(s.Tenant, s.Stage); cached != "" {
		sess.Token = cached
		return sess, nil
	}

	if s.Username == "" {
		return nil, fmt.Errorf("%w: username", ErrConfiguration)
	}
	if s.Password == "" {
		return nil, fmt.Errorf("%w: password", ErrConfiguration)
	}

	token, expiresIn, err := authenticate(ctx, sess.BaseURL, s.Username, s.Password)
	if err != nil {
		return nil, err
	}
	sess.Token = token

	var expires int64
	if expiresIn > 0 {
		expires = time.Now().Unix() + int64(expiresIn)
	}
	// Cache failures are not fatal; the login already succeeded.
	_ = settings.CacheToken(s.Tenant, s.Stage, token, expires)

	return sess, nil
}

// ---------------------------------------------------------------------------
// Password grant
// ---------------------------------------------------------------------------

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// authenticate exchanges username/password for an access token.
func authenticate(ctx context.Context, baseURL, username, password string) (string, int, error) {
	body, err := json.Marshal(struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		GrantType string `json:"grant_type"`
	}{
		Username:  username,
		Password:  password,
		GrantType: "password",
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading response: %v", ErrAuth, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var ar authResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return "", 0, fmt.Errorf("%w: parsing token response: %v", ErrAuth, err)
	}
	if ar.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token endpoint returned no access_token", ErrAuth)
	}

	return ar.AccessToken, ar.ExpiresIn, nil
}

// ---------------------------------------------------------------------------
// JWT expiry
// ---------------------------------------------------------------------------

// tokenExpiry decodes the payload segment of a JWT and returns its exp
// claim as a Unix timestamp. Returns 0 for tokens without an exp claim.
// The signature is not verified; the server does that. This check only
// avoids starting a run with a token that is already dead.
func tokenExpiry(token string) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("token is not a JWT")
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return 0, fmt.Errorf("decoding token payload: %w", err)
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return 0, fmt.Errorf("parsing token payload: %w", err)
	}
	return claims.Exp, nil
}
